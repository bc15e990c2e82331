package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/models"
	"github.com/wfunc/nexstar-hc/internal/repository"
	"github.com/wfunc/nexstar-hc/internal/service"
)

// SerialLogAPI 交互日志API
type SerialLogAPI struct {
	service service.JournalService
}

// NewSerialLogAPI 创建交互日志API
func NewSerialLogAPI(service service.JournalService) *SerialLogAPI {
	return &SerialLogAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由，写操作使用 guard 保护
func (api *SerialLogAPI) RegisterRoutes(router *gin.RouterGroup, guard gin.HandlerFunc) {
	logs := router.Group("/serial-logs")
	{
		logs.GET("", api.QueryLogs)                           // 查询日志列表
		logs.GET("/latest", api.GetLatestLogs)                // 获取最新日志
		logs.GET("/stats", api.GetStats)                      // 获取统计信息
		logs.GET("/errors", api.GetErrorLogs)                 // 获取失败的交互
		logs.GET("/events", api.ListEvents)                   // 连接状态变化
		logs.GET("/requests/:request_id", api.GetByRequestID) // 单条交互
		logs.POST("/cleanup", guard, api.CleanupLogs)         // 清理旧日志
	}
}

// QueryLogs 查询日志列表
func (api *SerialLogAPI) QueryLogs(c *gin.Context) {
	query := &models.SerialLogQuery{}
	if err := c.ShouldBindQuery(query); err != nil {
		badRequest(c, err)
		return
	}
	if query.Limit <= 0 {
		query.Limit = 20
	}
	if query.Limit > 1000 {
		query.Limit = 1000
	}

	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetByRequestID 按请求ID获取单条交互
func (api *SerialLogAPI) GetByRequestID(c *gin.Context) {
	log, err := api.service.GetByRequestID(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, log)
}

// GetLatestLogs 获取最新日志
func (api *SerialLogAPI) GetLatestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	logs, err := api.service.GetLatest(c.Request.Context(), limit, c.Query("command"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

// GetStats 获取统计信息
func (api *SerialLogAPI) GetStats(c *gin.Context) {
	startTime, err := parseTimeQuery(c, "start_time")
	if err != nil {
		badRequest(c, err)
		return
	}
	endTime, err := parseTimeQuery(c, "end_time")
	if err != nil {
		badRequest(c, err)
		return
	}

	stats, err := api.service.GetStats(c.Request.Context(), startTime, endTime)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, stats)
}

// GetErrorLogs 获取失败的交互
func (api *SerialLogAPI) GetErrorLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := api.service.GetErrorLogs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

// ListEvents 分页列出连接事件
func (api *SerialLogAPI) ListEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	p := repository.NewPagination(page, pageSize)

	events, err := api.service.ListEvents(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"events":    events,
		"total":     p.Total,
		"page":      p.Page,
		"page_size": p.PageSize,
	})
}

// CleanupRequest 清理请求
type CleanupRequest struct {
	RetentionDays int `json:"retention_days" form:"retention_days"`
}

// CleanupLogs 清理超过保留天数的日志
func (api *SerialLogAPI) CleanupLogs(c *gin.Context) {
	req := CleanupRequest{RetentionDays: 30}
	var err error
	if c.ContentType() == binding.MIMEJSON {
		if c.Request.ContentLength > 0 {
			err = c.ShouldBindJSON(&req)
		}
	} else {
		err = c.ShouldBind(&req)
	}
	if err != nil {
		badRequest(c, err)
		return
	}
	if req.RetentionDays < 1 {
		respondError(c, errors.New(errors.ErrInvalidParam, "retention_days must be at least 1"))
		return
	}

	count, err := api.service.Cleanup(c.Request.Context(), req.RetentionDays)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"deleted":        count,
		"retention_days": req.RetentionDays,
	})
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
