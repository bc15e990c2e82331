package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/middleware"
	"github.com/wfunc/nexstar-hc/internal/service"
	"github.com/wfunc/nexstar-hc/internal/utils"
	ws "github.com/wfunc/nexstar-hc/internal/websocket"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	services       *service.Services
	telescope      *TelescopeHandler
	serialLogs     *SerialLogAPI
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	cfg            *config.Config
}

// NewRouter 创建路由器。未启用交互日志时不注册日志接口，hub 为空时不提供WebSocket
func NewRouter(cfg *config.Config, services *service.Services, db *gorm.DB, hub *ws.Hub) *Router {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger())

	var jwtManager *utils.JWTManager
	if cfg.Security.JWT.Enabled {
		jwtManager = utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, jwtExpiry(cfg))
	}

	log := logger.GetModuleLogger("api")
	router := &Router{
		engine:         engine,
		db:             db,
		services:       services,
		telescope:      NewTelescopeHandler(services.Telescope),
		authMiddleware: middleware.NewAuthMiddleware(jwtManager),
		cfg:            cfg,
	}
	if services.Journal != nil {
		router.serialLogs = NewSerialLogAPI(services.Journal)
	}
	if hub != nil {
		router.wsHandler = NewWebSocketHandler(hub, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize, log)
	}

	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// 接口文档
	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	read := r.authMiddleware.RequireAuth()
	control := r.authMiddleware.RequireOperator()
	h := r.telescope

	v1 := r.engine.Group("/api/v1")
	{
		telescope := v1.Group("/telescope")
		telescope.Use(read)
		{
			// 连接管理
			telescope.GET("/state", h.GetState)
			telescope.POST("/connect", control, h.Connect)
			telescope.POST("/disconnect", control, h.Disconnect)

			// 状态查询
			telescope.GET("/status", h.GetStatus)
			telescope.GET("/position", h.GetPosition)
			telescope.GET("/goto", h.GetGotoInProgress)
			telescope.GET("/alignment", h.GetAlignment)
			telescope.GET("/version", h.GetVersion)
			telescope.GET("/model", h.GetModel)
			telescope.GET("/devices/:device/version", h.GetDeviceVersion)
			telescope.GET("/devices/:device/slew-done", h.GetSlewDone)

			// 指向控制
			telescope.POST("/goto", control, h.Goto)
			telescope.POST("/sync", control, h.Sync)
			telescope.POST("/cancel", control, h.CancelGoto)
			telescope.POST("/slew", control, h.Slew)
			telescope.POST("/passthrough", control, h.Passthrough)

			// 设置
			telescope.GET("/tracking", h.GetTracking)
			telescope.PUT("/tracking", control, h.SetTracking)
			telescope.GET("/location", h.GetLocation)
			telescope.PUT("/location", control, h.SetLocation)
			telescope.GET("/time", h.GetTime)
			telescope.PUT("/time", control, h.SetTime)
		}

		if r.serialLogs != nil {
			logs := v1.Group("")
			logs.Use(read)
			r.serialLogs.RegisterRoutes(logs, control)
		}
	}

	if r.wsHandler != nil {
		path := r.cfg.WebSocket.Path
		if path == "" {
			path = "/ws/status"
		}
		r.engine.GET(path, read, r.wsHandler.StatusWebSocket)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		respondError(c, errors.Newf(errors.ErrNotFound, "%s %s", c.Request.Method, c.Request.URL.Path))
	})
}

// healthCheck 健康检查，手控器未连接不算不健康
func (r *Router) healthCheck(c *gin.Context) {
	status := gin.H{
		"status":    "healthy",
		"telescope": r.services.Telescope.State(),
	}

	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "数据库不可用",
			})
			return
		}
		status["database"] = "ok"
	}

	c.JSON(http.StatusOK, status)
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func jwtExpiry(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Security.JWT.ExpireHours) * time.Hour
}
