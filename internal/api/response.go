package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/middleware"
	"go.uber.org/zap"
)

// Response 成功响应
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// respondError 按错误码返回对应的HTTP状态
func respondError(c *gin.Context, err error) {
	appErr := errors.Wrap(err, errors.ErrUnknown)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.GetModuleLogger("api").Warn("请求失败",
			zap.String("path", c.FullPath()),
			zap.Int("code", int(appErr.Code)),
			zap.Error(err))
	}
	// 调用栈只写日志
	resp := *appErr
	resp.Stack = nil
	c.JSON(status, errors.NewErrorResponse(&resp, middleware.GetRequestID(c)))
}

func badRequest(c *gin.Context, err error) {
	respondError(c, errors.New(errors.ErrInvalidParam, err.Error()))
}
