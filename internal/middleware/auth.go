package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/utils"
)

const claimsKey = "claims"

// AuthMiddleware JWT认证中间件，未启用时放行全部请求
type AuthMiddleware struct {
	jwt     *utils.JWTManager
	enabled bool
}

// NewAuthMiddleware 创建认证中间件，jwt 为空时不做认证
func NewAuthMiddleware(jwt *utils.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:     jwt,
		enabled: jwt != nil,
	}
}

// Enabled 是否启用认证
func (m *AuthMiddleware) Enabled() bool {
	return m.enabled
}

// RequireAuth 需要有效令牌
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}
		if _, ok := m.authenticate(c); !ok {
			return
		}
		c.Next()
	}
}

// RequireOperator 需要操作员令牌，用于会改变手控器状态的接口
func (m *AuthMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}
		claims, ok := m.authenticate(c)
		if !ok {
			return
		}
		if !claims.CanControl() {
			abort(c, errors.Newf(errors.ErrPermissionDenied, "role %q cannot control the telescope", claims.Role))
			return
		}
		c.Next()
	}
}

// authenticate 验证令牌并写入上下文，失败时已中止请求
func (m *AuthMiddleware) authenticate(c *gin.Context) (*utils.JWTClaims, bool) {
	token := extractToken(c)
	if token == "" {
		abort(c, errors.New(errors.ErrAuthentication, "missing token"))
		return nil, false
	}

	claims, err := m.jwt.ValidateToken(token)
	if err != nil {
		appErr := errors.Wrap(err, errors.ErrTokenInvalid)
		abort(c, appErr)
		return nil, false
	}

	c.Set(claimsKey, claims)
	return claims, true
}

func abort(c *gin.Context, err *errors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus(), errors.NewErrorResponse(err, GetRequestID(c)))
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. Authorization: Bearer
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. X-Access-Token
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. Query参数，浏览器WebSocket无法设置请求头
	if c.Request.Method == http.MethodGet {
		if token := c.Query("token"); token != "" {
			return token
		}
	}

	return ""
}

// GetClaims 从上下文获取令牌信息
func GetClaims(c *gin.Context) (*utils.JWTClaims, bool) {
	if v, exists := c.Get(claimsKey); exists {
		if claims, ok := v.(*utils.JWTClaims); ok {
			return claims, true
		}
	}
	return nil, false
}

// GetOperator 从上下文获取操作员名称
func GetOperator(c *gin.Context) (string, bool) {
	if claims, ok := GetClaims(c); ok {
		return claims.Operator, true
	}
	return "", false
}
