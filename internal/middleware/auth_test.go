package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(m *AuthMiddleware) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/read", m.RequireAuth(), func(c *gin.Context) {
		operator, _ := GetOperator(c)
		c.JSON(http.StatusOK, gin.H{"operator": operator})
	})
	r.POST("/control", m.RequireOperator(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doRequest(r http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthDisabled(t *testing.T) {
	m := NewAuthMiddleware(nil)
	assert.False(t, m.Enabled())

	r := newTestEngine(m)
	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/read", nil).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(r, http.MethodPost, "/control", nil).Code)
}

func TestAuthRequired(t *testing.T) {
	manager := utils.NewJWTManager("secret", "nexstar-hc", time.Hour)
	r := newTestEngine(NewAuthMiddleware(manager))

	w := doRequest(r, http.MethodGet, "/read", map[string]string{"X-Request-ID": "req-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
		Error     struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, int(errors.ErrAuthentication), resp.Error.Code)

	w = doRequest(r, http.MethodGet, "/read", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthTokenSources(t *testing.T) {
	manager := utils.NewJWTManager("secret", "nexstar-hc", time.Hour)
	r := newTestEngine(NewAuthMiddleware(manager))

	token, err := manager.GenerateToken("alice", utils.RoleObserver)
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/read", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"operator":"alice"}`, w.Body.String())

	w = doRequest(r, http.MethodGet, "/read", map[string]string{"X-Access-Token": token})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/read?token="+token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 非GET请求不接受query令牌
	w = doRequest(r, http.MethodPost, "/control?token="+token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireOperator(t *testing.T) {
	manager := utils.NewJWTManager("secret", "nexstar-hc", time.Hour)
	r := newTestEngine(NewAuthMiddleware(manager))

	observer, err := manager.GenerateToken("bob", utils.RoleObserver)
	require.NoError(t, err)
	w := doRequest(r, http.MethodPost, "/control", map[string]string{"Authorization": "Bearer " + observer})
	assert.Equal(t, http.StatusForbidden, w.Code)

	operator, err := manager.GenerateToken("alice", utils.RoleOperator)
	require.NoError(t, err)
	w = doRequest(r, http.MethodPost, "/control", map[string]string{"Authorization": "Bearer " + operator})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), RequestLogger())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	w := doRequest(r, http.MethodGet, "/", nil)
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))

	w = doRequest(r, http.MethodGet, "/", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", w.Body.String())
}
