package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/repository"
	"github.com/wfunc/nexstar-hc/internal/service"
	"github.com/wfunc/nexstar-hc/internal/utils"
)

type apiResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
	Error     *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APITestSuite 基于模拟手控器的接口测试
type APITestSuite struct {
	suite.Suite
	sim      *hardware.Simulator
	services *service.Services
	router   *Router
}

func (suite *APITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (suite *APITestSuite) SetupTest() {
	cfg := config.Default()
	cfg.Serial.Port = "sim"
	cfg.Serial.ExchangeTimeout = 200 * time.Millisecond
	cfg.Serial.ResyncWindow = 50 * time.Millisecond

	suite.sim = hardware.NewSimulator()
	db := repository.SetupTestDB(suite.T())
	suite.services = service.NewServices(cfg, suite.sim.Opener(), db)
	suite.router = NewRouter(cfg, suite.services, db, nil)
}

func (suite *APITestSuite) TearDownTest() {
	suite.services.Close()
}

func (suite *APITestSuite) do(method, target string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(suite.T(), err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func (suite *APITestSuite) connect() {
	w, resp := suite.do(http.MethodPost, "/api/v1/telescope/connect", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	require.True(suite.T(), resp.Success)
}

func decodeData(t *testing.T, resp apiResponse) map[string]interface{} {
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data
}

func (suite *APITestSuite) TestHealth() {
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(suite.T(), http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(suite.T(), "healthy", body["status"])
	assert.Equal(suite.T(), "disconnected", body["telescope"])
	assert.Equal(suite.T(), "ok", body["database"])
}

func (suite *APITestSuite) TestConnectAndDisconnect() {
	w, resp := suite.do(http.MethodPost, "/api/v1/telescope/connect", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	data := decodeData(suite.T(), resp)
	assert.Equal(suite.T(), "connected", data["state"])
	assert.Equal(suite.T(), "sim", data["path"])

	w, resp = suite.do(http.MethodPost, "/api/v1/telescope/disconnect", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), "disconnected", decodeData(suite.T(), resp)["state"])
}

func (suite *APITestSuite) TestNotConnected() {
	w, resp := suite.do(http.MethodGet, "/api/v1/telescope/position", nil)
	assert.Equal(suite.T(), http.StatusConflict, w.Code)
	assert.False(suite.T(), resp.Success)
	require.NotNil(suite.T(), resp.Error)
	assert.Equal(suite.T(), 3004, resp.Error.Code)
	assert.NotEmpty(suite.T(), resp.RequestID)
}

func (suite *APITestSuite) TestStatus() {
	suite.connect()

	w, resp := suite.do(http.MethodGet, "/api/v1/telescope/status", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	data := decodeData(suite.T(), resp)
	assert.Equal(suite.T(), "connected", data["state"])
	assert.Equal(suite.T(), "4.21", data["version"])
	assert.Equal(suite.T(), "se45", data["model"])
	assert.Equal(suite.T(), "alt_az", data["tracking"])
}

func (suite *APITestSuite) TestPosition() {
	suite.connect()
	suite.sim.SetPosition(hardware.AzmAlt(90, 45))

	w, resp := suite.do(http.MethodGet, "/api/v1/telescope/position?precise=true", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	data := decodeData(suite.T(), resp)
	assert.Equal(suite.T(), "azm_alt", data["mode"])
	assert.InDelta(suite.T(), 90, data["first"], 1e-4)
	assert.InDelta(suite.T(), 45, data["second"], 1e-4)

	w, _ = suite.do(http.MethodGet, "/api/v1/telescope/position?mode=galactic", nil)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *APITestSuite) TestGotoWait() {
	suite.connect()

	w, resp := suite.do(http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{
		"mode":    "ra_dec",
		"first":   120.0,
		"second":  30.0,
		"precise": true,
		"wait":    true,
		"poll_ms": 10,
	})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	assert.Equal(suite.T(), true, decodeData(suite.T(), resp)["done"])

	w, resp = suite.do(http.MethodGet, "/api/v1/telescope/position?mode=ra_dec&precise=true", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	data := decodeData(suite.T(), resp)
	assert.InDelta(suite.T(), 120, data["first"], 1e-4)
	assert.InDelta(suite.T(), 30, data["second"], 1e-4)
}

func (suite *APITestSuite) TestGotoValidation() {
	suite.connect()

	w, resp := suite.do(http.MethodPost, "/api/v1/telescope/goto", map[string]interface{}{"first": 10.0})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
	require.NotNil(suite.T(), resp.Error)
	assert.Equal(suite.T(), 1001, resp.Error.Code)
}

func (suite *APITestSuite) TestTracking() {
	suite.connect()

	w, _ := suite.do(http.MethodPut, "/api/v1/telescope/tracking", map[string]string{"mode": "eq_north"})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	assert.Equal(suite.T(), hardware.TrackingEQNorth, suite.sim.Tracking())

	w, resp := suite.do(http.MethodGet, "/api/v1/telescope/tracking", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), "eq_north", decodeData(suite.T(), resp)["mode"])

	w, _ = suite.do(http.MethodPut, "/api/v1/telescope/tracking", map[string]string{"mode": "sideways"})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *APITestSuite) TestSlew() {
	suite.connect()

	w, _ := suite.do(http.MethodPost, "/api/v1/telescope/slew", map[string]interface{}{
		"device": "azm", "mode": "fixed", "rate": -5,
	})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	assert.Equal(suite.T(), -5, suite.sim.MotorFixedRate(hardware.DeviceAzmRAMotor))

	w, resp := suite.do(http.MethodGet, "/api/v1/telescope/devices/azm/slew-done", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), false, decodeData(suite.T(), resp)["done"])

	w, _ = suite.do(http.MethodPost, "/api/v1/telescope/slew", map[string]interface{}{
		"device": "azm", "mode": "fixed", "rate": 1.5,
	})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *APITestSuite) TestPassthrough() {
	suite.connect()

	w, resp := suite.do(http.MethodPost, "/api/v1/telescope/passthrough", map[string]interface{}{
		"device": "alt", "payload": "FE", "reply_len": 2,
	})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	data := decodeData(suite.T(), resp)
	assert.Equal(suite.T(), "alt_dec_motor", data["device"])
	assert.Equal(suite.T(), "070b", data["reply"])

	w, _ = suite.do(http.MethodPost, "/api/v1/telescope/passthrough", map[string]interface{}{
		"device": "alt", "payload": "zz",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *APITestSuite) TestSerialLogs() {
	suite.connect()
	w, _ := suite.do(http.MethodGet, "/api/v1/telescope/version", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	suite.services.Journal.Flush()

	w, resp := suite.do(http.MethodGet, "/api/v1/serial-logs/latest?command=get_version", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	data := decodeData(suite.T(), resp)
	assert.EqualValues(suite.T(), 1, data["count"])

	w, resp = suite.do(http.MethodGet, "/api/v1/serial-logs/events", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.EqualValues(suite.T(), 2, decodeData(suite.T(), resp)["total"])

	w, resp = suite.do(http.MethodPost, "/api/v1/serial-logs/cleanup", map[string]int{"retention_days": 0})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
	assert.False(suite.T(), resp.Success)
}

func (suite *APITestSuite) TestNoRoute() {
	w, resp := suite.do(http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
	require.NotNil(suite.T(), resp.Error)
	assert.Equal(suite.T(), 1002, resp.Error.Code)
}

func (suite *APITestSuite) TestOpenAPI() {
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi", nil))
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Header().Get("Content-Type"), "yaml")
	assert.Contains(suite.T(), w.Body.String(), "/api/v1/telescope/goto:")
	assert.Contains(suite.T(), w.Body.String(), "/api/v1/serial-logs/cleanup:")
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

func TestRouterAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Serial.Port = "sim"
	cfg.Security.JWT.Enabled = true
	cfg.Security.JWT.Secret = "router-secret"
	cfg.Security.JWT.Issuer = "nexstar-hc"

	sim := hardware.NewSimulator()
	services := service.NewServices(cfg, sim.Opener(), nil)
	defer services.Close()
	router := NewRouter(cfg, services, nil, nil)

	jwtManager := utils.NewJWTManager("router-secret", "nexstar-hc", time.Hour)
	observer, err := jwtManager.GenerateToken("watcher", utils.RoleObserver)
	require.NoError(t, err)
	operator, err := jwtManager.GenerateToken("alice", utils.RoleOperator)
	require.NoError(t, err)

	send := func(method, target, token string) int {
		req := httptest.NewRequest(method, target, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.GetEngine().ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send(http.MethodGet, "/api/v1/telescope/state", ""))
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/v1/telescope/state", observer))
	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "/api/v1/telescope/connect", observer))
	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/api/v1/telescope/connect", operator))
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/health", ""))

	// 未启用交互日志时不注册日志接口
	assert.Equal(t, http.StatusNotFound, send(http.MethodGet, "/api/v1/serial-logs/latest", operator))
}
