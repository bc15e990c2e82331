package api

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/service"
)

const (
	defaultGotoTimeout = 2 * time.Minute
	defaultGotoPoll    = 500 * time.Millisecond
)

// TelescopeHandler 手控器操作接口
type TelescopeHandler struct {
	svc service.TelescopeService
}

// NewTelescopeHandler 创建手控器处理器
func NewTelescopeHandler(svc service.TelescopeService) *TelescopeHandler {
	return &TelescopeHandler{svc: svc}
}

// ConnectRequest 连接请求
type ConnectRequest struct {
	Path string `json:"path"`
}

// GotoRequest goto请求，First/Second 按 Mode 解释
type GotoRequest struct {
	Mode      hardware.CoordinateMode `json:"mode"`
	First     *float64                `json:"first" binding:"required"`
	Second    *float64                `json:"second" binding:"required"`
	Precise   bool                    `json:"precise"`
	Wait      bool                    `json:"wait"`
	TimeoutMs int                     `json:"timeout_ms"`
	PollMs    int                     `json:"poll_ms"`
}

// SyncRequest 同步请求，仅支持赤道坐标
type SyncRequest struct {
	RA      *float64 `json:"ra" binding:"required"`
	Dec     *float64 `json:"dec" binding:"required"`
	Precise bool     `json:"precise"`
}

// TrackingRequest 设置跟踪模式
type TrackingRequest struct {
	Mode *hardware.TrackingMode `json:"mode" binding:"required"`
}

// TimeRequest 设置时间，Time 为空时使用服务器当前时间
type TimeRequest struct {
	Time *time.Time `json:"time"`
	DST  bool       `json:"dst"`
}

// SlewRequest 转动请求。fixed 模式 rate 为 -9..9 档位，variable 模式为度/秒
type SlewRequest struct {
	Device string  `json:"device" binding:"required"`
	Mode   string  `json:"mode" binding:"required,oneof=fixed variable"`
	Rate   float64 `json:"rate"`
}

// PassthroughRequest 透传请求
type PassthroughRequest struct {
	Device   string `json:"device" binding:"required"`
	Payload  string `json:"payload" binding:"required"` // 十六进制，首字节为消息ID
	ReplyLen int    `json:"reply_len"`
}

func precision(precise bool) hardware.Precision {
	if precise {
		return hardware.PrecisionPrecise
	}
	return hardware.PrecisionStandard
}

// client 获取已连接的客户端，未连接时已写入错误响应
func (h *TelescopeHandler) client(c *gin.Context) (*hardware.Client, bool) {
	client, err := h.svc.Client()
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return client, true
}

// GetState 连接状态
func (h *TelescopeHandler) GetState(c *gin.Context) {
	respondOK(c, gin.H{
		"state": h.svc.State(),
		"path":  h.svc.Path(),
	})
}

// Connect 连接手控器
func (h *TelescopeHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := h.svc.Connect(req.Path); err != nil {
		respondError(c, err)
		return
	}
	h.GetState(c)
}

// Disconnect 断开手控器
func (h *TelescopeHandler) Disconnect(c *gin.Context) {
	if err := h.svc.Disconnect(); err != nil {
		respondError(c, err)
		return
	}
	h.GetState(c)
}

// GetStatus 采集一次完整状态
func (h *TelescopeHandler) GetStatus(c *gin.Context) {
	respondOK(c, h.svc.Snapshot())
}

// GetPosition 当前指向，?mode=ra_dec&precise=true
func (h *TelescopeHandler) GetPosition(c *gin.Context) {
	mode, ok := hardware.ParseCoordinateMode(c.Query("mode"))
	if !ok {
		respondError(c, errors.Newf(errors.ErrInvalidParam, "unknown mode %q", c.Query("mode")))
		return
	}
	precise, _ := strconv.ParseBool(c.DefaultQuery("precise", "false"))

	client, ok := h.client(c)
	if !ok {
		return
	}
	pos, err := client.GetPosition(mode, precision(precise))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, pos)
}

// Goto 转到目标位置，wait=true 时等待完成
func (h *TelescopeHandler) Goto(c *gin.Context) {
	var req GotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Mode == 0 {
		req.Mode = hardware.AzimuthAltitude
	}
	target := hardware.CoordinatePair{Mode: req.Mode, First: *req.First, Second: *req.Second}

	if !req.Wait {
		client, ok := h.client(c)
		if !ok {
			return
		}
		if err := client.GotoPosition(target, precision(req.Precise)); err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, gin.H{"target": target, "done": false})
		return
	}

	timeout := defaultGotoTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	poll := defaultGotoPoll
	if req.PollMs > 0 {
		poll = time.Duration(req.PollMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	if err := h.svc.GotoAndWait(ctx, target, precision(req.Precise), poll); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"target": target, "done": true})
}

// Sync 把当前指向同步为给定赤道坐标
func (h *TelescopeHandler) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	client, ok := h.client(c)
	if !ok {
		return
	}
	target := hardware.RADec(*req.RA, *req.Dec)
	if err := client.Sync(target, precision(req.Precise)); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"target": target})
}

// CancelGoto 取消goto
func (h *TelescopeHandler) CancelGoto(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	if err := client.CancelGoto(); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// GetGotoInProgress goto是否进行中
func (h *TelescopeHandler) GetGotoInProgress(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	inProgress, err := client.GetGotoInProgress()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"in_progress": inProgress})
}

// GetAlignment 校准是否完成
func (h *TelescopeHandler) GetAlignment(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	aligned, err := client.GetAlignmentComplete()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"aligned": aligned})
}

// GetTracking 跟踪模式
func (h *TelescopeHandler) GetTracking(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	mode, err := client.GetTrackingMode()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"mode": mode})
}

// SetTracking 设置跟踪模式
func (h *TelescopeHandler) SetTracking(c *gin.Context) {
	var req TrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	client, ok := h.client(c)
	if !ok {
		return
	}
	if err := client.SetTrackingMode(*req.Mode); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"mode": *req.Mode})
}

// GetLocation 观测地点
func (h *TelescopeHandler) GetLocation(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	loc, err := client.GetLocation()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, loc)
}

// SetLocation 设置观测地点
func (h *TelescopeHandler) SetLocation(c *gin.Context) {
	var req hardware.Location
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	client, ok := h.client(c)
	if !ok {
		return
	}
	if err := client.SetLocation(req); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, req)
}

// GetTime 手控器时间
func (h *TelescopeHandler) GetTime(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	t, dst, err := client.GetTime()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, hardware.Timestamp{Time: t, DST: dst})
}

// SetTime 设置手控器时间
func (h *TelescopeHandler) SetTime(c *gin.Context) {
	var req TimeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	t := time.Now()
	if req.Time != nil {
		t = *req.Time
	}
	client, ok := h.client(c)
	if !ok {
		return
	}
	if err := client.SetTime(t, req.DST); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, hardware.Timestamp{Time: t, DST: req.DST})
}

// GetVersion 固件版本
func (h *TelescopeHandler) GetVersion(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	v, err := client.GetVersion()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"version": v.String(), "major": v.Major, "minor": v.Minor})
}

// GetModel 型号
func (h *TelescopeHandler) GetModel(c *gin.Context) {
	client, ok := h.client(c)
	if !ok {
		return
	}
	m, err := client.GetModel()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"model": m.String(), "id": byte(m)})
}

// GetDeviceVersion 子设备固件版本
func (h *TelescopeHandler) GetDeviceVersion(c *gin.Context) {
	dev, ok := hardware.ParseDeviceID(c.Param("device"))
	if !ok {
		respondError(c, errors.Newf(errors.ErrInvalidParam, "unknown device %q", c.Param("device")))
		return
	}
	client, ok := h.client(c)
	if !ok {
		return
	}
	v, err := client.GetDeviceVersion(dev)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"device": dev.String(), "version": v.String()})
}

// Slew 以固定档位或可变速率转动电机，rate 为 0 时停止
func (h *TelescopeHandler) Slew(c *gin.Context) {
	var req SlewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	dev, ok := hardware.ParseDeviceID(req.Device)
	if !ok {
		respondError(c, errors.Newf(errors.ErrInvalidParam, "unknown device %q", req.Device))
		return
	}
	client, ok := h.client(c)
	if !ok {
		return
	}

	var err error
	if req.Mode == "fixed" {
		if req.Rate != float64(int(req.Rate)) {
			respondError(c, errors.Newf(errors.ErrInvalidParam, "fixed rate must be an integer, got %g", req.Rate))
			return
		}
		err = client.SlewFixed(dev, int(req.Rate))
	} else {
		err = client.SlewVariable(dev, req.Rate)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"device": dev.String(), "mode": req.Mode, "rate": req.Rate})
}

// GetSlewDone 电机转动是否结束
func (h *TelescopeHandler) GetSlewDone(c *gin.Context) {
	dev, ok := hardware.ParseDeviceID(c.Param("device"))
	if !ok {
		respondError(c, errors.Newf(errors.ErrInvalidParam, "unknown device %q", c.Param("device")))
		return
	}
	client, ok := h.client(c)
	if !ok {
		return
	}
	done, err := client.MotorSlewDone(dev)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"device": dev.String(), "done": done})
}

// Passthrough 向子设备透传任意消息
func (h *TelescopeHandler) Passthrough(c *gin.Context) {
	var req PassthroughRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	dev, ok := hardware.ParseDeviceID(req.Device)
	if !ok {
		respondError(c, errors.Newf(errors.ErrInvalidParam, "unknown device %q", req.Device))
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		respondError(c, errors.Newf(errors.ErrInvalidParam, "payload is not hex: %v", err))
		return
	}
	client, ok := h.client(c)
	if !ok {
		return
	}
	reply, err := client.Passthrough(dev, payload, req.ReplyLen)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"device": dev.String(), "reply": hex.EncodeToString(reply)})
}
