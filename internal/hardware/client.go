package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"go.uber.org/zap"
)

// Exchange 一次请求应答的记录
type Exchange struct {
	Command string
	ID      byte
	Request []byte
	Reply   []byte // 收到的原始字节，含结束符
	Started time.Time
	Elapsed time.Duration
	Err     error
}

// ExchangeObserver 每次请求应答结束后被调用，调用时客户端仍持有交互锁
type ExchangeObserver interface {
	ObserveExchange(ex Exchange)
}

// ExchangeObserverFunc 函数形式的 ExchangeObserver
type ExchangeObserverFunc func(ex Exchange)

func (f ExchangeObserverFunc) ObserveExchange(ex Exchange) { f(ex) }

// ClientConfig 协议客户端配置
type ClientConfig struct {
	ExchangeTimeout time.Duration // 单次交互等待完整应答的时间
	ResyncWindow    time.Duration // 应答格式错误后，下次交互前丢弃残留字节的时间，不超过 ExchangeTimeout
	Slew            SlewProfile
	Observer        ExchangeObserver
}

// DefaultClientConfig 默认配置：3.5秒应答超时
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ExchangeTimeout: 3500 * time.Millisecond,
		ResyncWindow:    250 * time.Millisecond,
		Slew:            DefaultSlewProfile(),
	}
}

// Client 手控器协议客户端。
// 所有操作同步执行，每次一问一答，内部互斥保证同一时刻只有一个交互在进行。
// 客户端不缓存任何状态，不做任何重试。
type Client struct {
	mu         sync.Mutex
	port       Port
	cfg        ClientConfig
	needResync bool

	// 超时的交互仍欠着的应答字节数，下次写入前必须先读掉
	owed          int
	owedMayBeBare bool // 转发命令的子设备可能只回 '#'

	// 由 Connection 设置
	gate     func(*Client) error
	onBroken func(*Client, error)

	logger *zap.Logger
}

// NewClient 在已打开的端口上创建客户端，客户端独占该端口
func NewClient(port Port, cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = def.ExchangeTimeout
	}
	if cfg.ResyncWindow < 0 {
		cfg.ResyncWindow = 0
	}
	if cfg.ResyncWindow > cfg.ExchangeTimeout {
		cfg.ResyncWindow = cfg.ExchangeTimeout
	}
	if cfg.Slew == (SlewProfile{}) {
		cfg.Slew = def.Slew
	}
	return &Client{
		port:   port,
		cfg:    cfg,
		logger: logger.GetModuleLogger("serial"),
	}
}

// SlewProfile 当前使用的速率换算参数
func (c *Client) SlewProfile() SlewProfile {
	return c.cfg.Slew
}

// Close 关闭端口，进行中的交互返回 ErrConnectionClosed
func (c *Client) Close() error {
	return c.port.Close()
}

// exchange 执行一次完整交互并返回去掉结束符的负载
func (c *Client) exchange(cmd Command, args []byte, shape ReplyShape) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gate != nil {
		if err := c.gate(c); err != nil {
			return nil, err
		}
	}

	req, err := BuildRequest(cmd, args)
	if err != nil {
		return nil, err
	}

	ex := Exchange{Command: cmd.Name, ID: cmd.ID, Request: req, Started: time.Now()}

	var payload []byte
	ex.Reply, err = c.roundTrip(cmd, req, shape)
	if err == nil {
		payload, err = ParseReply(ex.Reply, shape)
		if err != nil {
			c.needResync = true
		}
	}
	ex.Elapsed = time.Since(ex.Started)
	ex.Err = err

	c.report(ex)

	if err != nil && isTransportFailure(err) && c.onBroken != nil {
		c.onBroken(c, err)
	}
	return payload, err
}

func (c *Client) roundTrip(cmd Command, req []byte, shape ReplyShape) ([]byte, error) {
	if c.owed > 0 {
		if err := c.settleOwed(cmd); err != nil {
			return nil, err
		}
	}
	if c.needResync {
		c.resync()
	}
	if err := c.port.Flush(); err != nil {
		return nil, err
	}
	if err := c.port.Write(req); err != nil {
		return nil, err
	}

	raw, err := c.port.ReadFull(shape.Length+1, c.cfg.ExchangeTimeout)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, errors.ErrSerialTimeout) {
		return raw, err
	}

	switch {
	case cmd.Args == ArgPassthrough && len(raw) == 1 && raw[0] == Terminator:
		return raw, errors.Newf(errors.ErrPassthrough, "device %s did not answer", DeviceID(req[2]))
	case len(raw) == 0:
		c.owe(shape.Length+1, cmd.Args == ArgPassthrough)
		return nil, errors.Newf(errors.ErrSerialTimeout, "%s: no reply within %s", cmd.Name, c.cfg.ExchangeTimeout)
	default:
		c.owe(shape.Length+1-len(raw), false)
		return raw, errors.Newf(errors.ErrFraming, "%s: incomplete reply % X", cmd.Name, raw)
	}
}

// owe 记录超时交互的应答剩余字节，手控器按请求顺序应答，这些字节会排在下一个应答之前
func (c *Client) owe(n int, mayBeBare bool) {
	c.owed = n
	c.owedMayBeBare = mayBeBare
}

// settleOwed 读掉欠着的应答字节，它们不会交给新的命令。
// 一个应答超时周期内没有任何字节时视为该应答丢失；只收到一部分时返回 ErrFraming，剩余字节继续欠着。
func (c *Client) settleOwed(cmd Command) error {
	stale, err := c.port.ReadFull(c.owed, c.cfg.ExchangeTimeout)
	if len(stale) > 0 {
		c.logger.Debug("丢弃迟到的应答", zap.String("command", cmd.Name), zap.Binary("bytes", stale))
	}

	switch {
	case err == nil:
	case !errors.Is(err, errors.ErrSerialTimeout):
		return err
	case len(stale) == 0:
		c.logger.Debug("迟到的应答未出现，视为丢失", zap.Int("owed", c.owed))
	case c.owedMayBeBare && len(stale) == 1 && stale[0] == Terminator:
	default:
		c.owed -= len(stale)
		c.owedMayBeBare = false
		return errors.Newf(errors.ErrFraming, "%s: %d bytes of an earlier reply still outstanding", cmd.Name, c.owed)
	}
	c.owe(0, false)
	return nil
}

// resync 在重同步窗口内读取并丢弃格式错误应答之后的残留字节
func (c *Client) resync() {
	c.needResync = false
	if c.cfg.ResyncWindow <= 0 {
		return
	}

	deadline := time.Now().Add(c.cfg.ResyncWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		stale, err := c.port.ReadUntil(Terminator, remaining)
		if len(stale) > 0 {
			c.logger.Debug("丢弃迟到的应答", zap.Binary("bytes", stale))
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) report(ex Exchange) {
	logger.LogSerialCommand(ex.Command,
		fmt.Sprintf("% X", ex.Request),
		fmt.Sprintf("% X", ex.Reply),
		ex.Elapsed, ex.Err)

	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveExchange(ex)
	}
}

// isTransportFailure 底层读写失败，连接应当断开
func isTransportFailure(err error) bool {
	return errors.Is(err, errors.ErrSerialPortRead) || errors.Is(err, errors.ErrSerialPortWrite)
}

// GetPosition 查询当前指向，precision 选择标准或精确命令
func (c *Client) GetPosition(mode CoordinateMode, precision Precision) (CoordinatePair, error) {
	cmd, ok := positionCommand(mode, precision)
	if !ok {
		return CoordinatePair{}, errors.Newf(errors.ErrInvalidParam, "no position command for %s/%s", mode, precision)
	}
	payload, err := c.exchange(cmd, nil, cmd.Reply)
	if err != nil {
		return CoordinatePair{}, err
	}
	return DecodeAnglePair(payload, mode, precision)
}

// GotoPosition 发送goto命令，收到确认即返回，不等待转动完成。
// 完成与否通过 GetGotoInProgress 轮询。
func (c *Client) GotoPosition(target CoordinatePair, precision Precision) error {
	cmd, ok := gotoCommand(target.Mode, precision)
	if !ok {
		return errors.Newf(errors.ErrInvalidParam, "no goto command for %s/%s", target.Mode, precision)
	}
	args, err := EncodeAnglePair(target, precision)
	if err != nil {
		return err
	}
	_, err = c.exchange(cmd, args, cmd.Reply)
	return err
}

// Sync 把当前指向校准为给定赤道坐标
func (c *Client) Sync(target CoordinatePair, precision Precision) error {
	if target.Mode != RightAscensionDeclination {
		return errors.New(errors.ErrInvalidParam, "sync takes ra/dec coordinates")
	}
	cmd := CmdSync
	if precision == PrecisionPrecise {
		cmd = CmdSyncPrecise
	}
	args, err := EncodeAnglePair(target, precision)
	if err != nil {
		return err
	}
	_, err = c.exchange(cmd, args, cmd.Reply)
	return err
}

// GetGotoInProgress goto是否仍在进行
func (c *Client) GetGotoInProgress() (bool, error) {
	payload, err := c.exchange(CmdGetGotoInProgress, nil, CmdGetGotoInProgress.Reply)
	if err != nil {
		return false, err
	}
	switch payload[0] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	}
	return false, errors.Newf(errors.ErrProtocol, "goto in progress: unexpected reply %q", payload)
}

// CancelGoto 取消正在进行的goto
func (c *Client) CancelGoto() error {
	_, err := c.exchange(CmdCancelGoto, nil, CmdCancelGoto.Reply)
	return err
}

// GetAlignmentComplete 是否已完成校准
func (c *Client) GetAlignmentComplete() (bool, error) {
	payload, err := c.exchange(CmdGetAlignmentComplete, nil, CmdGetAlignmentComplete.Reply)
	if err != nil {
		return false, err
	}
	switch payload[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.Newf(errors.ErrProtocol, "alignment complete: unexpected reply % X", payload)
}

func (c *Client) GetTrackingMode() (TrackingMode, error) {
	payload, err := c.exchange(CmdGetTrackingMode, nil, CmdGetTrackingMode.Reply)
	if err != nil {
		return 0, err
	}
	mode := TrackingMode(payload[0])
	if !mode.Valid() {
		return 0, errors.Newf(errors.ErrProtocol, "unknown tracking mode %d", payload[0])
	}
	return mode, nil
}

func (c *Client) SetTrackingMode(mode TrackingMode) error {
	if !mode.Valid() {
		return errors.Newf(errors.ErrInvalidParam, "unknown tracking mode %d", byte(mode))
	}
	_, err := c.exchange(CmdSetTrackingMode, []byte{byte(mode)}, CmdSetTrackingMode.Reply)
	return err
}

func (c *Client) GetLocation() (Location, error) {
	payload, err := c.exchange(CmdGetLocation, nil, CmdGetLocation.Reply)
	if err != nil {
		return Location{}, err
	}
	return DecodeLocation(payload)
}

// SetLocation 设置观测地点，精度为1角秒
func (c *Client) SetLocation(loc Location) error {
	args, err := EncodeLocation(loc)
	if err != nil {
		return err
	}
	_, err = c.exchange(CmdSetLocation, args, CmdSetLocation.Reply)
	return err
}

// GetTime 读取手控器时间，返回时间（固定偏移时区）和夏令时标志
func (c *Client) GetTime() (time.Time, bool, error) {
	payload, err := c.exchange(CmdGetTime, nil, CmdGetTime.Reply)
	if err != nil {
		return time.Time{}, false, err
	}
	return DecodeTime(payload)
}

// SetTime 按 t 所在时区的墙上时间设置手控器时间
func (c *Client) SetTime(t time.Time, dst bool) error {
	args, err := EncodeTime(t, dst)
	if err != nil {
		return err
	}
	_, err = c.exchange(CmdSetTime, args, CmdSetTime.Reply)
	return err
}

func (c *Client) GetModel() (Model, error) {
	payload, err := c.exchange(CmdGetModel, nil, CmdGetModel.Reply)
	if err != nil {
		return 0, err
	}
	return Model(payload[0]), nil
}

// GetVersion 手控器固件版本
func (c *Client) GetVersion() (Version, error) {
	payload, err := c.exchange(CmdGetVersion, nil, CmdGetVersion.Reply)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: payload[0], Minor: payload[1]}, nil
}

// Echo 发送一个字节并要求原样返回，用于检查链路
func (c *Client) Echo(b byte) error {
	payload, err := c.exchange(CmdEcho, []byte{b}, CmdEcho.Reply)
	if err != nil {
		return err
	}
	if payload[0] != b {
		return errors.Newf(errors.ErrProtocol, "echo: sent %02X, got %02X", b, payload[0])
	}
	return nil
}
