package hardware

import (
	"sync"
	"sync/atomic"

	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"go.uber.org/zap"
)

// ConnState 连接生命周期状态
type ConnState uint32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// MarshalText 以名称形式输出
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnStateHandler 状态变化回调，同步调用。
// 回调里不能直接调用协议操作，也不要做耗时操作。
type ConnStateHandler func(prev, next ConnState)

// Opener 按设备路径打开端口
type Opener func(path string) (Port, error)

// Connection 管理与手控器的连接：
// Disconnected --Open--> Connecting --端口就绪--> Connected --Close--> Disconnecting --端口关闭--> Disconnected。
// 仅 Connected 状态下允许协议操作。
type Connection struct {
	opener Opener
	cfg    ClientConfig

	// opMu 串行化 Open/Close
	opMu sync.Mutex

	mu       sync.Mutex
	state    atomic.Uint32
	client   *Client
	port     Port
	path     string
	handlers []ConnStateHandler

	logger *zap.Logger
}

// NewConnection 创建处于 Disconnected 状态的连接
func NewConnection(opener Opener, cfg ClientConfig, handlers ...ConnStateHandler) *Connection {
	c := &Connection{
		opener: opener,
		cfg:    cfg,
		logger: logger.GetModuleLogger("serial"),
	}
	c.AddStateHandler(handlers...)
	return c
}

// State 当前状态快照
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Path 当前或最近一次连接的设备路径
func (c *Connection) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// AddStateHandler 注册状态变化回调
func (c *Connection) AddStateHandler(handlers ...ConnStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			c.handlers = append(c.handlers, h)
		}
	}
}

// setState 切换状态并调用回调
func (c *Connection) setState(next ConnState) {
	prev := ConnState(c.state.Swap(uint32(next)))
	if prev == next {
		return
	}

	c.mu.Lock()
	handlers := make([]ConnStateHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	c.logger.Debug("连接状态变化", zap.Stringer("from", prev), zap.Stringer("to", next))
	for _, h := range handlers {
		h(prev, next)
	}
}

// Open 打开设备。已连接时为空操作；打开失败时保持 Disconnected 并返回 ErrSerialPortOpen。
func (c *Connection) Open(path string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch c.State() {
	case Connected:
		return nil
	case Connecting, Disconnecting:
		return errors.Newf(errors.ErrNotConnected, "connection is %s", c.State())
	}

	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
	c.setState(Connecting)

	port, err := c.opener(path)
	if err != nil {
		c.setState(Disconnected)
		c.logger.Error("打开手控器失败", zap.String("path", path), zap.Error(err))
		return errors.Newf(errors.ErrSerialPortOpen, "open %s: %v", path, err).WithCause(err)
	}

	client := NewClient(port, c.cfg)
	client.gate = c.gate
	client.onBroken = c.broken

	c.mu.Lock()
	c.client = client
	c.port = port
	c.mu.Unlock()

	c.setState(Connected)
	c.logger.Info("手控器已连接", zap.String("path", path))
	return nil
}

// Close 关闭连接。未连接时为空操作；端口无条件释放，进行中的交互返回 ErrConnectionClosed。
func (c *Connection) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.closeLocked(nil)
}

// closeLocked 调用方持有 opMu；only 非空时仅在当前客户端仍为 only 时关闭
func (c *Connection) closeLocked(only *Client) error {
	if c.State() == Disconnected {
		return nil
	}

	c.mu.Lock()
	if only != nil && c.client != only {
		c.mu.Unlock()
		return nil
	}
	port := c.port
	c.client = nil
	c.port = nil
	c.mu.Unlock()

	c.setState(Disconnecting)

	var err error
	if port != nil {
		err = port.Close()
	}

	c.setState(Disconnected)
	c.logger.Info("手控器已断开", zap.String("path", c.Path()))
	return err
}

// Client 返回已连接的协议客户端
func (c *Connection) Client() (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Connected || c.client == nil {
		return nil, errors.Newf(errors.ErrNotConnected, "connection is %s", c.State())
	}
	return c.client, nil
}

// gate 协议操作的生命周期检查
func (c *Connection) gate(cl *Client) error {
	state := c.State()
	if state != Connected {
		return errors.Newf(errors.ErrNotConnected, "connection is %s", state)
	}
	c.mu.Lock()
	current := c.client
	c.mu.Unlock()
	if current != cl {
		return errors.New(errors.ErrNotConnected, "client belongs to a closed session")
	}
	return nil
}

// broken 底层读写失败后断开连接
func (c *Connection) broken(cl *Client, cause error) {
	c.logger.Warn("串口读写失败，断开连接", zap.Error(cause))

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.closeLocked(cl); err != nil {
		c.logger.Warn("关闭端口失败", zap.Error(err))
	}
}
