package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/nexstar-hc/internal/config"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/service"
	"go.uber.org/zap"
)

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`           // 消息类型
	Data      json.RawMessage `json:"data,omitempty"` // 消息数据
	Timestamp int64           `json:"timestamp"`      // 毫秒时间戳
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 手控器消息
	MessageTypeStatus = "status" // 状态快照；客户端发送时表示请求最近一次快照
	MessageTypeState  = "state"  // 连接状态变化
)

// StateChange 连接状态变化消息的数据
type StateChange struct {
	From hardware.ConnState `json:"from"`
	To   hardware.ConnState `json:"to"`
	Path string             `json:"path,omitempty"`
}

// Options 连接参数
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// OptionsFrom 由配置生成连接参数，未设置的项使用默认值
func OptionsFrom(cfg config.WebSocketConfig) Options {
	o := Options{
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PongTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}
	return o.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	// ping周期必须小于pong超时
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Hub 状态推送中心，把手控器状态广播给所有浏览器客户端
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan []byte

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 最近一次状态快照，新客户端连接时立即发送
	lastStatus   []byte
	lastStatusMu sync.RWMutex

	opts   Options
	done   chan struct{}
	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		opts:       opts.withDefaults(),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行Hub直到 ctx 结束，结束时关闭全部客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case data := <-h.broadcast:
			h.broadcastData(data)
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("remote", client.Remote))

	h.sendTo(client, newMessage(MessageTypeConnected, map[string]string{"client_id": client.ID}))
	if status := h.latestStatus(); status != nil {
		h.sendTo(client, status)
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
}

// broadcastData 广播消息
func (h *Hub) broadcastData(data []byte) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
}

func (h *Hub) sendTo(client *Client, data []byte) {
	if data == nil {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, data []byte) error {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (h *Hub) latestStatus() []byte {
	h.lastStatusMu.RLock()
	defer h.lastStatusMu.RUnlock()
	return h.lastStatus
}

// Broadcast 广播消息，不阻塞
func (h *Hub) Broadcast(data []byte) {
	if data == nil {
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("广播队列已满，丢弃消息")
	}
}

// PublishStatus 广播状态快照并作为新客户端的初始状态，可作为状态轮询的订阅者
func (h *Hub) PublishStatus(snap *service.StatusSnapshot) {
	if snap == nil {
		return
	}
	data := newMessage(MessageTypeStatus, snap)
	if data == nil {
		return
	}
	h.lastStatusMu.Lock()
	h.lastStatus = data
	h.lastStatusMu.Unlock()
	h.Broadcast(data)
}

// PublishState 广播连接状态变化，可在连接状态回调中调用
func (h *Hub) PublishState(path string, prev, next hardware.ConnState) {
	h.Broadcast(newMessage(MessageTypeState, StateChange{From: prev, To: next, Path: path}))
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// GetOnlineCount 获取在线客户端数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// newMessage 序列化消息，失败时返回 nil
func newMessage(msgType string, data interface{}) []byte {
	msg := Message{Type: msgType, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil
		}
		msg.Data = raw
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return out
}
