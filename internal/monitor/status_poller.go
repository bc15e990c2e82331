package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/service"
	"go.uber.org/zap"
)

// StatusSource 状态采集来源，由 service.TelescopeService 实现
type StatusSource interface {
	State() hardware.ConnState
	Snapshot() *service.StatusSnapshot
}

// Subscriber 收到新的状态快照，在轮询协程中同步调用，不能阻塞
type Subscriber func(snap *service.StatusSnapshot)

// StatusPoller 定时采集手控器状态并分发给订阅者。
// 只在已连接时与手控器交互；未连接时仅在状态变化后发布一次快照。
type StatusPoller struct {
	src      StatusSource
	interval time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	subscribers []Subscriber

	latest    atomic.Pointer[service.StatusSnapshot]
	lastState atomic.Uint32
	published atomic.Bool

	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewStatusPoller 创建状态轮询器
func NewStatusPoller(src StatusSource, interval time.Duration) *StatusPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StatusPoller{
		src:      src,
		interval: interval,
		logger:   logger.GetModuleLogger("monitor"),
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe 注册订阅者
func (p *StatusPoller) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Latest 最近一次发布的快照，尚未发布时为 nil
func (p *StatusPoller) Latest() *service.StatusSnapshot {
	return p.latest.Load()
}

// Interval 轮询周期
func (p *StatusPoller) Interval() time.Duration {
	return p.interval
}

// Trigger 请求尽快采集一次，可在连接状态回调中调用
func (p *StatusPoller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start 启动轮询协程
func (p *StatusPoller) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go p.loop()
	p.logger.Info("状态轮询已启动", zap.Duration("interval", p.interval))
}

// Stop 停止轮询并等待协程退出
func (p *StatusPoller) Stop() {
	p.cancel()
	p.wg.Wait()
	if p.running.CompareAndSwap(true, false) {
		p.logger.Info("状态轮询已停止")
	}
}

func (p *StatusPoller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		}
		p.poll()
	}
}

// poll 采集一次并发布
func (p *StatusPoller) poll() {
	state := p.src.State()
	prev := hardware.ConnState(p.lastState.Swap(uint32(state)))

	if state != hardware.Connected {
		// 未连接时快照不含任何交互，只在状态变化后发布
		if p.published.Load() && prev == state {
			return
		}
	}

	start := time.Now()
	snap := p.src.Snapshot()
	if snap == nil {
		return
	}
	p.lastState.Store(uint32(snap.State))
	if len(snap.Errors) > 0 {
		p.logger.Warn("状态采集部分失败",
			zap.Uint64("sequence", snap.Sequence),
			zap.Any("errors", snap.Errors),
			zap.Duration("elapsed", time.Since(start)))
	} else {
		p.logger.Debug("状态采集完成",
			zap.Uint64("sequence", snap.Sequence),
			zap.Duration("elapsed", time.Since(start)))
	}
	p.publish(snap)
}

func (p *StatusPoller) publish(snap *service.StatusSnapshot) {
	p.latest.Store(snap)
	p.published.Store(true)

	p.mu.RLock()
	subscribers := make([]Subscriber, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.RUnlock()

	for _, fn := range subscribers {
		fn(snap)
	}
}
