package service

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"go.uber.org/zap"
)

// TelescopeConfig 手控器服务配置
type TelescopeConfig struct {
	DefaultPath string
	Client      hardware.ClientConfig
}

// telescopeService 手控器服务实现
type telescopeService struct {
	conn    *hardware.Connection
	cfg     TelescopeConfig
	journal JournalService
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []hardware.ConnStateHandler

	seq atomic.Uint64
}

// NewTelescopeService 创建手控器服务，journal 为空时不记录交互
func NewTelescopeService(opener hardware.Opener, cfg TelescopeConfig, journal JournalService) TelescopeService {
	if journal != nil {
		cfg.Client.Observer = journal
	}
	s := &telescopeService{
		cfg:     cfg,
		journal: journal,
		logger:  logger.GetModuleLogger("serial"),
	}
	s.conn = hardware.NewConnection(opener, cfg.Client, s.dispatchState)
	return s
}

// dispatchState 连接状态回调，转发给订阅者
func (s *telescopeService) dispatchState(prev, next hardware.ConnState) {
	if s.journal != nil {
		s.journal.RecordStateChange(s.conn.Path(), prev, next, "")
	}

	s.mu.Lock()
	handlers := make([]hardware.ConnStateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(prev, next)
	}
}

// OnStateChange 订阅连接状态变化。回调中不能调用协议操作。
func (s *telescopeService) OnStateChange(h hardware.ConnStateHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Connect 打开手控器，path 为空时使用配置的默认设备
func (s *telescopeService) Connect(path string) error {
	if path == "" {
		path = s.cfg.DefaultPath
	}
	if path == "" {
		return errors.New(errors.ErrInvalidParam, "no device path")
	}
	return s.conn.Open(path)
}

func (s *telescopeService) Disconnect() error {
	return s.conn.Close()
}

func (s *telescopeService) State() hardware.ConnState {
	return s.conn.State()
}

func (s *telescopeService) Path() string {
	return s.conn.Path()
}

func (s *telescopeService) Client() (*hardware.Client, error) {
	return s.conn.Client()
}

// Snapshot 依次查询各项状态。
// 连接在采集过程中断开时剩余字段不再查询。
func (s *telescopeService) Snapshot() *StatusSnapshot {
	snap := &StatusSnapshot{
		Sequence:  s.seq.Add(1),
		State:     s.conn.State(),
		Path:      s.conn.Path(),
		Timestamp: time.Now(),
	}

	client, err := s.conn.Client()
	if err != nil {
		return snap
	}

	failed := func(field string, err error) bool {
		if err == nil {
			return false
		}
		if snap.Errors == nil {
			snap.Errors = make(map[string]string)
		}
		snap.Errors[field] = err.Error()
		return true
	}
	lost := func() bool {
		return s.conn.State() != hardware.Connected
	}

	steps := []func() bool{
		func() bool {
			pos, err := client.GetPosition(hardware.AzimuthAltitude, hardware.PrecisionPrecise)
			if !failed("azm_alt", err) {
				snap.AzmAlt = &AzmAltView{Azimuth: pos.Azimuth(), Altitude: hardware.SignedDegrees(pos.Altitude())}
			}
			return err == nil
		},
		func() bool {
			pos, err := client.GetPosition(hardware.RightAscensionDeclination, hardware.PrecisionPrecise)
			if !failed("ra_dec", err) {
				snap.RADec = &RADecView{RA: pos.RA(), Dec: hardware.SignedDegrees(pos.Dec())}
			}
			return err == nil
		},
		func() bool {
			mode, err := client.GetTrackingMode()
			if !failed("tracking", err) {
				snap.Tracking = &mode
			}
			return err == nil
		},
		func() bool {
			inProgress, err := client.GetGotoInProgress()
			if !failed("goto_in_progress", err) {
				snap.GotoInProgress = &inProgress
			}
			return err == nil
		},
		func() bool {
			aligned, err := client.GetAlignmentComplete()
			if !failed("aligned", err) {
				snap.Aligned = &aligned
			}
			return err == nil
		},
		func() bool {
			v, err := client.GetVersion()
			if !failed("version", err) {
				snap.Version = v.String()
			}
			return err == nil
		},
		func() bool {
			m, err := client.GetModel()
			if !failed("model", err) {
				snap.Model = m.String()
			}
			return err == nil
		},
	}

	for _, step := range steps {
		if !step() && lost() {
			break
		}
	}
	snap.State = s.conn.State()
	return snap
}

// GotoAndWait 发送goto并轮询直到完成或 ctx 结束。
// ctx 结束时不会取消goto，需要时由调用方执行 CancelGoto。
func (s *telescopeService) GotoAndWait(ctx context.Context, target hardware.CoordinatePair, precision hardware.Precision, pollInterval time.Duration) error {
	client, err := s.conn.Client()
	if err != nil {
		return err
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	if err := client.GotoPosition(target, precision); err != nil {
		return err
	}
	s.logger.Info("goto开始", zap.Stringer("target", target), zap.Stringer("precision", precision))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Wrap(ctx.Err(), errors.ErrTimeout, "goto did not finish")
			}
			return errors.Wrap(ctx.Err(), errors.ErrCanceled, "goto wait canceled")
		case <-ticker.C:
		}

		inProgress, err := client.GetGotoInProgress()
		if err != nil {
			return err
		}
		if !inProgress {
			s.logger.Info("goto完成", zap.Stringer("target", target))
			return nil
		}
	}
}

// Close 断开连接
func (s *telescopeService) Close() error {
	return s.conn.Close()
}
