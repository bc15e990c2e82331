package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/models"
	"github.com/wfunc/nexstar-hc/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JournalConfig 日志批量写入配置
type JournalConfig struct {
	FlushInterval time.Duration
	BatchSize     int
	BufferSize    int
}

// DefaultJournalConfig 每5秒或满100条写入一次
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
		BufferSize:    1000,
	}
}

// SerialLogService 交互日志服务，后台批量写库
type SerialLogService struct {
	repo   *repository.SerialLogRepository
	events repository.ConnectionEventRepository
	cfg    JournalConfig
	logger *zap.Logger

	sessionID string
	path      atomic.Value // string

	buffer   []*models.SerialLog
	bufferCh chan *models.SerialLog
	eventCh  chan *models.ConnectionEvent
	flushCh  chan chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	dropped atomic.Int64
}

// NewSerialLogService 创建交互日志服务并启动后台写入
func NewSerialLogService(db *gorm.DB, cfg JournalConfig) *SerialLogService {
	def := DefaultJournalConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	s := &SerialLogService{
		repo:      repository.NewSerialLogRepository(db),
		events:    repository.NewConnectionEventRepository(db),
		cfg:       cfg,
		logger:    logger.GetModuleLogger("database"),
		sessionID: uuid.NewString(),
		buffer:    make([]*models.SerialLog, 0, cfg.BatchSize),
		bufferCh:  make(chan *models.SerialLog, cfg.BufferSize),
		eventCh:   make(chan *models.ConnectionEvent, 64),
		flushCh:   make(chan chan struct{}),
		stopCh:    make(chan struct{}),
	}
	s.path.Store("")

	s.wg.Add(1)
	go s.backgroundWriter()

	return s
}

// SessionID 本进程的日志会话ID
func (s *SerialLogService) SessionID() string {
	return s.sessionID
}

// Dropped 缓冲区满时丢弃的记录数
func (s *SerialLogService) Dropped() int64 {
	return s.dropped.Load()
}

// ObserveExchange 记录一次交互，不阻塞调用方
func (s *SerialLogService) ObserveExchange(ex hardware.Exchange) {
	log := &models.SerialLog{
		CreatedAt:  ex.Started,
		SessionID:  s.sessionID,
		RequestID:  uuid.NewString(),
		Path:       s.path.Load().(string),
		Command:    ex.Command,
		CommandID:  string(ex.ID),
		Level:      models.SerialLogLevelInfo,
		RequestHex: fmt.Sprintf("% X", ex.Request),
		ReplyHex:   fmt.Sprintf("% X", ex.Reply),
		BytesOut:   len(ex.Request),
		BytesIn:    len(ex.Reply),
		Duration:   ex.Elapsed.Microseconds(),
	}
	if ex.Err != nil {
		log.ErrorCode = int(errors.GetCode(ex.Err))
		log.ErrorMsg = ex.Err.Error()
		log.Level = models.SerialLogLevelError
		if errors.IsRetryable(ex.Err) {
			log.Level = models.SerialLogLevelWarn
		}
	}

	select {
	case s.bufferCh <- log:
	default:
		s.dropped.Add(1)
		s.logger.Warn("交互日志缓冲区满，丢弃日志", zap.String("command", ex.Command))
	}
}

// RecordStateChange 记录连接状态变化，可在连接状态回调中直接调用
func (s *SerialLogService) RecordStateChange(path string, prev, next hardware.ConnState, reason string) {
	if next == hardware.Connecting || next == hardware.Connected {
		s.path.Store(path)
	}
	event := &models.ConnectionEvent{
		CreatedAt: time.Now(),
		SessionID: s.sessionID,
		Path:      path,
		FromState: prev.String(),
		ToState:   next.String(),
		Reason:    reason,
	}
	select {
	case s.eventCh <- event:
	default:
		s.dropped.Add(1)
		s.logger.Warn("连接事件缓冲区满，丢弃事件", zap.Stringer("to", next))
	}
}

// backgroundWriter 后台写入协程
func (s *SerialLogService) backgroundWriter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
			if len(s.buffer) >= s.cfg.BatchSize {
				s.flushBuffer()
			}

		case event := <-s.eventCh:
			if err := s.events.Create(context.Background(), event); err != nil {
				s.logger.Error("写入连接事件失败", zap.Error(err))
			}

		case <-ticker.C:
			s.flushBuffer()

		case done := <-s.flushCh:
			s.drain()
			close(done)

		case <-s.stopCh:
			// 退出前写入剩余的日志
			s.drain()
			return
		}
	}
}

// drain 取出通道中已有的记录并全部写入
func (s *SerialLogService) drain() {
	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
		case event := <-s.eventCh:
			if err := s.events.Create(context.Background(), event); err != nil {
				s.logger.Error("写入连接事件失败", zap.Error(err))
			}
		default:
			s.flushBuffer()
			return
		}
	}
}

// flushBuffer 写入缓冲区的日志到数据库
func (s *SerialLogService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	start := time.Now()
	err := s.repo.CreateBatch(context.Background(), s.buffer)
	logger.LogDatabaseOperation("insert_batch", "serial_logs", time.Since(start), err)
	if err != nil {
		s.logger.Error("批量写入交互日志失败", zap.Int("count", len(s.buffer)), zap.Error(err))
	}

	s.buffer = make([]*models.SerialLog, 0, s.cfg.BatchSize)
}

// Flush 立即写入已收到的全部记录，返回时已落库
func (s *SerialLogService) Flush() {
	done := make(chan struct{})
	select {
	case s.flushCh <- done:
		<-done
	case <-s.stopCh:
	}
}

// Query 查询日志
func (s *SerialLogService) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	return s.repo.Query(ctx, query)
}

func (s *SerialLogService) GetByRequestID(ctx context.Context, requestID string) (*models.SerialLog, error) {
	return s.repo.GetByRequestID(ctx, requestID)
}

// GetStats 获取统计信息
func (s *SerialLogService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// GetLatest 获取最新的日志
func (s *SerialLogService) GetLatest(ctx context.Context, limit int, command string) ([]*models.SerialLog, error) {
	return s.repo.GetLatest(ctx, limit, command)
}

// GetErrorLogs 获取失败的交互
func (s *SerialLogService) GetErrorLogs(ctx context.Context, limit int) ([]*models.SerialLog, error) {
	return s.repo.GetErrorLogs(ctx, limit)
}

// ListEvents 分页列出连接事件
func (s *SerialLogService) ListEvents(ctx context.Context, p *repository.Pagination) ([]*models.ConnectionEvent, error) {
	return s.events.List(ctx, p)
}

// Cleanup 清理超过保留天数的日志和连接事件
func (s *SerialLogService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	deleted, err := s.repo.CleanupLogs(ctx, retentionDays)
	if err != nil {
		return 0, err
	}
	events, err := s.events.DeleteBefore(ctx, time.Now().AddDate(0, 0, -retentionDays))
	if err != nil {
		return deleted, err
	}
	s.logger.Info("清理交互日志",
		zap.Int("retention_days", retentionDays),
		zap.Int64("logs", deleted),
		zap.Int64("events", events))
	return deleted + events, nil
}

// Close 写入剩余日志并停止后台协程，可重复调用
func (s *SerialLogService) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
