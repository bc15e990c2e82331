package service

import (
	"context"
	"time"

	"github.com/wfunc/nexstar-hc/internal/hardware"
	"github.com/wfunc/nexstar-hc/internal/models"
	"github.com/wfunc/nexstar-hc/internal/repository"
)

// TelescopeService 手控器服务接口，进程内唯一持有连接
type TelescopeService interface {
	// 连接管理
	Connect(path string) error
	Disconnect() error
	State() hardware.ConnState
	Path() string
	Client() (*hardware.Client, error)
	OnStateChange(h hardware.ConnStateHandler)

	// 状态
	Snapshot() *StatusSnapshot
	GotoAndWait(ctx context.Context, target hardware.CoordinatePair, precision hardware.Precision, pollInterval time.Duration) error

	Close() error
}

// JournalService 交互日志服务接口
type JournalService interface {
	hardware.ExchangeObserver

	SessionID() string
	RecordStateChange(path string, prev, next hardware.ConnState, reason string)
	Flush()

	Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error)
	GetByRequestID(ctx context.Context, requestID string) (*models.SerialLog, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error)
	GetLatest(ctx context.Context, limit int, command string) ([]*models.SerialLog, error)
	GetErrorLogs(ctx context.Context, limit int) ([]*models.SerialLog, error)
	ListEvents(ctx context.Context, p *repository.Pagination) ([]*models.ConnectionEvent, error)
	Cleanup(ctx context.Context, retentionDays int) (int64, error)

	Close()
}

// AzmAltView 地平坐标，单位度
type AzmAltView struct {
	Azimuth  float64 `json:"azimuth"`
	Altitude float64 `json:"altitude"`
}

// RADecView 赤道坐标，单位度，赤纬为有符号值
type RADecView struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// StatusSnapshot 一次状态采集的结果。
// 采集失败的字段为空，错误记录在 Errors 中。
type StatusSnapshot struct {
	Sequence  uint64             `json:"sequence"`
	State     hardware.ConnState `json:"state"`
	Path      string             `json:"path,omitempty"`
	Timestamp time.Time          `json:"timestamp"`

	AzmAlt         *AzmAltView            `json:"azm_alt,omitempty"`
	RADec          *RADecView             `json:"ra_dec,omitempty"`
	Tracking       *hardware.TrackingMode `json:"tracking,omitempty"`
	GotoInProgress *bool                  `json:"goto_in_progress,omitempty"`
	Aligned        *bool                  `json:"aligned,omitempty"`
	Version        string                 `json:"version,omitempty"`
	Model          string                 `json:"model,omitempty"`

	Errors map[string]string `json:"errors,omitempty"`
}

// Connected 采集时是否处于连接状态
func (s *StatusSnapshot) Connected() bool {
	return s.State == hardware.Connected
}
