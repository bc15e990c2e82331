package models

import (
	"time"

	"gorm.io/gorm"
)

// SerialLogLevel 日志级别
type SerialLogLevel string

const (
	SerialLogLevelInfo  SerialLogLevel = "INFO"
	SerialLogLevelWarn  SerialLogLevel = "WARN"
	SerialLogLevelError SerialLogLevel = "ERROR"
)

// SerialLog 一次手控器请求应答的记录
type SerialLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	SessionID string `gorm:"type:varchar(64);index" json:"session_id"` // 进程级会话ID
	RequestID string `gorm:"type:varchar(64);index" json:"request_id"` // 单次交互ID
	Path      string `gorm:"type:varchar(255)" json:"path,omitempty"`  // 设备路径

	Command   string         `gorm:"type:varchar(64);index;not null" json:"command"` // 如 get_position_azm_alt
	CommandID string         `gorm:"type:varchar(4);index" json:"command_id"`        // 命令字节，如 "Z"
	Level     SerialLogLevel `gorm:"type:varchar(10);default:INFO" json:"level"`

	RequestHex string `gorm:"type:text" json:"request_hex"`
	ReplyHex   string `gorm:"type:text" json:"reply_hex,omitempty"`
	BytesOut   int    `gorm:"default:0" json:"bytes_out"`
	BytesIn    int    `gorm:"default:0" json:"bytes_in"`

	ErrorCode int    `gorm:"index;default:0" json:"error_code,omitempty"`
	ErrorMsg  string `gorm:"type:text" json:"error_msg,omitempty"`

	Duration  int64 `gorm:"default:0" json:"duration_us"` // 微秒
	Timestamp int64 `gorm:"index" json:"timestamp"`       // Unix毫秒

	Extra JSONMap `gorm:"type:json" json:"extra,omitempty"`
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// BeforeCreate 创建前的钩子
func (s *SerialLog) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Timestamp == 0 {
		s.Timestamp = s.CreatedAt.UnixMilli()
	}
	if s.Level == "" {
		s.Level = SerialLogLevelInfo
	}
	return nil
}

// Failed 交互是否失败
func (s *SerialLog) Failed() bool {
	return s.ErrorCode != 0 || s.ErrorMsg != ""
}

// SerialLogQuery 查询参数
type SerialLogQuery struct {
	Command   string         `form:"command" json:"command,omitempty"`
	CommandID string         `form:"command_id" json:"command_id,omitempty"`
	Level     SerialLogLevel `form:"level" json:"level,omitempty"`
	SessionID string         `form:"session_id" json:"session_id,omitempty"`
	RequestID string         `form:"request_id" json:"request_id,omitempty"`
	ErrorCode int            `form:"error_code" json:"error_code,omitempty"`
	HasError  *bool          `form:"has_error" json:"has_error,omitempty"`
	StartTime *time.Time     `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00" json:"start_time,omitempty"`
	EndTime   *time.Time     `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00" json:"end_time,omitempty"`
	Limit     int            `form:"limit" json:"limit,omitempty"`
	Offset    int            `form:"offset" json:"offset,omitempty"`
	OrderBy   string         `form:"order_by" json:"order_by,omitempty"`
}

// SerialLogStats 统计信息
type SerialLogStats struct {
	TotalCount    int64            `json:"total_count"`
	TotalErrors   int64            `json:"total_errors"`
	TotalTimeouts int64            `json:"total_timeouts"`
	ErrorRate     float64          `json:"error_rate"`
	AvgDuration   float64          `json:"avg_duration_us"`
	MaxDuration   int64            `json:"max_duration_us"`
	MinDuration   int64            `json:"min_duration_us"`
	ByCommand     map[string]int64 `json:"by_command"`
}
