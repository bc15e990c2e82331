package models

import (
	"time"
)

// ConnectionEvent 连接状态变化记录
type ConnectionEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
	SessionID string    `gorm:"type:varchar(64);index" json:"session_id"`
	Path      string    `gorm:"type:varchar(255)" json:"path"`
	FromState string    `gorm:"type:varchar(20);not null" json:"from_state"`
	ToState   string    `gorm:"type:varchar(20);index;not null" json:"to_state"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
}

// TableName 指定表名
func (ConnectionEvent) TableName() string {
	return "connection_events"
}
