package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 创建迁移好的内存数据库，测试结束时自动关闭
func SetupTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	// 每个测试独立的内存库
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.SerialLog{}, &models.ConnectionEvent{}))

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// CreateTestSerialLog 构造一条交互记录，err 非零时记为失败
func CreateTestSerialLog(command, commandID string, code errors.ErrorCode, at time.Time) *models.SerialLog {
	log := &models.SerialLog{
		CreatedAt:  at,
		SessionID:  "test-session",
		RequestID:  uuid.NewString(),
		Path:       "/dev/ttyUSB0",
		Command:    command,
		CommandID:  commandID,
		Level:      models.SerialLogLevelInfo,
		RequestHex: fmt.Sprintf("%X", commandID),
		BytesOut:   len(commandID),
		Duration:   1500,
	}
	if code != 0 {
		log.Level = models.SerialLogLevelError
		log.ErrorCode = int(code)
		log.ErrorMsg = errors.New(code).Error()
	}
	return log
}

// SeedSerialLogs 写入一组有代表性的交互记录并返回
func SeedSerialLogs(t testing.TB, db *gorm.DB) []*models.SerialLog {
	t.Helper()

	base := time.Now().Add(-time.Hour)
	logs := []*models.SerialLog{
		CreateTestSerialLog("get_version", "V", 0, base),
		CreateTestSerialLog("get_position_azm_alt", "Z", 0, base.Add(time.Minute)),
		CreateTestSerialLog("get_position_azm_alt", "Z", errors.ErrSerialTimeout, base.Add(2*time.Minute)),
		CreateTestSerialLog("goto_azm_alt", "B", 0, base.Add(3*time.Minute)),
		CreateTestSerialLog("passthrough", "P", errors.ErrPassthrough, base.Add(4*time.Minute)),
	}
	logs[1].Duration = 500
	logs[2].Duration = 3500000

	require.NoError(t, db.Create(&logs).Error)
	return logs
}

// AssertSerialLog 比较两条交互记录的业务字段
func AssertSerialLog(t testing.TB, expected, actual *models.SerialLog) {
	t.Helper()
	assert.Equal(t, expected.RequestID, actual.RequestID)
	assert.Equal(t, expected.Command, actual.Command)
	assert.Equal(t, expected.CommandID, actual.CommandID)
	assert.Equal(t, expected.ErrorCode, actual.ErrorCode)
	assert.Equal(t, expected.Duration, actual.Duration)
}
