package database

import (
	"fmt"
	"strings"

	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/logger"
	"github.com/wfunc/nexstar-hc/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationModels 需要迁移的模型
var migrationModels = []interface{}{
	&models.SerialLog{},
	&models.ConnectionEvent{},
}

// 大表只补索引，不再 AutoMigrate
const largeTableThreshold = 10000

var serialLogIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_command ON serial_logs(command)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_command_id ON serial_logs(command_id)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_error_code ON serial_logs(error_code)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_session_id ON serial_logs(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_request_id ON serial_logs(request_id)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_created_at ON serial_logs(created_at)",
	"CREATE INDEX IF NOT EXISTS idx_serial_logs_timestamp ON serial_logs(timestamp)",
}

// AutoMigrate 迁移全局数据库
func AutoMigrate() error {
	if DB == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}
	return Migrate(DB)
}

// Migrate 迁移指定数据库的表结构
func Migrate(db *gorm.DB) error {
	CleanupStaleLocks()

	// 多个进程共用一个 SQLite 文件时避免同时迁移
	if dbPath := getDBPath(db); dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return errors.Wrap(err, errors.ErrDatabaseConnect, "获取迁移锁失败")
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")

	for _, model := range migrationModels {
		tableName := tableNameOf(db, model)

		if shouldSkipMigration(db, tableName) {
			logger.Info("跳过大型表的迁移", zap.String("table", tableName))
			continue
		}

		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return errors.Wrap(err, errors.ErrDatabaseConnect, "迁移 "+tableName)
		}
		logger.Debug("迁移成功", zap.String("table", tableName))
	}

	ensureIndexes(db, serialLogIndexes)

	logger.Info("数据库迁移完成")
	return nil
}

// tableNameOf 使用 GORM 的命名规则解析表名
func tableNameOf(db *gorm.DB, model interface{}) string {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return fmt.Sprintf("%T", model)
	}
	return stmt.Schema.Table
}

// shouldSkipMigration 交互日志表数据量很大时只补索引
func shouldSkipMigration(db *gorm.DB, tableName string) bool {
	if tableName != "serial_logs" || !db.Migrator().HasTable(tableName) {
		return false
	}

	var count int64
	if err := db.Table(tableName).Count(&count).Error; err != nil {
		return false
	}
	if count <= largeTableThreshold {
		return false
	}

	logger.Info("表中数据量较大，跳过AutoMigrate",
		zap.String("table", tableName),
		zap.Int64("count", count))
	ensureIndexes(db, serialLogIndexes)
	return true
}

// ensureIndexes 创建缺失的索引，忽略已存在
func ensureIndexes(db *gorm.DB, indexes []string) {
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
			}
		}
	}
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables(db *gorm.DB) error {
	for i := len(migrationModels) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(migrationModels[i]); err != nil {
			logger.Error("删除表失败", zap.String("table", tableNameOf(db, migrationModels[i])), zap.Error(err))
			return errors.Wrap(err, errors.ErrDatabaseDelete)
		}
	}
	logger.Info("所有表已删除")
	return nil
}
