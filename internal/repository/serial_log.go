package repository

import (
	"context"
	"time"

	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/models"
	"gorm.io/gorm"
)

// 允许的排序字段
var serialLogOrders = map[string]string{
	"":                "created_at DESC, id DESC",
	"created_at":      "created_at ASC, id ASC",
	"created_at desc": "created_at DESC, id DESC",
	"duration":        "duration ASC",
	"duration desc":   "duration DESC",
	"command":         "command ASC, created_at DESC",
}

// SerialLogRepository 交互日志仓库
type SerialLogRepository struct {
	*BaseRepo
}

// NewSerialLogRepository 创建交互日志仓库
func NewSerialLogRepository(db *gorm.DB) *SerialLogRepository {
	return &SerialLogRepository{BaseRepo: NewBaseRepo(db)}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(ctx context.Context, log *models.SerialLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(ctx context.Context, logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// GetByID 根据ID获取日志
func (r *SerialLogRepository) GetByID(ctx context.Context, id uint) (*models.SerialLog, error) {
	var log models.SerialLog
	err := r.db.WithContext(ctx).First(&log, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.Newf(errors.ErrNotFound, "serial log %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return &log, nil
}

// GetByRequestID 根据交互ID获取日志
func (r *SerialLogRepository) GetByRequestID(ctx context.Context, requestID string) (*models.SerialLog, error) {
	var log models.SerialLog
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&log).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.Newf(errors.ErrNotFound, "serial log %s", requestID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return &log, nil
}

// Query 按条件分页查询
func (r *SerialLogRepository) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	order, ok := serialLogOrders[query.OrderBy]
	if !ok {
		return nil, 0, errors.Newf(errors.ErrInvalidParam, "unsupported order_by %q", query.OrderBy)
	}

	db := r.db.WithContext(ctx).Model(&models.SerialLog{})

	if query.Command != "" {
		db = db.Where("command = ?", query.Command)
	}
	if query.CommandID != "" {
		db = db.Where("command_id = ?", query.CommandID)
	}
	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.ErrorCode != 0 {
		db = db.Where("error_code = ?", query.ErrorCode)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where("error_code <> 0")
		} else {
			db = db.Where("error_code = 0")
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrDatabaseQuery)
	}

	db = db.Order(order)
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.SerialLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return logs, total, nil
}

// GetStats 获取统计信息
func (r *SerialLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	scoped := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.SerialLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	stats := &models.SerialLogStats{ByCommand: make(map[string]int64)}

	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	if err := scoped().Where("error_code <> 0").Count(&stats.TotalErrors).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	if err := scoped().Where("error_code = ?", int(errors.ErrSerialTimeout)).Count(&stats.TotalTimeouts).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	if stats.TotalCount > 0 {
		stats.ErrorRate = float64(stats.TotalErrors) / float64(stats.TotalCount)
	}

	type durationStats struct {
		AvgDuration float64
		MaxDuration int64
		MinDuration int64
	}
	var ds durationStats
	if err := scoped().
		Select("COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration, COALESCE(MIN(duration), 0) as min_duration").
		Scan(&ds).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	stats.AvgDuration = ds.AvgDuration
	stats.MaxDuration = ds.MaxDuration
	stats.MinDuration = ds.MinDuration

	type commandCount struct {
		Command string
		Count   int64
	}
	var counts []commandCount
	if err := scoped().
		Select("command, COUNT(*) as count").
		Group("command").
		Scan(&counts).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	for _, c := range counts {
		stats.ByCommand[c.Command] = c.Count
	}

	return stats, nil
}

// GetLatest 获取最新的日志记录，command 为空时不过滤
func (r *SerialLogRepository) GetLatest(ctx context.Context, limit int, command string) ([]*models.SerialLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []*models.SerialLog
	db := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if command != "" {
		db = db.Where("command = ?", command)
	}
	if err := db.Find(&logs).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return logs, nil
}

// GetErrorLogs 获取失败的交互
func (r *SerialLogRepository) GetErrorLogs(ctx context.Context, limit int) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.WithContext(ctx).
		Where("error_code <> 0").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return logs, nil
}

// DeleteOldLogs 删除旧日志
func (r *SerialLogRepository) DeleteOldLogs(ctx context.Context, beforeTime time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", beforeTime).Delete(&models.SerialLog{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.ErrDatabaseDelete)
	}
	return result.RowsAffected, nil
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *SerialLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.Newf(errors.ErrInvalidParam, "retention days must be greater than 0, got %d", retentionDays)
	}
	beforeTime := time.Now().AddDate(0, 0, -retentionDays)
	return r.DeleteOldLogs(ctx, beforeTime)
}
