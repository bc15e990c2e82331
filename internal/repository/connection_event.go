package repository

import (
	"context"
	"time"

	"github.com/wfunc/nexstar-hc/internal/errors"
	"github.com/wfunc/nexstar-hc/internal/models"
	"gorm.io/gorm"
)

// ConnectionEventRepository 连接事件仓储接口
type ConnectionEventRepository interface {
	Create(ctx context.Context, event *models.ConnectionEvent) error
	List(ctx context.Context, p *Pagination) ([]*models.ConnectionEvent, error)
	FindBySession(ctx context.Context, sessionID string) ([]*models.ConnectionEvent, error)
	LastConnected(ctx context.Context) (*models.ConnectionEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// connectionEventRepo 连接事件仓储实现
type connectionEventRepo struct {
	*BaseRepo
}

// NewConnectionEventRepository 创建连接事件仓储
func NewConnectionEventRepository(db *gorm.DB) ConnectionEventRepository {
	return &connectionEventRepo{BaseRepo: NewBaseRepo(db)}
}

func (r *connectionEventRepo) Create(ctx context.Context, event *models.ConnectionEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert)
	}
	return nil
}

// List 按时间倒序分页列出，同时填充总数
func (r *connectionEventRepo) List(ctx context.Context, p *Pagination) ([]*models.ConnectionEvent, error) {
	db := r.db.WithContext(ctx).Model(&models.ConnectionEvent{})
	if err := db.Count(&p.Total).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}

	var events []*models.ConnectionEvent
	err := db.Scopes(Paginate(p)).
		Order("created_at DESC, id DESC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return events, nil
}

func (r *connectionEventRepo) FindBySession(ctx context.Context, sessionID string) ([]*models.ConnectionEvent, error) {
	var events []*models.ConnectionEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return events, nil
}

// LastConnected 最近一次进入 connected 的记录
func (r *connectionEventRepo) LastConnected(ctx context.Context) (*models.ConnectionEvent, error) {
	var event models.ConnectionEvent
	err := r.db.WithContext(ctx).
		Where("to_state = ?", "connected").
		Order("created_at DESC, id DESC").
		First(&event).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.New(errors.ErrNotFound, "no connection recorded")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return &event, nil
}

func (r *connectionEventRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.ConnectionEvent{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.ErrDatabaseDelete)
	}
	return result.RowsAffected, nil
}
