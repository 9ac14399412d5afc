package repository

import (
	"gorm.io/gorm"

	"gym-coach-go/internal/model"
)

// SyncRepository 记录同步任务的执行结果。
type SyncRepository interface {
	Create(meta *model.SyncMetadata) error
	Recent(limit int) ([]model.SyncMetadata, error)
	LastSuccess(syncType string) (*model.SyncMetadata, error)
}

type syncRepository struct {
	db *gorm.DB
}

// NewSyncRepository 创建一个新的 SyncRepository 实例。
func NewSyncRepository(db *gorm.DB) SyncRepository {
	return &syncRepository{db: db}
}

func (r *syncRepository) Create(meta *model.SyncMetadata) error {
	return r.db.Create(meta).Error
}

// Recent 按时间倒序返回最近 limit 条同步记录。
func (r *syncRepository) Recent(limit int) ([]model.SyncMetadata, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []model.SyncMetadata
	err := r.db.Order("last_sync_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// LastSuccess 返回某类同步最近一次成功的记录，没有时返回 nil。
func (r *syncRepository) LastSuccess(syncType string) (*model.SyncMetadata, error) {
	var row model.SyncMetadata
	err := r.db.Where("sync_type = ? AND status = ?", syncType, model.SyncStatusSuccess).
		Order("last_sync_at desc").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
