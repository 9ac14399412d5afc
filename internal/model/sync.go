package model

import "time"

// 同步类型
const (
	SyncTypeExercises = "exercises"
	SyncTypeWorkouts  = "workouts"
	SyncTypeKnowledge = "knowledge"
)

// 同步状态
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// SyncMetadata 对应 sync_metadata 表，记录每次同步的结果。
type SyncMetadata struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SyncType       string    `gorm:"type:varchar(32);index;not null" json:"syncType"`
	LastSyncAt     time.Time `gorm:"not null" json:"lastSyncAt"`
	SyncDurationMs int64     `json:"syncDurationMs"`
	EntitiesSynced int       `json:"entitiesSynced"`
	Status         string    `gorm:"type:varchar(16);not null" json:"status"`
	ErrorMessage   string    `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (SyncMetadata) TableName() string {
	return "sync_metadata"
}

// SyncTask 是发送到 Kafka 的同步任务。
type SyncTask struct {
	Type   string `json:"type"`
	UserID *int64 `json:"user_id,omitempty"`
	Days   int    `json:"days,omitempty"`
	// Since 非零时做增量同步。
	Since time.Time `json:"since,omitempty"`
}

// Key 用于失败计数等幂等场景。
func (t SyncTask) Key() string {
	key := t.Type
	if t.UserID != nil {
		key += ":" + itoa(*t.UserID)
	}
	if !t.Since.IsZero() {
		key += ":" + t.Since.UTC().Format(time.RFC3339)
	}
	return key
}

// SyncResult 为一次同步的统计。
type SyncResult struct {
	SyncType string        `json:"syncType"`
	Synced   int           `json:"synced"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}
