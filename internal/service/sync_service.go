package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"gym-coach-go/internal/model"
	"gym-coach-go/internal/repository"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/storage"
	"gym-coach-go/pkg/tika"
)

const (
	knowledgeChunkSize    = 1000
	knowledgeChunkOverlap = 100
	maxKnowledgeBytes     = 10 << 20
	defaultSyncDays       = 30
)

// SourceClient 是训练数据的权威来源。
type SourceClient interface {
	ExportExercises(ctx context.Context) ([]model.Exercise, error)
	ExercisesUpdatedSince(ctx context.Context, since time.Time) ([]model.Exercise, error)
	WorkoutsUpdatedSince(ctx context.Context, since time.Time, userID *int64) ([]model.WorkoutLog, error)
	UserWorkouts(ctx context.Context, userID int64, start, end time.Time, limit int) ([]model.WorkoutLog, error)
}

// BatchEmbedder 批量向量化文本，输出顺序与输入一致。
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// KnowledgeSource 提供知识库文档。
type KnowledgeSource interface {
	List(ctx context.Context, since time.Time) ([]storage.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor 从二进制文档中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// SyncService 把权威数据同步到相似度索引中。
type SyncService interface {
	Run(ctx context.Context, task model.SyncTask) (*model.SyncResult, error)
	SyncExercises(ctx context.Context, since time.Time) (*model.SyncResult, error)
	SyncWorkouts(ctx context.Context, userID *int64, days int, since time.Time) (*model.SyncResult, error)
	SyncKnowledge(ctx context.Context, since time.Time) (*model.SyncResult, error)
	Recent(limit int) ([]model.SyncMetadata, error)
}

type syncService struct {
	source    SourceClient
	embedder  BatchEmbedder
	vectors   repository.VectorRepository
	syncRepo  repository.SyncRepository
	knowledge KnowledgeSource
	extractor TextExtractor
	now       func() time.Time
}

// NewSyncService 创建一个新的 SyncService。syncRepo、knowledge 与 extractor 可以为 nil：
// 没有 syncRepo 时不记录同步元数据，没有 knowledge 时不支持知识库同步。
func NewSyncService(source SourceClient, embedder BatchEmbedder, vectors repository.VectorRepository,
	syncRepo repository.SyncRepository, knowledge KnowledgeSource, extractor TextExtractor) SyncService {
	return &syncService{
		source:    source,
		embedder:  embedder,
		vectors:   vectors,
		syncRepo:  syncRepo,
		knowledge: knowledge,
		extractor: extractor,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run 根据任务类型分发。
func (s *syncService) Run(ctx context.Context, task model.SyncTask) (*model.SyncResult, error) {
	switch task.Type {
	case model.SyncTypeExercises:
		return s.SyncExercises(ctx, task.Since)
	case model.SyncTypeWorkouts:
		return s.SyncWorkouts(ctx, task.UserID, task.Days, task.Since)
	case model.SyncTypeKnowledge:
		return s.SyncKnowledge(ctx, task.Since)
	}
	return nil, model.Validationf("unknown sync type %q", task.Type)
}

// SyncExercises 全量或增量同步动作库。
func (s *syncService) SyncExercises(ctx context.Context, since time.Time) (*model.SyncResult, error) {
	return s.record(model.SyncTypeExercises, func() (*model.SyncResult, error) {
		var exercises []model.Exercise
		var err error
		if since.IsZero() {
			exercises, err = s.source.ExportExercises(ctx)
		} else {
			exercises, err = s.source.ExercisesUpdatedSince(ctx, since)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch exercises: %w", err)
		}
		log.Infof("[SyncService] 获取到 %d 个动作", len(exercises))

		now := s.now()
		records := make([]model.IndexedRecord, 0, len(exercises))
		for _, e := range exercises {
			attrs := map[string]string{}
			if e.MuscleGroup != "" {
				attrs[model.AttrMuscleGroup] = strings.ToUpper(e.MuscleGroup)
			}
			records = append(records, model.IndexedRecord{
				ID:         model.ExerciseRecordID(e.ID),
				Text:       e.EmbeddingText(),
				Attributes: attrs,
				Title:      e.Name,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		result := &model.SyncResult{SyncType: model.SyncTypeExercises}
		if err := s.embedAndUpsert(ctx, model.CollectionExercises, records); err != nil {
			return nil, err
		}
		result.Synced = len(records)
		return result, nil
	})
}

// SyncWorkouts 同步训练记录。指定用户时拉取该用户最近 days 天的记录，
// 否则拉取最近 days 天（或 since 之后）有变化的全部记录。
func (s *syncService) SyncWorkouts(ctx context.Context, userID *int64, days int, since time.Time) (*model.SyncResult, error) {
	if days <= 0 {
		days = defaultSyncDays
	}
	return s.record(model.SyncTypeWorkouts, func() (*model.SyncResult, error) {
		now := s.now()
		var logs []model.WorkoutLog
		var err error
		switch {
		case !since.IsZero():
			logs, err = s.source.WorkoutsUpdatedSince(ctx, since, userID)
		case userID != nil:
			logs, err = s.source.UserWorkouts(ctx, *userID, now.AddDate(0, 0, -days), now, 1000)
		default:
			logs, err = s.source.WorkoutsUpdatedSince(ctx, now.AddDate(0, 0, -days), nil)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch workouts: %w", err)
		}
		log.Infof("[SyncService] 获取到 %d 条训练记录", len(logs))

		result := &model.SyncResult{SyncType: model.SyncTypeWorkouts}
		records := make([]model.IndexedRecord, 0, len(logs))
		for _, w := range logs {
			date, err := w.Date()
			if err != nil {
				log.Warnf("[SyncService] 跳过训练记录 %d: %v", w.ID, err)
				result.Skipped++
				continue
			}
			records = append(records, model.IndexedRecord{
				ID:            model.WorkoutRecordID(w.ID),
				UserID:        w.UserID,
				Text:          w.EmbeddingText(),
				WorkoutDate:   date,
				TotalVolume:   w.TotalVolume(),
				CompletedSets: w.CompletedSets(),
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
		if err := s.embedAndUpsert(ctx, model.CollectionWorkouts, records); err != nil {
			return nil, err
		}
		result.Synced = len(records)
		return result, nil
	})
}

// SyncKnowledge 把对象存储中的知识库文档切块后写入索引。
// 文档路径的第一级目录作为分类，例如 knowledge/recovery/deload.md 的分类为 recovery。
func (s *syncService) SyncKnowledge(ctx context.Context, since time.Time) (*model.SyncResult, error) {
	if s.knowledge == nil {
		return nil, fmt.Errorf("knowledge store is not configured")
	}
	return s.record(model.SyncTypeKnowledge, func() (*model.SyncResult, error) {
		objects, err := s.knowledge.List(ctx, since)
		if err != nil {
			return nil, err
		}
		log.Infof("[SyncService] 发现 %d 个知识库文档", len(objects))

		result := &model.SyncResult{SyncType: model.SyncTypeKnowledge}
		for _, obj := range objects {
			text, err := s.readDocument(ctx, obj.Key)
			if err != nil {
				log.Warnf("[SyncService] 读取文档 %s 失败, 跳过: %v", obj.Key, err)
				result.Skipped++
				continue
			}
			chunks := splitText(text, knowledgeChunkSize, knowledgeChunkOverlap)
			if len(chunks) == 0 {
				result.Skipped++
				continue
			}

			title := strings.TrimSuffix(path.Base(obj.Key), path.Ext(obj.Key))
			attrs := map[string]string{}
			if c := knowledgeCategory(obj.Key); c != "" {
				attrs[model.AttrCategory] = c
			}
			records := make([]model.IndexedRecord, 0, len(chunks))
			for i, chunk := range chunks {
				records = append(records, model.IndexedRecord{
					ID:         fmt.Sprintf("%s#%d", model.KnowledgeRecordID(obj.Key), i),
					Text:       chunk,
					Attributes: attrs,
					Title:      title,
					Source:     obj.Key,
					CreatedAt:  obj.LastModified,
					UpdatedAt:  s.now(),
				})
			}
			if err := s.embedAndUpsert(ctx, model.CollectionKnowledge, records); err != nil {
				return nil, err
			}
			s.deleteStaleChunks(ctx, obj.Key, len(chunks))
			result.Synced += len(records)
		}
		return result, nil
	})
}

func (s *syncService) Recent(limit int) ([]model.SyncMetadata, error) {
	if s.syncRepo == nil {
		return []model.SyncMetadata{}, nil
	}
	return s.syncRepo.Recent(limit)
}

func (s *syncService) readDocument(ctx context.Context, key string) (string, error) {
	rc, err := s.knowledge.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	r := io.LimitReader(rc, maxKnowledgeBytes)

	if tika.IsPlainText(key) {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	if s.extractor == nil {
		return "", fmt.Errorf("no text extractor for %s", key)
	}
	return s.extractor.ExtractText(ctx, r, path.Base(key))
}

// deleteStaleChunks 删除文档变短后遗留的旧分块。按 source 过滤，只扫描该文档自己的分块，
// 分块超过一页时逐页删除直到没有旧分块。
func (s *syncService) deleteStaleChunks(ctx context.Context, key string, keep int) {
	prefix := model.KnowledgeRecordID(key) + "#"
	query := repository.ListQuery{Filter: map[string]string{model.AttrSource: key}}
	for {
		existing, err := s.vectors.List(ctx, model.CollectionKnowledge, query)
		if err != nil {
			log.Warnf("[SyncService] 列出知识库分块失败: %v", err)
			return
		}
		var stale []string
		for _, rec := range existing {
			if !strings.HasPrefix(rec.ID, prefix) {
				continue
			}
			var idx int
			if _, err := fmt.Sscanf(strings.TrimPrefix(rec.ID, prefix), "%d", &idx); err == nil && idx >= keep {
				stale = append(stale, rec.ID)
			}
		}
		if len(stale) == 0 {
			return
		}
		if err := s.vectors.Delete(ctx, model.CollectionKnowledge, stale); err != nil {
			log.Warnf("[SyncService] 删除旧分块失败: %v", err)
			return
		}
		log.Infof("[SyncService] 已删除 %s 的 %d 个旧分块", key, len(stale))
		if len(existing) < repository.MaxListLimit {
			return
		}
	}
}
