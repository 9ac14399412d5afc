// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/es"
	"gym-coach-go/pkg/log"
)

// SearchQuery 描述一次近邻检索。Filter 中的属性在排序之前过滤。
type SearchQuery struct {
	Vector []float32
	TopK   int
	Floor  float64
	Filter map[string]string
}

// ListQuery 按属性与训练日期列出记录，结果按日期倒序。
type ListQuery struct {
	Filter map[string]string
	Since  time.Time
	Limit  int
}

// VectorRepository 是相似度索引的访问接口。
//
// 所有实现使用同一种策略: 先取 TopK*overfetch 个按相似度排序的候选，
// 再由 RankHits 统一做下限过滤、排序和截断。
type VectorRepository interface {
	Search(ctx context.Context, collection model.Collection, q SearchQuery) ([]model.ScoredRecord, error)
	List(ctx context.Context, collection model.Collection, q ListQuery) ([]model.IndexedRecord, error)
	Upsert(ctx context.Context, collection model.Collection, records []model.IndexedRecord) error
	Delete(ctx context.Context, collection model.Collection, ids []string) error
	Count(ctx context.Context, collection model.Collection) (int, error)
	Ping(ctx context.Context) error
}

const (
	defaultOverfetch  = 2
	minCandidateSlack = 10
)

// MaxListLimit 为 List 单次返回的上限。
const MaxListLimit = 1000

// candidateCount 返回需要从底层索引取回的候选数。
func candidateCount(topK, overfetch int) int {
	if overfetch < 1 {
		overfetch = defaultOverfetch
	}
	n := topK * overfetch
	if n < topK+minCandidateSlack {
		n = topK + minCandidateSlack
	}
	return n
}

// RankHits 丢弃相似度低于 floor 的记录，按相似度降序、ID 升序排序，最多返回 topK 条，不做填充。
func RankHits(hits []model.ScoredRecord, floor float64, topK int) []model.ScoredRecord {
	out := make([]model.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= floor {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// sortByWorkoutDate 按训练日期倒序，日期相同按 ID 升序。
func sortByWorkoutDate(records []model.IndexedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].WorkoutDate.Equal(records[j].WorkoutDate) {
			return records[i].WorkoutDate.After(records[j].WorkoutDate)
		}
		return records[i].ID < records[j].ID
	})
}

func listLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// NewVectorRepository 按 vector.backend 创建向量仓库。
// "elasticsearch" 会创建缺失的索引；"memory" 使用进程内的 chromem，重启后数据丢失。
func NewVectorRepository(ctx context.Context, cfg config.Config) (VectorRepository, error) {
	switch cfg.Vector.Backend {
	case "memory":
		log.Warnf("[VectorRepository] 使用内存索引，数据不会持久化")
		return NewChromemVectorRepository(cfg.Vector.Overfetch)
	case "", "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
		repo := NewESVectorRepository(client, cfg.Elasticsearch.IndexPrefix, cfg.Embedding.Dimensions, cfg.Vector.Overfetch)
		if err := repo.EnsureIndices(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
}
