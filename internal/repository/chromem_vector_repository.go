package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"gym-coach-go/internal/model"
)

// ChromemVectorRepository 是进程内的向量仓库，适合单机部署与测试。
// chromem 只保存向量与可过滤属性，完整记录保存在 records 中用于 List 与结果还原。
type ChromemVectorRepository struct {
	db        *chromem.DB
	overfetch int

	mu          sync.RWMutex
	collections map[model.Collection]*chromem.Collection
	records     map[model.Collection]map[string]model.IndexedRecord
}

// NewChromemVectorRepository 创建内存向量仓库，并预先建立全部集合。
func NewChromemVectorRepository(overfetch int) (*ChromemVectorRepository, error) {
	r := &ChromemVectorRepository{
		db:          chromem.NewDB(),
		overfetch:   overfetch,
		collections: make(map[model.Collection]*chromem.Collection),
		records:     make(map[model.Collection]map[string]model.IndexedRecord),
	}
	for _, c := range model.Collections {
		// 不设置 embedding func，向量由调用方提供；距离使用默认的 cosine
		col, err := r.db.CreateCollection(string(c), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", c, err)
		}
		r.collections[c] = col
		r.records[c] = make(map[string]model.IndexedRecord)
	}
	return r, nil
}

func (r *ChromemVectorRepository) collection(c model.Collection) (*chromem.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	col, ok := r.collections[c]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	return col, nil
}

func metadataOf(rec model.IndexedRecord) map[string]string {
	md := make(map[string]string, len(rec.Attributes)+1)
	for k, v := range rec.Attributes {
		md[k] = v
	}
	if rec.UserID != 0 {
		md[model.AttrUserID] = strconv.FormatInt(rec.UserID, 10)
	}
	if rec.Source != "" {
		md[model.AttrSource] = rec.Source
	}
	return md
}

func (r *ChromemVectorRepository) Search(ctx context.Context, collection model.Collection, q SearchQuery) ([]model.ScoredRecord, error) {
	col, err := r.collection(collection)
	if err != nil {
		return nil, err
	}
	total := col.Count()
	if q.TopK <= 0 || total == 0 {
		return []model.ScoredRecord{}, nil
	}
	// chromem 要求 nResults 不超过集合大小
	n := candidateCount(q.TopK, r.overfetch)
	if n > total {
		n = total
	}
	var where map[string]string
	if len(q.Filter) > 0 {
		where = q.Filter
	}
	results, err := col.QueryEmbedding(ctx, q.Vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	r.mu.RLock()
	stored := r.records[collection]
	hits := make([]model.ScoredRecord, 0, len(results))
	for _, res := range results {
		rec, ok := stored[res.ID]
		if !ok {
			continue
		}
		hits = append(hits, model.ScoredRecord{Record: rec, Similarity: float64(res.Similarity)})
	}
	r.mu.RUnlock()

	return RankHits(hits, q.Floor, q.TopK), nil
}

func (r *ChromemVectorRepository) List(_ context.Context, collection model.Collection, q ListQuery) ([]model.IndexedRecord, error) {
	if _, err := r.collection(collection); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []model.IndexedRecord
	for _, rec := range r.records[collection] {
		if !matches(rec, q.Filter) {
			continue
		}
		if !q.Since.IsZero() && rec.WorkoutDate.Before(q.Since) {
			continue
		}
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sortByWorkoutDate(out)
	if limit := listLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(rec model.IndexedRecord, filter map[string]string) bool {
	md := metadataOf(rec)
	for k, v := range filter {
		if md[k] != v {
			return false
		}
	}
	return true
}

func (r *ChromemVectorRepository) Upsert(ctx context.Context, collection model.Collection, records []model.IndexedRecord) error {
	col, err := r.collection(collection)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", rec.ID)
		}
		rec.Collection = collection
		// AddDocument 对相同 ID 覆盖写入
		err := col.AddDocument(ctx, chromem.Document{
			ID:        rec.ID,
			Content:   rec.Text,
			Embedding: rec.Embedding,
			Metadata:  metadataOf(rec),
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", rec.ID, err)
		}
		rec.Embedding = nil
		r.mu.Lock()
		r.records[collection][rec.ID] = rec
		r.mu.Unlock()
	}
	return nil
}

func (r *ChromemVectorRepository) Delete(ctx context.Context, collection model.Collection, ids []string) error {
	col, err := r.collection(collection)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	r.mu.Lock()
	for _, id := range ids {
		delete(r.records[collection], id)
	}
	r.mu.Unlock()
	return nil
}

func (r *ChromemVectorRepository) Count(_ context.Context, collection model.Collection) (int, error) {
	col, err := r.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (r *ChromemVectorRepository) Ping(context.Context) error { return nil }
