package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/es"
	"gym-coach-go/pkg/log"
)

// ESVectorRepository 基于 Elasticsearch kNN 实现 VectorRepository。
type ESVectorRepository struct {
	client      *elasticsearch.Client
	indexPrefix string
	dims        int
	overfetch   int
}

// NewESVectorRepository 创建向量仓库，每个集合对应一个索引。
func NewESVectorRepository(client *elasticsearch.Client, indexPrefix string, dims, overfetch int) *ESVectorRepository {
	return &ESVectorRepository{client: client, indexPrefix: indexPrefix, dims: dims, overfetch: overfetch}
}

// EnsureIndices 为所有集合创建索引（已存在则跳过）。
func (r *ESVectorRepository) EnsureIndices(ctx context.Context) error {
	for _, c := range model.Collections {
		if err := es.EnsureIndex(ctx, r.client, r.index(c), es.VectorIndexMapping(r.dims)); err != nil {
			return fmt.Errorf("ensure index for %s: %w", c, err)
		}
	}
	return nil
}

func (r *ESVectorRepository) index(c model.Collection) string {
	return fmt.Sprintf("%s_%s", r.indexPrefix, c)
}

// esDocument 是索引中的文档结构。
type esDocument struct {
	ID            string     `json:"id"`
	Collection    string     `json:"collection"`
	UserID        int64      `json:"user_id,omitempty"`
	Text          string     `json:"text"`
	Embedding     []float32  `json:"embedding,omitempty"`
	MuscleGroup   string     `json:"muscle_group,omitempty"`
	Category      string     `json:"category,omitempty"`
	WorkoutDate   *time.Time `json:"workout_date,omitempty"`
	TotalVolume   float64    `json:"total_volume,omitempty"`
	CompletedSets int        `json:"completed_sets,omitempty"`
	Title         string     `json:"title,omitempty"`
	Source        string     `json:"source,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toESDocument(rec model.IndexedRecord) esDocument {
	doc := esDocument{
		ID:            rec.ID,
		Collection:    string(rec.Collection),
		UserID:        rec.UserID,
		Text:          rec.Text,
		Embedding:     rec.Embedding,
		MuscleGroup:   rec.Attr(model.AttrMuscleGroup),
		Category:      rec.Attr(model.AttrCategory),
		TotalVolume:   rec.TotalVolume,
		CompletedSets: rec.CompletedSets,
		Title:         rec.Title,
		Source:        rec.Source,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if !rec.WorkoutDate.IsZero() {
		d := rec.WorkoutDate
		doc.WorkoutDate = &d
	}
	return doc
}

func (d esDocument) toRecord() model.IndexedRecord {
	rec := model.IndexedRecord{
		ID:            d.ID,
		Collection:    model.Collection(d.Collection),
		UserID:        d.UserID,
		Text:          d.Text,
		TotalVolume:   d.TotalVolume,
		CompletedSets: d.CompletedSets,
		Title:         d.Title,
		Source:        d.Source,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		Attributes:    map[string]string{},
	}
	if d.MuscleGroup != "" {
		rec.Attributes[model.AttrMuscleGroup] = d.MuscleGroup
	}
	if d.Category != "" {
		rec.Attributes[model.AttrCategory] = d.Category
	}
	if d.WorkoutDate != nil {
		rec.WorkoutDate = *d.WorkoutDate
	}
	return rec
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string     `json:"_id"`
			Score  float64    `json:"_score"`
			Source esDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// termFilters 把属性过滤转换为 term 查询，user_id 按数值匹配。
func termFilters(filter map[string]string) []map[string]interface{} {
	terms := make([]map[string]interface{}, 0, len(filter))
	for k, v := range filter {
		var value interface{} = v
		if k == model.AttrUserID {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				value = id
			}
		}
		terms = append(terms, map[string]interface{}{"term": map[string]interface{}{k: value}})
	}
	return terms
}

// Search 使用 kNN 取回候选集，属性过滤作为 kNN 的预过滤条件。
func (r *ESVectorRepository) Search(ctx context.Context, collection model.Collection, q SearchQuery) ([]model.ScoredRecord, error) {
	if q.TopK <= 0 {
		return []model.ScoredRecord{}, nil
	}
	k := candidateCount(q.TopK, r.overfetch)
	knn := map[string]interface{}{
		"field":          "embedding",
		"query_vector":   q.Vector,
		"k":              k,
		"num_candidates": k * 10,
	}
	if len(q.Filter) > 0 {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": termFilters(q.Filter)},
		}
	}
	query := map[string]interface{}{
		"knn":     knn,
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"embedding"}},
	}

	var resp esSearchResponse
	if err := es.Search(ctx, r.client, r.index(collection), query, &resp); err != nil {
		return nil, err
	}

	hits := make([]model.ScoredRecord, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		rec := h.Source.toRecord()
		if rec.ID == "" {
			rec.ID = h.ID
		}
		// cosine 的 _score = (1 + cos) / 2
		hits = append(hits, model.ScoredRecord{Record: rec, Similarity: 2*h.Score - 1})
	}
	ranked := RankHits(hits, q.Floor, q.TopK)
	log.Debugf("[VectorRepository] %s: %d candidates, %d above floor %.2f", collection, len(hits), len(ranked), q.Floor)
	return ranked, nil
}

func (r *ESVectorRepository) List(ctx context.Context, collection model.Collection, q ListQuery) ([]model.IndexedRecord, error) {
	filters := termFilters(q.Filter)
	if !q.Since.IsZero() {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"workout_date": map[string]interface{}{"gte": q.Since.Format(time.RFC3339)}},
		})
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
		"sort": []interface{}{
			map[string]interface{}{"workout_date": map[string]interface{}{"order": "desc", "unmapped_type": "date"}},
			map[string]interface{}{"id": "asc"},
		},
		"size":    listLimit(q.Limit),
		"_source": map[string]interface{}{"excludes": []string{"embedding"}},
	}

	var resp esSearchResponse
	if err := es.Search(ctx, r.client, r.index(collection), query, &resp); err != nil {
		return nil, err
	}
	out := make([]model.IndexedRecord, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		out = append(out, h.Source.toRecord())
	}
	sortByWorkoutDate(out)
	return out, nil
}

func (r *ESVectorRepository) Upsert(ctx context.Context, collection model.Collection, records []model.IndexedRecord) error {
	items := make([]es.BulkItem, 0, len(records))
	for _, rec := range records {
		rec.Collection = collection
		items = append(items, es.BulkItem{ID: rec.ID, Doc: toESDocument(rec)})
	}
	return es.Bulk(ctx, r.client, r.index(collection), items)
}

func (r *ESVectorRepository) Delete(ctx context.Context, collection model.Collection, ids []string) error {
	items := make([]es.BulkItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, es.BulkItem{ID: id})
	}
	return es.Bulk(ctx, r.client, r.index(collection), items)
}

func (r *ESVectorRepository) Count(ctx context.Context, collection model.Collection) (int, error) {
	return es.Count(ctx, r.client, r.index(collection))
}

func (r *ESVectorRepository) Ping(ctx context.Context) error {
	res, err := r.client.Ping(r.client.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}
