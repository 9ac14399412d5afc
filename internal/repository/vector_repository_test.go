package repository

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/es"
)

// unitAt 返回与 x 轴夹角余弦为 cos 的二维单位向量。
func unitAt(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func seedExercises(t *testing.T, repo VectorRepository) {
	t.Helper()
	recs := []model.IndexedRecord{
		{ID: "ex-a", Text: "Bench Press", Embedding: unitAt(0.95), Attributes: map[string]string{model.AttrMuscleGroup: "CHEST"}},
		{ID: "ex-b", Text: "Incline Press", Embedding: unitAt(0.80), Attributes: map[string]string{model.AttrMuscleGroup: "CHEST"}},
		{ID: "ex-c", Text: "Chest Fly", Embedding: unitAt(0.80), Attributes: map[string]string{model.AttrMuscleGroup: "CHEST"}},
		{ID: "ex-d", Text: "Squat", Embedding: unitAt(0.50), Attributes: map[string]string{model.AttrMuscleGroup: "LEGS"}},
		{ID: "ex-e", Text: "Plank", Embedding: unitAt(0.10), Attributes: map[string]string{model.AttrMuscleGroup: "CORE"}},
	}
	require.NoError(t, repo.Upsert(context.Background(), model.CollectionExercises, recs))
}

func TestRankHits(t *testing.T) {
	hits := []model.ScoredRecord{
		{Record: model.IndexedRecord{ID: "b"}, Similarity: 0.5},
		{Record: model.IndexedRecord{ID: "a"}, Similarity: 0.5},
		{Record: model.IndexedRecord{ID: "c"}, Similarity: 0.9},
		{Record: model.IndexedRecord{ID: "d"}, Similarity: 0.29},
	}
	got := RankHits(hits, 0.3, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Record.ID)
	assert.Equal(t, "a", got[1].Record.ID)
	assert.Equal(t, "b", got[2].Record.ID)

	assert.Len(t, RankHits(hits, 0.3, 1), 1)
	assert.Empty(t, RankHits(nil, 0.3, 5))
}

func TestChromemSearch_FloorOrderAndNoPadding(t *testing.T) {
	repo, err := NewChromemVectorRepository(2)
	require.NoError(t, err)
	seedExercises(t, repo)

	query := []float32{1, 0}
	got, err := repo.Search(context.Background(), model.CollectionExercises, SearchQuery{Vector: query, TopK: 10, Floor: 0.3})
	require.NoError(t, err)

	// 0.10 的记录低于下限被排除，且不填充到 10 条
	require.Len(t, got, 4)
	for i, h := range got {
		assert.GreaterOrEqual(t, h.Similarity, 0.3)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Similarity, h.Similarity)
		}
	}
	assert.Equal(t, "ex-a", got[0].Record.ID)
	// 相似度相同按 ID 升序
	assert.Equal(t, "ex-b", got[1].Record.ID)
	assert.Equal(t, "ex-c", got[2].Record.ID)
	assert.InDelta(t, 0.95, got[0].Similarity, 1e-4)
	assert.Equal(t, "Bench Press", got[0].Record.Text)
}

func TestChromemSearch_AttributeFilterAppliedBeforeRanking(t *testing.T) {
	repo, err := NewChromemVectorRepository(2)
	require.NoError(t, err)
	seedExercises(t, repo)

	got, err := repo.Search(context.Background(), model.CollectionExercises, SearchQuery{
		Vector: []float32{1, 0}, TopK: 1, Floor: 0.3,
		Filter: map[string]string{model.AttrMuscleGroup: "LEGS"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ex-d", got[0].Record.ID)
}

func TestChromemSearch_EmptyCollection(t *testing.T) {
	repo, err := NewChromemVectorRepository(2)
	require.NoError(t, err)

	got, err := repo.Search(context.Background(), model.CollectionKnowledge, SearchQuery{Vector: []float32{1, 0}, TopK: 5, Floor: 0.3})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChromemUpsertOverwritesAndDelete(t *testing.T) {
	repo, err := NewChromemVectorRepository(2)
	require.NoError(t, err)
	ctx := context.Background()
	seedExercises(t, repo)

	require.NoError(t, repo.Upsert(ctx, model.CollectionExercises, []model.IndexedRecord{
		{ID: "ex-a", Text: "Bench Press v2", Embedding: unitAt(0.95)},
	}))
	n, err := repo.Count(ctx, model.CollectionExercises)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, repo.Delete(ctx, model.CollectionExercises, []string{"ex-a"}))
	n, _ = repo.Count(ctx, model.CollectionExercises)
	assert.Equal(t, 4, n)
}

func TestChromemList_FiltersByUserAndDate(t *testing.T) {
	repo, err := NewChromemVectorRepository(2)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, model.CollectionWorkouts, []model.IndexedRecord{
		{ID: "w1", UserID: 7, Embedding: unitAt(0.5), WorkoutDate: now.AddDate(0, 0, -1)},
		{ID: "w2", UserID: 7, Embedding: unitAt(0.5), WorkoutDate: now.AddDate(0, 0, -40)},
		{ID: "w3", UserID: 8, Embedding: unitAt(0.5), WorkoutDate: now.AddDate(0, 0, -2)},
		{ID: "w4", UserID: 7, Embedding: unitAt(0.5), WorkoutDate: now.AddDate(0, 0, -3)},
	}))

	got, err := repo.List(ctx, model.CollectionWorkouts, ListQuery{
		Filter: map[string]string{model.AttrUserID: "7"},
		Since:  now.AddDate(0, 0, -30),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "w1", got[0].ID)
	assert.Equal(t, "w4", got[1].ID)
}

// newESTestServer 模拟 Elasticsearch，响应需带产品头才能通过客户端校验。
func newESTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, body)
	}))
}

func TestESSearch_KNNWithFilterAndScoreConversion(t *testing.T) {
	var captured map[string]interface{}
	srv := newESTestServer(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/gym_exercises/_search"), r.URL.Path)
		assert.NoError(t, json.Unmarshal(body, &captured))
		// _score 0.975 -> cos 0.95, 0.6 -> 0.2 (低于下限)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"ex-a","_score":0.975,"_source":{"id":"ex-a","text":"Bench Press","muscle_group":"CHEST"}},
			{"_id":"ex-z","_score":0.6,"_source":{"id":"ex-z","text":"Walk","muscle_group":"CHEST"}}
		]}}`))
	})
	defer srv.Close()

	client, err := es.NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	repo := NewESVectorRepository(client, "gym", 2, 2)

	got, err := repo.Search(context.Background(), model.CollectionExercises, SearchQuery{
		Vector: []float32{1, 0}, TopK: 5, Floor: 0.3,
		Filter: map[string]string{model.AttrMuscleGroup: "CHEST"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ex-a", got[0].Record.ID)
	assert.InDelta(t, 0.95, got[0].Similarity, 1e-9)
	assert.Equal(t, "CHEST", got[0].Record.Attr(model.AttrMuscleGroup))

	knn := captured["knn"].(map[string]interface{})
	assert.EqualValues(t, 15, knn["k"])
	assert.Contains(t, string(mustJSON(t, knn["filter"])), `"muscle_group":"CHEST"`)
}

func TestESUpsert_BulkNDJSON(t *testing.T) {
	var lines []string
	srv := newESTestServer(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/_bulk"), r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))
		lines = strings.Split(strings.TrimSpace(string(body)), "\n")
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	})
	defer srv.Close()

	client, err := es.NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	repo := NewESVectorRepository(client, "gym", 2, 2)

	err = repo.Upsert(context.Background(), model.CollectionWorkouts, []model.IndexedRecord{
		{ID: "workout-1", UserID: 7, Text: "Workout on 2024-01-15", Embedding: []float32{1, 0}, WorkoutDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"_id":"workout-1"`)
	assert.Contains(t, lines[1], `"user_id":7`)
	assert.Contains(t, lines[1], `"collection":"workouts"`)
}

func TestESBulk_ReportsItemErrors(t *testing.T) {
	srv := newESTestServer(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"_id":"x","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad dims"}}}]}`))
	})
	defer srv.Close()

	client, err := es.NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	repo := NewESVectorRepository(client, "gym", 2, 2)

	err = repo.Upsert(context.Background(), model.CollectionExercises, []model.IndexedRecord{{ID: "x", Embedding: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad dims")
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
