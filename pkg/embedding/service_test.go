package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/retry"
)

// fakeProvider encodes each text as a 3-dim vector derived from its length.
type fakeProvider struct {
	mu       sync.Mutex
	calls    [][]string
	maxBatch int
	dims     int
	err      error
}

func (f *fakeProvider) MaxBatch() int { return f.maxBatch }

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func newTestService(t *testing.T, p *fakeProvider, dims int) *Service {
	t.Helper()
	cache, err := NewCache(100)
	require.NoError(t, err)
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return NewService(p, cache, dims, policy)
}

func TestEmbed_IdenticalTextHitsProviderOnce(t *testing.T) {
	p := &fakeProvider{maxBatch: 100, dims: 3}
	s := newTestService(t, p, 3)

	v1, err := s.Embed(context.Background(), "bench press")
	require.NoError(t, err)
	v2, err := s.Embed(context.Background(), "  bench press ")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, p.calls, 1)
}

func TestEmbedBatch_PreservesOrderAcrossHitsAndMisses(t *testing.T) {
	p := &fakeProvider{maxBatch: 100, dims: 3}
	s := newTestService(t, p, 3)

	_, err := s.Embed(context.Background(), "bb")
	require.NoError(t, err)

	texts := []string{"a", "bb", "cccc", "a", "ddddd"}
	vecs, err := s.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0], "position %d", i)
	}
	// 第二次调用只请求未命中且去重后的文本
	require.Len(t, p.calls, 2)
	assert.Equal(t, []string{"a", "cccc", "ddddd"}, p.calls[1])
}

func TestEmbedBatch_ChunksToProviderLimit(t *testing.T) {
	p := &fakeProvider{maxBatch: 2, dims: 3}
	s := newTestService(t, p, 3)

	vecs, err := s.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	require.Len(t, p.calls, 3)
	for _, call := range p.calls {
		assert.LessOrEqual(t, len(call), 2)
	}
}

func TestEmbedBatch_EmptyTextIsValidationError(t *testing.T) {
	p := &fakeProvider{maxBatch: 100, dims: 3}
	s := newTestService(t, p, 3)

	_, err := s.EmbedBatch(context.Background(), []string{"ok", "   "})
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, p.calls)
}

func TestEmbed_DimensionMismatchNotRetried(t *testing.T) {
	p := &fakeProvider{maxBatch: 100, dims: 4}
	s := newTestService(t, p, 3)

	_, err := s.Embed(context.Background(), "squat")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Len(t, p.calls, 1)
}

func TestEmbed_TransientErrorRetriedThreeTimes(t *testing.T) {
	p := &fakeProvider{maxBatch: 100, dims: 3, err: retry.Mark(errors.New("timeout"))}
	s := newTestService(t, p, 3)

	_, err := s.Embed(context.Background(), "deadlift")
	assert.Error(t, err)
	assert.Len(t, p.calls, 3)
}

func TestCacheClearAndStats(t *testing.T) {
	p := &fakeProvider{maxBatch: 100, dims: 3}
	s := newTestService(t, p, 3)

	_, err := s.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.CacheStats().Entries)

	s.ClearCache()
	_, err = s.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, p.calls, 2)
}

func TestOpenAIProvider_Embed(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		// 故意乱序返回，验证按 index 重排
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0.0,1.0]},
			{"object":"embedding","index":0,"embedding":[1.0,0.0]}
		],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{
		APIKey: "test-key", BaseURL: srv.URL, Model: "text-embedding-3-small", Dimensions: 2, BatchSize: 10, Timeout: 5 * time.Second,
	})
	vecs, err := p.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, "text-embedding-3-small", gotBody["model"])
	assert.EqualValues(t, 2, gotBody["dimensions"])
	assert.Equal(t, 10, p.MaxBatch())
}

func TestOpenAIProvider_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: time.Second})
	_, err := p.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}
