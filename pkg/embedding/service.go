package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/retry"
)

var (
	// ErrEmptyText is returned before any provider call when an input is blank.
	ErrEmptyText = fmt.Errorf("%w: text to embed is empty", model.ErrValidation)
	// ErrDimensionMismatch means the provider returned vectors of the wrong
	// length. It is never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Service is the cached embedding entry point used by retrieval and sync.
type Service struct {
	provider   Provider
	cache      *Cache
	dimensions int
	policy     retry.Policy
}

// NewService wires a provider and a cache. dimensions <= 0 disables the length check.
func NewService(provider Provider, cache *Cache, dimensions int, policy retry.Policy) *Service {
	return &Service{provider: provider, cache: cache, dimensions: dimensions, policy: policy}
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in input order. Inputs are
// processed in chunks of the provider's batch limit; within a chunk only
// cache misses are sent, in a single provider call.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = strings.TrimSpace(t)
		if normalized[i] == "" {
			return nil, fmt.Errorf("input %d: %w", i, ErrEmptyText)
		}
	}

	out := make([][]float32, len(texts))
	chunk := s.provider.MaxBatch()
	if chunk <= 0 {
		chunk = 100
	}
	for start := 0; start < len(normalized); start += chunk {
		end := start + chunk
		if end > len(normalized) {
			end = len(normalized)
		}
		if err := s.embedChunk(ctx, normalized[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) embedChunk(ctx context.Context, texts []string, out [][]float32) error {
	// 同一批中相同文本只请求一次
	missPositions := make(map[string][]int)
	var missTexts []string
	var missKeys []string
	for i, t := range texts {
		key := Key(t)
		if vec, ok := s.cache.Get(key); ok {
			out[i] = vec
			continue
		}
		if _, seen := missPositions[key]; !seen {
			missTexts = append(missTexts, t)
			missKeys = append(missKeys, key)
		}
		missPositions[key] = append(missPositions[key], i)
	}
	if len(missTexts) == 0 {
		return nil
	}

	log.Debugf("[Embedding] cache hits: %d, misses: %d", len(texts)-countPositions(missPositions), len(missTexts))
	vecs, err := retry.Do(ctx, s.policy, "embedding", func(ctx context.Context) ([][]float32, error) {
		return s.provider.Embed(ctx, missTexts)
	})
	if err != nil {
		return fmt.Errorf("embed %d texts: %w", len(missTexts), err)
	}
	if len(vecs) != len(missTexts) {
		return fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}

	for i, vec := range vecs {
		if s.dimensions > 0 && len(vec) != s.dimensions {
			log.Errorw("embedding dimension mismatch", "expected", s.dimensions, "got", len(vec))
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimensions, len(vec))
		}
		s.cache.Set(missKeys[i], vec)
		for _, pos := range missPositions[missKeys[i]] {
			out[pos] = vec
		}
	}
	return nil
}

// ClearCache empties the cache and returns the number of dropped entries.
func (s *Service) ClearCache() int64 {
	return s.cache.Clear()
}

func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

func countPositions(m map[string][]int) int {
	n := 0
	for _, p := range m {
		n += len(p)
	}
	return n
}
