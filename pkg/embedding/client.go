// Package embedding turns text into fixed-length vectors through an external
// embedding API, with an in-process cache in front of it.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/sashabaranov/go-openai"

	"gym-coach-go/internal/config"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/retry"
)

// Provider is the raw embedding API. Implementations return one vector per
// input, in input order, and must not be called with empty texts.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// MaxBatch is the largest number of inputs accepted in one call.
	MaxBatch() int
}

type openAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	maxBatch   int
}

// NewOpenAIProvider creates a Provider backed by an OpenAI-compatible embeddings endpoint.
func NewOpenAIProvider(cfg config.EmbeddingConfig) Provider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	maxBatch := cfg.BatchSize
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &openAIProvider{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
	}
}

func (p *openAIProvider) MaxBatch() int { return p.maxBatch }

// Embed calls the embeddings API once for the whole slice.
func (p *openAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	log.Debugf("[EmbeddingClient] 调用 Embedding API, model: %s, inputs: %d", p.model, len(texts))
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// classifyOpenAIError marks throttling and 5xx responses as transient.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retry.TransientStatus(apiErr.HTTPStatusCode) {
			return retry.Mark(fmt.Errorf("embedding api: %w", err))
		}
		return fmt.Errorf("embedding api: %w", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retry.TransientStatus(reqErr.HTTPStatusCode) {
			return retry.Mark(fmt.Errorf("embedding api: %w", err))
		}
		return fmt.Errorf("embedding api: %w", err)
	}
	return fmt.Errorf("failed to call embedding api: %w", err)
}
