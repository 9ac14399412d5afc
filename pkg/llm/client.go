// Package llm provides provider-agnostic access to chat-completion models.
// Each provider adapter maps its own function-calling wire format to and from
// the shared model.ToolDefinition / model.ToolCall types.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Request is one completion call. Tools may be empty, in which case the model
// can only answer in text.
type Request struct {
	Messages   []Message
	Tools      []model.ToolDefinition
	Generation *GenerationParams
}

// Completion is the normalized model output. ToolCalls is empty when the model
// answered directly or produced an unusable tool-call structure.
type Completion struct {
	Text      string
	ToolCalls []model.ToolCall
	Usage     model.UsageStats
	Model     string
}

// Client defines the interface for an LLM client.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	// Model returns the configured model identifier.
	Model() string
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// DefaultGeneration builds generation params from config, leaving zero values unset.
func DefaultGeneration(cfg config.LLMGenerationConfig) *GenerationParams {
	gen := &GenerationParams{}
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gen.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gen.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gen.MaxTokens = &m
	}
	return gen
}

// parseArguments decodes a tool-call argument payload. An empty payload is an
// empty argument map; anything that is not a JSON object is rejected.
func parseArguments(raw []byte) (map[string]any, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, true
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

// buildToolCall drops calls without a name or with malformed arguments.
func buildToolCall(provider, id, name string, rawArgs []byte) (model.ToolCall, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		log.Warnf("[LLM] %s returned a tool call without a name, ignoring", provider)
		return model.ToolCall{}, false
	}
	args, ok := parseArguments(rawArgs)
	if !ok {
		log.Warnf("[LLM] %s returned malformed arguments for tool %s, ignoring: %.200s", provider, name, string(rawArgs))
		return model.ToolCall{}, false
	}
	return model.ToolCall{ID: id, Name: name, Arguments: args}, true
}
