package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/retry"
)

const defaultAnthropicMaxTokens = 1024

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(cfg config.LLMConfig) *anthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// 重试由 pkg/retry 统一负责
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), model: cfg.Model}
}

func (c *anthropicClient) Model() string { return c.model }

func (c *anthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultAnthropicMaxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	if gen := req.Generation; gen != nil {
		if gen.Temperature != nil {
			params.Temperature = anthropic.Float(*gen.Temperature)
		}
		if gen.TopP != nil {
			params.TopP = anthropic.Float(*gen.TopP)
		}
		if gen.MaxTokens != nil {
			params.MaxTokens = int64(*gen.MaxTokens)
		}
	}

	log.Debugf("[LLM] anthropic completion, model: %s, messages: %d, tools: %d", c.model, len(messages), len(params.Tools))
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	out := &Completion{
		Model: string(resp.Model),
		Usage: model.UsageStats{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	if out.Model == "" {
		out.Model = c.model
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if call, ok := buildToolCall("anthropic", block.ID, block.Name, block.Input); ok {
				out.ToolCalls = append(out.ToolCalls, call)
			}
		}
	}
	out.Text = text.String()
	return out, nil
}

// toAnthropicMessages 把 system 消息合并为顶层 system 参数，
// 连续同角色消息合并为一条，并去掉开头的 assistant 消息。
func toAnthropicMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var system []string
	type turn struct {
		role  string
		parts []string
	}
	var turns []turn
	for _, m := range msgs {
		if m.Role == string(model.RoleSystem) {
			system = append(system, m.Content)
			continue
		}
		if len(turns) == 0 && m.Role == string(model.RoleAssistant) {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == m.Role {
			turns[n-1].parts = append(turns[n-1].parts, m.Content)
			continue
		}
		turns = append(turns, turn{role: m.Role, parts: []string{m.Content}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.parts, "\n\n"))
		if t.role == string(model.RoleAssistant) {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func toAnthropicTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		tool := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.Parameters.Properties,
				Required:   d.Parameters.Required,
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if retry.TransientStatus(apiErr.StatusCode) || apiErr.StatusCode == 529 {
			return retry.Mark(fmt.Errorf("anthropic messages: %w", err))
		}
		return fmt.Errorf("anthropic messages: %w", err)
	}
	return fmt.Errorf("failed to call anthropic messages api: %w", err)
}
