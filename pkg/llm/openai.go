package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/retry"
)

type openAIClient struct {
	client *openai.Client
	model  string
}

func newOpenAIClient(cfg config.LLMConfig) *openAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openAIClient{client: openai.NewClientWithConfig(oc), model: cfg.Model}
}

func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	creq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if len(req.Tools) > 0 {
		creq.Tools = toOpenAITools(req.Tools)
		creq.ToolChoice = "auto"
	}
	if gen := req.Generation; gen != nil {
		if gen.Temperature != nil {
			creq.Temperature = float32(*gen.Temperature)
		}
		if gen.TopP != nil {
			creq.TopP = float32(*gen.TopP)
		}
		if gen.MaxTokens != nil {
			creq.MaxTokens = *gen.MaxTokens
		}
	}

	log.Debugf("[LLM] openai completion, model: %s, messages: %d, tools: %d", c.model, len(creq.Messages), len(creq.Tools))
	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	out := &Completion{
		Model: resp.Model,
		Usage: model.UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = c.model
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != openai.ToolTypeFunction {
			continue
		}
		if call, ok := buildToolCall("openai", tc.ID, tc.Function.Name, []byte(tc.Function.Arguments)); ok {
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	return out, nil
}

func toOpenAITools(defs []model.ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

// classifyOpenAIError marks throttling and 5xx responses as transient.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retry.TransientStatus(apiErr.HTTPStatusCode) {
			return retry.Mark(fmt.Errorf("openai chat: %w", err))
		}
		return fmt.Errorf("openai chat: %w", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retry.TransientStatus(reqErr.HTTPStatusCode) {
			return retry.Mark(fmt.Errorf("openai chat: %w", err))
		}
		return fmt.Errorf("openai chat: %w", err)
	}
	return fmt.Errorf("failed to call openai chat api: %w", err)
}
