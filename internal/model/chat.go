// Package model 包含了应用的数据模型定义。
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrValidation 标记在调用任何外部服务之前被拒绝的输入。
var ErrValidation = errors.New("validation failed")

// Validationf 返回包装了 ErrValidation 的错误。
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Role 是消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid 判断角色是否合法。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

const (
	MaxMessageChars   = 2000
	MaxRequestHistory = 20
)

// ChatMessage 代表存储在 Redis 中的单条对话消息，创建后不可修改。
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewChatMessage 去除首尾空白后创建消息，内容为空或角色非法时返回校验错误。
func NewChatMessage(role Role, content string) (ChatMessage, error) {
	if !role.Valid() {
		return ChatMessage{}, Validationf("invalid role %q", role)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ChatMessage{}, Validationf("message content cannot be empty")
	}
	return ChatMessage{Role: role, Content: content, Timestamp: time.Now().UTC()}, nil
}

// ChatRequest 是一次对话请求。SessionID 与 UserID 通常来自请求头与 token。
type ChatRequest struct {
	Message             string        `json:"message"`
	Context             string        `json:"context,omitempty"`
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty"`
	SessionID           string        `json:"session_id,omitempty"`
	UserID              *int64        `json:"-"`
}

// Normalize 规范化并校验请求。
func (r *ChatRequest) Normalize() error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return Validationf("message cannot be empty")
	}
	if utf8.RuneCountInString(r.Message) > MaxMessageChars {
		return Validationf("message exceeds %d characters", MaxMessageChars)
	}
	if len(r.ConversationHistory) > MaxRequestHistory {
		return Validationf("conversation_history exceeds %d messages", MaxRequestHistory)
	}
	for i, m := range r.ConversationHistory {
		msg, err := NewChatMessage(m.Role, m.Content)
		if err != nil {
			return fmt.Errorf("conversation_history[%d]: %w", i, err)
		}
		r.ConversationHistory[i] = msg
	}
	r.Context = strings.TrimSpace(r.Context)
	r.SessionID = strings.TrimSpace(r.SessionID)
	return nil
}

// UsageStats 为 token 用量统计。
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add 累加另一次调用的用量。
func (u *UsageStats) Add(o UsageStats) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// ChatResponse 是一次对话的结果。
type ChatResponse struct {
	Reply     string      `json:"reply"`
	Model     string      `json:"model"`
	Usage     *UsageStats `json:"usage,omitempty"`
	SessionID string      `json:"session_id"`
	// ToolsUsed 记录本轮调用过的工具名，直接回答时为空。
	ToolsUsed []string `json:"tools_used,omitempty"`
}
