package model

import "time"

// SessionMetadata 由会话存储维护，每次追加消息时刷新。
type SessionMetadata struct {
	SessionID  string    `json:"session_id"`
	UserID     *int64    `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	// MessageCount 为累计消息数，FIFO 裁剪时不减少。
	MessageCount int `json:"message_count"`
}

// ConversationSession 是 Redis 中保存的完整会话，Messages 按时间先后排列。
type ConversationSession struct {
	Metadata SessionMetadata `json:"metadata"`
	Messages []ChatMessage   `json:"messages"`
}

// NewConversationSession 创建一个空会话。
func NewConversationSession(sessionID string, userID *int64, now time.Time) *ConversationSession {
	return &ConversationSession{
		Metadata: SessionMetadata{
			SessionID:  sessionID,
			UserID:     userID,
			CreatedAt:  now,
			LastActive: now,
		},
		Messages: []ChatMessage{},
	}
}

// AddMessage 追加消息并更新元数据。
func (s *ConversationSession) AddMessage(msg ChatMessage, now time.Time) {
	s.Messages = append(s.Messages, msg)
	s.Metadata.MessageCount++
	s.Metadata.LastActive = now
}

// Trim 只保留最近的 max 条消息，返回被丢弃的条数。
func (s *ConversationSession) Trim(max int) int {
	if max <= 0 || len(s.Messages) <= max {
		return 0
	}
	dropped := len(s.Messages) - max
	kept := make([]ChatMessage, max)
	copy(kept, s.Messages[dropped:])
	s.Messages = kept
	return dropped
}

// SessionHistory 是历史查询接口的返回体。
type SessionHistory struct {
	SessionID    string        `json:"session_id"`
	MessageCount int           `json:"message_count"`
	Messages     []ChatMessage `json:"messages"`
}

// SessionSummary 用于会话列表与概览。
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	Preview      string    `json:"preview"`
}
