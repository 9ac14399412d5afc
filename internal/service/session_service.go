package service

import (
	"context"
	"strings"

	"gym-coach-go/internal/model"
	"gym-coach-go/internal/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 50
)

// SessionService 定义了会话查询与管理的接口。
type SessionService interface {
	History(ctx context.Context, sessionID string, limit int) (*model.SessionHistory, error)
	Summary(ctx context.Context, sessionID string) (*model.SessionSummary, bool)
	Delete(ctx context.Context, sessionID string) (bool, error)
	Touch(ctx context.Context, sessionID string) (bool, error)
}

type sessionService struct {
	repo repository.SessionRepository
}

// NewSessionService 创建一个新的 SessionService。
func NewSessionService(repo repository.SessionRepository) SessionService {
	return &sessionService{repo: repo}
}

// ClampHistoryLimit 把 limit 收敛到 [1, 50]，非正数取默认值 50。
func ClampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// History 返回最近的消息与累计消息数，会话不存在时返回空列表。
func (s *sessionService) History(ctx context.Context, sessionID string, limit int) (*model.SessionHistory, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, model.Validationf("session id cannot be empty")
	}
	msgs := s.repo.Recent(ctx, sessionID, ClampHistoryLimit(limit))
	history := &model.SessionHistory{SessionID: sessionID, Messages: msgs}
	if meta, ok := s.repo.Metadata(ctx, sessionID); ok {
		history.MessageCount = meta.MessageCount
	}
	return history, nil
}

func (s *sessionService) Summary(ctx context.Context, sessionID string) (*model.SessionSummary, bool) {
	return s.repo.Summary(ctx, strings.TrimSpace(sessionID))
}

// Delete 返回会话是否存在并已删除。
func (s *sessionService) Delete(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, model.Validationf("session id cannot be empty")
	}
	return s.repo.Delete(ctx, sessionID)
}

func (s *sessionService) Touch(ctx context.Context, sessionID string) (bool, error) {
	return s.repo.Touch(ctx, strings.TrimSpace(sessionID))
}
