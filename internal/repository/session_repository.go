package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-redis/redis/v8"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
)

// ErrCorruptSession 表示 Redis 中的会话记录无法解析。
var ErrCorruptSession = errors.New("corrupt session record")

const (
	defaultSessionTTL  = 2 * time.Hour
	defaultMaxMessages = 50
	maxWatchRetries    = 3
	previewChars       = 50
)

// SessionRepository 定义了会话存储的操作接口。
// 写操作失败返回错误；读操作在会话缺失或损坏时降级为空结果。
type SessionRepository interface {
	Append(ctx context.Context, sessionID string, msg model.ChatMessage, userID *int64) (*model.SessionMetadata, error)
	Recent(ctx context.Context, sessionID string, limit int) []model.ChatMessage
	Metadata(ctx context.Context, sessionID string) (*model.SessionMetadata, bool)
	Summary(ctx context.Context, sessionID string) (*model.SessionSummary, bool)
	Delete(ctx context.Context, sessionID string) (bool, error)
	Touch(ctx context.Context, sessionID string) (bool, error)
	Ping(ctx context.Context) error
}

type redisSessionRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
	maxMessages int
	now         func() time.Time
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client, cfg config.SessionConfig) SessionRepository {
	r := &redisSessionRepository{
		redisClient: redisClient,
		ttl:         cfg.TTL,
		maxMessages: cfg.MaxMessages,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if r.ttl <= 0 {
		r.ttl = defaultSessionTTL
	}
	if r.maxMessages <= 0 {
		r.maxMessages = defaultMaxMessages
	}
	return r
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func decodeSession(data []byte) (*model.ConversationSession, error) {
	var sess model.ConversationSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if sess.Metadata.SessionID == "" {
		return nil, fmt.Errorf("%w: missing metadata", ErrCorruptSession)
	}
	return &sess, nil
}

// load 读取会话，不存在时返回 nil, nil。
func (r *redisSessionRepository) load(ctx context.Context, cmd redis.Cmdable, sessionID string) (*model.ConversationSession, error) {
	data, err := cmd.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(data)
}

// Append 在 WATCH 事务中追加消息，按 FIFO 裁剪并重置 TTL。
// 会话不存在时以 userID 创建；已存在会话的 user_id 不会被覆盖。
func (r *redisSessionRepository) Append(ctx context.Context, sessionID string, msg model.ChatMessage, userID *int64) (*model.SessionMetadata, error) {
	key := sessionKey(sessionID)
	var meta model.SessionMetadata

	txf := func(tx *redis.Tx) error {
		sess, err := r.load(ctx, tx, sessionID)
		if errors.Is(err, ErrCorruptSession) {
			// 损坏的记录无法恢复，用新会话覆盖
			log.Errorw("[SessionRepository] overwriting corrupt session", "session_id", sessionID, "error", err)
			sess, err = nil, nil
		}
		if err != nil {
			return err
		}
		now := r.now()
		if sess == nil {
			sess = model.NewConversationSession(sessionID, userID, now)
		} else if sess.Metadata.UserID == nil && userID != nil {
			sess.Metadata.UserID = userID
		}
		sess.AddMessage(msg, now)
		if dropped := sess.Trim(r.maxMessages); dropped > 0 {
			log.Debugf("[SessionRepository] session %s trimmed %d message(s)", sessionID, dropped)
		}

		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		if err == nil {
			meta = sess.Metadata
		}
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = r.redisClient.Watch(ctx, txf, key)
		if err == nil {
			return &meta, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("failed to append to session %s: %w", sessionID, err)
		}
	}
	return nil, fmt.Errorf("failed to append to session %s after %d attempts: %w", sessionID, maxWatchRetries, err)
}

// read 供只读操作使用，任何错误都记录日志并视为会话不存在。
func (r *redisSessionRepository) read(ctx context.Context, sessionID string) *model.ConversationSession {
	sess, err := r.load(ctx, r.redisClient, sessionID)
	if errors.Is(err, ErrCorruptSession) {
		log.Errorw("[SessionRepository] corrupt session, treating as empty", "session_id", sessionID, "error", err)
		return nil
	}
	if err != nil {
		log.Warnw("[SessionRepository] session unreadable, treating as empty", "session_id", sessionID, "error", err)
		return nil
	}
	return sess
}

// Recent 按时间顺序返回最近 limit 条消息，会话不存在时返回空切片。
func (r *redisSessionRepository) Recent(ctx context.Context, sessionID string, limit int) []model.ChatMessage {
	sess := r.read(ctx, sessionID)
	if sess == nil || limit <= 0 {
		return []model.ChatMessage{}
	}
	msgs := sess.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

func (r *redisSessionRepository) Metadata(ctx context.Context, sessionID string) (*model.SessionMetadata, bool) {
	sess := r.read(ctx, sessionID)
	if sess == nil {
		return nil, false
	}
	return &sess.Metadata, true
}

// Summary 返回会话概览，Preview 为最后一条消息的前 50 个字符。
func (r *redisSessionRepository) Summary(ctx context.Context, sessionID string) (*model.SessionSummary, bool) {
	sess := r.read(ctx, sessionID)
	if sess == nil {
		return nil, false
	}
	summary := &model.SessionSummary{
		SessionID:    sess.Metadata.SessionID,
		MessageCount: sess.Metadata.MessageCount,
		CreatedAt:    sess.Metadata.CreatedAt,
		LastActive:   sess.Metadata.LastActive,
	}
	if n := len(sess.Messages); n > 0 {
		summary.Preview = truncateRunes(sess.Messages[n-1].Content, previewChars)
	}
	return summary, true
}

func (r *redisSessionRepository) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.redisClient.Del(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}

// Touch 在不追加消息的情况下重置 TTL，返回会话是否存在。
func (r *redisSessionRepository) Touch(ctx context.Context, sessionID string) (bool, error) {
	ok, err := r.redisClient.Expire(ctx, sessionKey(sessionID), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return ok, nil
}

func (r *redisSessionRepository) Ping(ctx context.Context) error {
	return r.redisClient.Ping(ctx).Err()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
