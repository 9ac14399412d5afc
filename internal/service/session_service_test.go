package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/internal/repository"
)

func newTestSessionService(t *testing.T) (SessionService, repository.SessionRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := repository.NewSessionRepository(client, config.Default().Session)
	return NewSessionService(repo), repo
}

func TestClampHistoryLimit(t *testing.T) {
	assert.Equal(t, 50, ClampHistoryLimit(0))
	assert.Equal(t, 50, ClampHistoryLimit(-3))
	assert.Equal(t, 1, ClampHistoryLimit(1))
	assert.Equal(t, 50, ClampHistoryLimit(500))
}

func TestSessionService_History(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		msg, err := model.NewChatMessage(model.RoleUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		_, err = repo.Append(ctx, "s1", msg, nil)
		require.NoError(t, err)
	}

	h, err := svc.History(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, h.MessageCount)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, "m2", h.Messages[0].Content)

	h, err = svc.History(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, h.Messages)
	assert.Zero(t, h.MessageCount)

	_, err = svc.History(ctx, " ", 10)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSessionService_DeleteAndSummary(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()
	msg, _ := model.NewChatMessage(model.RoleUser, "hello coach")
	_, err := repo.Append(ctx, "s1", msg, nil)
	require.NoError(t, err)

	summary, ok := svc.Summary(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, "hello coach", summary.Preview)

	existed, err := svc.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = svc.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, ok = svc.Summary(ctx, "s1")
	assert.False(t, ok)
}
