package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/internal/repository"
	"gym-coach-go/pkg/llm"
	"gym-coach-go/pkg/retry"
)

// scriptedLLM 按调用顺序返回预设结果，并记录每次请求。
type scriptedLLM struct {
	requests []llm.Request
	script   []func(req llm.Request) (*llm.Completion, error)
}

func (f *scriptedLLM) Model() string { return "fake-model" }

func (f *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i >= len(f.script) {
		return nil, errors.New("unexpected llm call")
	}
	return f.script[i](req)
}

func answer(text string, tokens int) func(llm.Request) (*llm.Completion, error) {
	return func(llm.Request) (*llm.Completion, error) {
		return &llm.Completion{Text: text, Usage: model.UsageStats{TotalTokens: tokens}}, nil
	}
}

func callTools(calls ...model.ToolCall) func(llm.Request) (*llm.Completion, error) {
	return func(llm.Request) (*llm.Completion, error) {
		return &llm.Completion{ToolCalls: calls, Usage: model.UsageStats{TotalTokens: 10}}, nil
	}
}

type chatFixture struct {
	svc      *chatService
	llm      *scriptedLLM
	sessions repository.SessionRepository
	mr       *miniredis.Miniredis
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Default()
	sessions := repository.NewSessionRepository(client, cfg.Session)
	tools := newTestToolService(t, &keywordEmbedder{})
	fake := &scriptedLLM{}
	svc := NewChatService(fake, tools, sessions, ChatOptions{
		LLM:          cfg.LLM,
		Session:      cfg.Session,
		Orchestrator: cfg.Orchestrator,
		Retry:        retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}).(*chatService)
	return &chatFixture{svc: svc, llm: fake, sessions: sessions, mr: mr}
}

func systemText(req llm.Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		if m.Role == string(model.RoleSystem) {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func TestChat_RetrievalThenDirectThenExpiry(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	// 场景 A: 无会话 ID，模型请求 search_exercises
	f.llm.script = []func(llm.Request) (*llm.Completion, error){
		callTools(model.ToolCall{Name: model.ToolSearchExercises, Arguments: map[string]any{"query": "chest exercise"}}),
		answer("Try the bench press for 3x8.", 25),
	}
	resp, err := f.svc.Chat(ctx, &model.ChatRequest{Message: "What's a good chest exercise?"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Try the bench press for 3x8.", resp.Reply)
	assert.Equal(t, []string{model.ToolSearchExercises}, resp.ToolsUsed)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 35, resp.Usage.TotalTokens)
	assert.Equal(t, "fake-model", resp.Model)

	require.Len(t, f.llm.requests, 2)
	assert.Len(t, f.llm.requests[0].Tools, 5)
	assert.Empty(t, f.llm.requests[1].Tools)
	synthCtx := systemText(f.llm.requests[1])
	assert.Contains(t, synthCtx, "=== Exercise Knowledge (RAG) ===")
	assert.Contains(t, synthCtx, "Bench Press")
	assert.NotContains(t, synthCtx, "Back Squat")

	history := f.sessions.Recent(ctx, resp.SessionID, 10)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)

	// 场景 B: 同一会话，无需检索
	f.llm.requests = nil
	f.llm.script = []func(llm.Request) (*llm.Completion, error){
		answer("", 5),
		answer("You're welcome, keep it up!", 8),
	}
	resp2, err := f.svc.Chat(ctx, &model.ChatRequest{Message: "thanks", SessionID: resp.SessionID})
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, resp2.SessionID)
	assert.Empty(t, resp2.ToolsUsed)
	require.Len(t, f.llm.requests, 2)
	assert.NotContains(t, systemText(f.llm.requests[1]), "RAG")

	// 短期历史包含上一轮对话，当前消息只出现一次
	msgs := f.llm.requests[1].Messages
	var contents []string
	for _, m := range msgs[1:] {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"What's a good chest exercise?", "Try the bench press for 3x8.", "thanks"}, contents)

	history = f.sessions.Recent(ctx, resp.SessionID, 10)
	require.Len(t, history, 4)
	roles := []model.Role{history[0].Role, history[1].Role, history[2].Role, history[3].Role}
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant}, roles)
	assert.Equal(t, "thanks", history[2].Content)

	// 场景 C: TTL 过期后会话被遗忘
	f.mr.FastForward(config.Default().Session.TTL + time.Second)
	assert.Empty(t, f.sessions.Recent(ctx, resp.SessionID, 10))

	f.llm.requests = nil
	f.llm.script = []func(llm.Request) (*llm.Completion, error){answer("", 1), answer("Hi again!", 1)}
	_, err = f.svc.Chat(ctx, &model.ChatRequest{Message: "hello?", SessionID: resp.SessionID})
	require.NoError(t, err)
	meta, ok := f.sessions.Metadata(ctx, resp.SessionID)
	require.True(t, ok)
	assert.Equal(t, 2, meta.MessageCount)
	assert.Len(t, f.llm.requests[0].Messages, 2)
}

func TestChat_ValidationRejectedBeforeAnyCall(t *testing.T) {
	f := newChatFixture(t)
	_, err := f.svc.Chat(context.Background(), &model.ChatRequest{Message: "   ", SessionID: "s1"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.Chat(context.Background(), &model.ChatRequest{Message: strings.Repeat("a", model.MaxMessageChars+1), SessionID: "s1"})
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Empty(t, f.llm.requests)
	assert.False(t, f.mr.Exists("session:s1"))
}

func TestChat_EmptyCompletionFailsTurn(t *testing.T) {
	f := newChatFixture(t)
	f.llm.script = []func(llm.Request) (*llm.Completion, error){answer("", 1), answer("   ", 1)}

	_, err := f.svc.Chat(context.Background(), &model.ChatRequest{Message: "hi", SessionID: "s1"})
	assert.ErrorIs(t, err, ErrEmptyModelOutput)
	assert.Len(t, f.llm.requests, 2, "empty output must not be retried")

	// 用户消息已持久化，助手回复没有
	history := f.sessions.Recent(context.Background(), "s1", 10)
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
}

func TestChat_ModelErrorSurfacedAndTransientRetried(t *testing.T) {
	f := newChatFixture(t)
	flaky := func(llm.Request) (*llm.Completion, error) {
		return nil, retry.Mark(errors.New("connection reset"))
	}
	f.llm.script = []func(llm.Request) (*llm.Completion, error){flaky, flaky, answer("", 1), answer("ok", 1)}

	resp, err := f.svc.Chat(context.Background(), &model.ChatRequest{Message: "hi", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Reply)
	assert.Len(t, f.llm.requests, 4)

	f.llm.requests = nil
	f.llm.script = []func(llm.Request) (*llm.Completion, error){
		func(llm.Request) (*llm.Completion, error) { return nil, errors.New("invalid api key") },
	}
	_, err = f.svc.Chat(context.Background(), &model.ChatRequest{Message: "hi", SessionID: "s1"})
	require.Error(t, err)
	assert.Len(t, f.llm.requests, 1)
}

func TestChat_SessionWriteFailureIsFatal(t *testing.T) {
	f := newChatFixture(t)
	f.mr.Close()
	_, err := f.svc.Chat(context.Background(), &model.ChatRequest{Message: "hi", SessionID: "s1"})
	require.Error(t, err)
	assert.Empty(t, f.llm.requests)
}

func TestChat_FallsBackToRequestHistory(t *testing.T) {
	f := newChatFixture(t)
	f.llm.script = []func(llm.Request) (*llm.Completion, error){answer("", 1), answer("Sure.", 1)}

	_, err := f.svc.Chat(context.Background(), &model.ChatRequest{
		Message: "and for legs?",
		Context: "User is on the workout screen",
		ConversationHistory: []model.ChatMessage{
			{Role: model.RoleUser, Content: "chest ideas?"},
			{Role: model.RoleAssistant, Content: "Bench press."},
		},
	})
	require.NoError(t, err)

	msgs := f.llm.requests[0].Messages
	require.Len(t, msgs, 5)
	assert.Contains(t, msgs[1].Content, "User is on the workout screen")
	assert.Equal(t, "chest ideas?", msgs[2].Content)
	assert.Equal(t, "Bench press.", msgs[3].Content)
	assert.Equal(t, "and for legs?", msgs[4].Content)
}

func TestChat_ToolErrorAppearsInContext(t *testing.T) {
	f := newChatFixture(t)
	f.llm.script = []func(llm.Request) (*llm.Completion, error){
		callTools(
			model.ToolCall{Name: model.ToolGetUserStats},
			model.ToolCall{Name: model.ToolSearchExercises, Arguments: map[string]any{"query": "squat"}},
		),
		answer("I couldn't see your stats, but squats are great.", 1),
	}
	resp, err := f.svc.Chat(context.Background(), &model.ChatRequest{Message: "how am I doing on legs?"})
	require.NoError(t, err)
	assert.Equal(t, []string{model.ToolGetUserStats, model.ToolSearchExercises}, resp.ToolsUsed)

	ctxText := systemText(f.llm.requests[1])
	assert.Contains(t, ctxText, "• user is not signed in")
	assert.Contains(t, ctxText, "Back Squat")
	assert.Less(t, strings.Index(ctxText, "user is not signed in"), strings.Index(ctxText, "Back Squat"))
}

func TestFormatToolResults_FailureLineNotDuplicated(t *testing.T) {
	out := FormatToolResults([]model.ToolResult{
		model.ToolErrorResult(model.ToolSearchExercises, "could not retrieve exercises"),
	}, 3, 250)
	assert.Contains(t, out, "=== "+model.ToolSearchExercises+" ===")
	assert.Contains(t, out, "• could not retrieve exercises")
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "could not retrieve"))
}

func TestFormatToolResults_BoundsSize(t *testing.T) {
	var records []model.ScoredRecord
	for i := 0; i < 5; i++ {
		records = append(records, model.ScoredRecord{
			Record:     model.IndexedRecord{ID: string(rune('a' + i)), Text: strings.Repeat("x", 400)},
			Similarity: 0.9 - float64(i)/10,
		})
	}
	last := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	out := FormatToolResults([]model.ToolResult{
		{Tool: model.ToolSearchExercises, Records: records},
		{Tool: model.ToolGetUserStats, Stats: &model.WorkoutStats{Days: 30, TotalWorkouts: 6, TotalVolume: 12345.6, TotalSets: 20, AverageWorkoutsPerWeek: 1.4, LastWorkout: &last}},
	}, 3, 250)

	assert.Equal(t, 3, strings.Count(out, "Similarity:"))
	assert.NotContains(t, out, strings.Repeat("x", 251))
	assert.Contains(t, out, strings.Repeat("x", 250))
	assert.Contains(t, out, "Similarity: 0.90")
	assert.Contains(t, out, "=== User Statistics (last 30 days) ===")
	assert.Contains(t, out, "Total volume: 12346 kg")
	assert.Contains(t, out, "• Sets completed: 20")
	assert.Contains(t, out, "Avg workouts/week: 1.4")
	assert.Contains(t, out, "Last workout: 2024-05-30")
}

func TestFormatToolResults_WorkoutHistory(t *testing.T) {
	out := FormatToolResults([]model.ToolResult{{
		Tool: model.ToolGetUserWorkoutHistory,
		Workouts: []model.IndexedRecord{
			{ID: "w1", Text: "Workout on 2024-05-30", WorkoutDate: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), CompletedSets: 4},
			{ID: "w2", WorkoutDate: time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC)},
		},
	}}, 3, 250)
	assert.Contains(t, out, "Found 2 workout(s):")
	assert.Contains(t, out, "• 2024-05-30")
	assert.Contains(t, out, "Sets completed: 4")
	assert.Contains(t, out, "• 2024-05-28")
}
