package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatMessage(t *testing.T) {
	msg, err := NewChatMessage(RoleUser, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, RoleUser, msg.Role)

	_, err = NewChatMessage(RoleUser, "   ")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = NewChatMessage(Role("tool"), "x")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestChatRequestNormalize(t *testing.T) {
	req := ChatRequest{Message: "  What's a good chest exercise?  "}
	require.NoError(t, req.Normalize())
	assert.Equal(t, "What's a good chest exercise?", req.Message)

	tooLong := ChatRequest{Message: strings.Repeat("a", MaxMessageChars+1)}
	assert.ErrorIs(t, tooLong.Normalize(), ErrValidation)

	// 2000 个多字节字符仍然合法
	runes := ChatRequest{Message: strings.Repeat("练", MaxMessageChars)}
	assert.NoError(t, runes.Normalize())

	history := make([]ChatMessage, MaxRequestHistory+1)
	for i := range history {
		history[i] = ChatMessage{Role: RoleUser, Content: "x"}
	}
	tooMany := ChatRequest{Message: "hi", ConversationHistory: history}
	assert.ErrorIs(t, tooMany.Normalize(), ErrValidation)

	badHistory := ChatRequest{Message: "hi", ConversationHistory: []ChatMessage{{Role: RoleAssistant, Content: " "}}}
	assert.ErrorIs(t, badHistory.Normalize(), ErrValidation)
}

func TestConversationSessionTrimKeepsLifetimeCount(t *testing.T) {
	now := time.Now()
	s := NewConversationSession("s1", nil, now)
	for i := 0; i < 7; i++ {
		s.AddMessage(ChatMessage{Role: RoleUser, Content: string(rune('a' + i))}, now)
	}
	dropped := s.Trim(5)

	assert.Equal(t, 2, dropped)
	assert.Equal(t, 7, s.Metadata.MessageCount)
	require.Len(t, s.Messages, 5)
	assert.Equal(t, "c", s.Messages[0].Content)
	assert.Equal(t, "g", s.Messages[4].Content)
	assert.Equal(t, 0, s.Trim(5))
}

func TestExerciseEmbeddingText(t *testing.T) {
	ex := Exercise{Name: "Bench Press", MuscleGroup: "CHEST", Description: "Barbell chest press on flat bench"}
	assert.Equal(t, "Bench Press | Muscle Group: CHEST | Description: Barbell chest press on flat bench", ex.EmbeddingText())
	assert.Equal(t, "Unknown Exercise", Exercise{}.EmbeddingText())
}

func TestWorkoutLog(t *testing.T) {
	w := WorkoutLog{
		LogDate: "2024-01-15",
		Sets: []WorkoutSet{
			{ExerciseName: "Bench Press", Reps: 10, Weight: 80, IsCompleted: true},
			{ExerciseName: "Squat", Reps: 12, Weight: 100.5, IsCompleted: false},
		},
		Notes:                "Good session",
		TotalDurationMinutes: 60,
	}
	assert.Equal(t,
		"Workout on 2024-01-15 | Exercises: Bench Press (10 reps x 80kg), Squat (12 reps x 100.5kg) | Duration: 60 minutes | Notes: Good session",
		w.EmbeddingText())
	assert.InDelta(t, 800.0, w.TotalVolume(), 1e-9)

	d, err := w.Date()
	require.NoError(t, err)
	assert.Equal(t, 15, d.Day())
	assert.Equal(t, "Empty Workout", WorkoutLog{}.EmbeddingText())
}

func TestSyncTaskKey(t *testing.T) {
	uid := int64(42)
	assert.Equal(t, "workouts:42", SyncTask{Type: SyncTypeWorkouts, UserID: &uid}.Key())
	assert.Equal(t, "exercises", SyncTask{Type: SyncTypeExercises}.Key())
}
