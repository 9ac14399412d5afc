package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-go/internal/model"
)

func resetFlags() {
	exercisesOnly, userID, allUsers, days, withKnowledge, since = false, 0, false, 180, false, ""
}

func TestPlan_Default(t *testing.T) {
	resetFlags()
	tasks, err := plan()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, model.SyncTypeExercises, tasks[0].Type)
	assert.Equal(t, model.SyncTypeWorkouts, tasks[1].Type)
	assert.Nil(t, tasks[1].UserID)
	assert.Equal(t, 180, tasks[1].Days)
}

func TestPlan_UserAndKnowledge(t *testing.T) {
	resetFlags()
	userID, days, withKnowledge = 2, 90, true
	tasks, err := plan()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.NotNil(t, tasks[0].UserID)
	assert.Equal(t, int64(2), *tasks[0].UserID)
	assert.Equal(t, 90, tasks[0].Days)
	assert.Equal(t, model.SyncTypeKnowledge, tasks[1].Type)
}

func TestPlan_ExercisesOnlyAndSince(t *testing.T) {
	resetFlags()
	exercisesOnly, since = true, "2024-05-01T00:00:00Z"
	tasks, err := plan()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2024, tasks[0].Since.Year())

	since = "last tuesday"
	_, err = plan()
	assert.Error(t, err)
}
