package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"gym-coach-go/internal/model"
)

type stubRunner struct {
	err  error
	seen []model.SyncTask
}

func (r *stubRunner) Run(_ context.Context, task model.SyncTask) (*model.SyncResult, error) {
	r.seen = append(r.seen, task)
	if r.err != nil {
		return nil, r.err
	}
	return &model.SyncResult{SyncType: task.Type, Synced: 3}, nil
}

func TestProcess(t *testing.T) {
	r := &stubRunner{}
	p := NewProcessor(r)
	assert.NoError(t, p.Process(context.Background(), model.SyncTask{Type: model.SyncTypeExercises}))
	assert.Len(t, r.seen, 1)
}

func TestProcess_InvalidTaskIsDropped(t *testing.T) {
	p := NewProcessor(&stubRunner{err: model.Validationf("unknown sync type")})
	assert.NoError(t, p.Process(context.Background(), model.SyncTask{Type: "nope"}))
}

func TestProcess_FailurePropagates(t *testing.T) {
	p := NewProcessor(&stubRunner{err: errors.New("backend down")})
	assert.Error(t, p.Process(context.Background(), model.SyncTask{Type: model.SyncTypeWorkouts}))
}
