package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	inserted []Task
	err      error
}

func (m *memStore) Insert(_ context.Context, task Task) (Task, error) {
	if m.err != nil {
		return Task{}, m.err
	}
	m.inserted = append(m.inserted, task)
	return task, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEscalate_PersistsTask(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	sink := NewSink(store, testLogger())

	task := sink.Escalate(context.Background(), Escalation{
		RequestID:  "req-1",
		Category:   CategoryLoginFailure,
		Reason:     "portal automation failed at login",
		RawSubject: "Records request",
		RawBody:    "Please send records.",
	})

	require.Len(t, store.inserted, 1)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, CategoryLoginFailure, task.Category)
	assert.Equal(t, "req-1", task.RequestID)
	assert.Equal(t, "Records request", task.RawSubject)
	assert.Equal(t, "Please send records.", task.RawBody)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestEscalate_StoreFailureStillReturnsTask(t *testing.T) {
	t.Parallel()

	store := &memStore{err: errors.New("db down")}
	sink := NewSink(store, testLogger())

	task := sink.Escalate(context.Background(), Escalation{
		RequestID: "req-1",
		Category:  CategoryNoChannel,
		Reason:    "no channel available",
	})

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, CategoryNoChannel, task.Category)
}
