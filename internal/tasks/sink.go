package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// TaskStore persists escalation tasks.
type TaskStore interface {
	Insert(ctx context.Context, task Task) (Task, error)
}

// Sink converts escalations into durable tasks. Escalate never returns an
// error: a persistence failure is logged and an in-memory Task is still
// handed back so callers always have a record of what happened.
type Sink struct {
	store TaskStore
	log   *slog.Logger
}

// NewSink creates a Sink writing to the given store.
func NewSink(store TaskStore, log *slog.Logger) *Sink {
	return &Sink{
		store: store,
		log:   log.With(slog.String("component", "escalation_sink")),
	}
}

// Escalate records a human-reviewable task for the given failure.
func (s *Sink) Escalate(ctx context.Context, esc Escalation) Task {
	task := Task{
		ID:              uuid.NewString(),
		RequestID:       esc.RequestID,
		CommunicationID: esc.CommunicationID,
		Category:        esc.Category,
		Reason:          esc.Reason,
		RawSubject:      esc.RawSubject,
		RawBody:         esc.RawBody,
		CreatedAt:       time.Now(),
	}
	stored, err := s.store.Insert(ctx, task)
	if err != nil {
		s.log.Error("failed to persist escalation task",
			slog.String("category", esc.Category),
			slog.String("request_id", esc.RequestID),
			slog.Any("error", err))
		return task
	}
	s.log.Warn("escalated to human task",
		slog.String("task_id", stored.ID),
		slog.String("category", stored.Category),
		slog.String("request_id", stored.RequestID))
	return stored
}
