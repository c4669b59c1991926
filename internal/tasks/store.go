package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openrecords/relay/internal/db"
)

// ErrNotFound is returned when a task does not exist.
var ErrNotFound = errors.New("task not found")

// Store persists escalation tasks in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert writes one task row.
func (s *Store) Insert(ctx context.Context, task Task) (Task, error) {
	id, err := db.ParseUUID(task.ID)
	if err != nil {
		return Task{}, err
	}
	var requestID, commID pgtype.UUID
	if task.RequestID != "" {
		if requestID, err = db.ParseUUID(task.RequestID); err != nil {
			return Task{}, err
		}
	}
	if task.CommunicationID != "" {
		if commID, err = db.ParseUUID(task.CommunicationID); err != nil {
			return Task{}, err
		}
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO escalation_tasks (id, request_id, communication_id, category, reason, raw_subject, raw_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		id, requestID, commID, task.Category, task.Reason, task.RawSubject, task.RawBody).
		Scan(&task.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var id, requestID, commID pgtype.UUID
	var resolvedAt pgtype.Timestamptz
	err := row.Scan(&id, &requestID, &commID, &t.Category, &t.Reason,
		&t.RawSubject, &t.RawBody, &t.Resolved, &t.CreatedAt, &resolvedAt)
	if err != nil {
		return Task{}, err
	}
	t.ID = db.UUIDString(id)
	t.RequestID = db.UUIDString(requestID)
	t.CommunicationID = db.UUIDString(commID)
	if resolvedAt.Valid {
		at := resolvedAt.Time
		t.ResolvedAt = &at
	}
	return t, nil
}

const taskColumns = `id, request_id, communication_id, category, reason,
	raw_subject, raw_body, resolved, created_at, resolved_at`

// ListOpen returns unresolved tasks oldest first.
func (s *Store) ListOpen(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM escalation_tasks
		WHERE NOT resolved ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get fetches one task by ID.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return Task{}, err
	}
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM escalation_tasks WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Resolve marks a task as handled by a human reviewer.
func (s *Store) Resolve(ctx context.Context, id string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE escalation_tasks SET resolved = true, resolved_at = now()
		WHERE id = $1 AND NOT resolved`, uid)
	if err != nil {
		return fmt.Errorf("resolve task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
