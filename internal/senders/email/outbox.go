package email

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openrecords/relay/internal/db"
)

// Outbox audit statuses.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// Outbox records every email send attempt.
type Outbox struct {
	pool *pgxpool.Pool
}

// NewOutbox creates an Outbox backed by the given pool.
func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool}
}

// Create records a pending send attempt and returns its ID.
func (o *Outbox) Create(ctx context.Context, recipient, subject, provider string) (string, error) {
	id := db.NewUUID()
	_, err := o.pool.Exec(ctx, `
		INSERT INTO email_outbox (id, recipient, subject, provider, status)
		VALUES ($1, $2, $3, $4, $5)`,
		id, recipient, subject, provider, OutboxPending)
	if err != nil {
		return "", fmt.Errorf("create outbox row: %w", err)
	}
	return db.UUIDString(id), nil
}

// MarkSent links the attempt to its recorded communication.
func (o *Outbox) MarkSent(ctx context.Context, id, communicationID string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	var commID pgtype.UUID
	if communicationID != "" {
		if commID, err = db.ParseUUID(communicationID); err != nil {
			return err
		}
	}
	_, err = o.pool.Exec(ctx, `
		UPDATE email_outbox SET status = $2, communication_id = $3, updated_at = now()
		WHERE id = $1`, uid, OutboxSent, commID)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// MarkFailed records the send error.
func (o *Outbox) MarkFailed(ctx context.Context, id string, sendErr error) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = o.pool.Exec(ctx, `
		UPDATE email_outbox SET status = $2, error = $3, updated_at = now()
		WHERE id = $1`, uid, OutboxFailed, sendErr.Error())
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
