package comms

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openrecords/relay/internal/db"
)

// ErrNotFound is returned when a communication does not exist.
var ErrNotFound = errors.New("communication not found")

// Log is the append-only communication store. Engine-written rows are never
// updated or deleted; delivery confirmations attach as separate event rows.
type Log struct {
	pool *pgxpool.Pool
}

// NewLog creates a Log backed by the given pool.
func NewLog(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool}
}

// Record appends one communication and returns it with generated fields.
func (l *Log) Record(ctx context.Context, comm Communication) (Communication, error) {
	requestID, err := db.ParseUUID(comm.RequestID)
	if err != nil {
		return Communication{}, err
	}
	id := db.NewUUID()
	err = l.pool.QueryRow(ctx, `
		INSERT INTO communications (id, request_id, direction, channel, subject, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		id, requestID, string(comm.Direction), comm.Channel.String(),
		comm.Subject, comm.Body, comm.Status).
		Scan(&comm.CreatedAt)
	if err != nil {
		return Communication{}, fmt.Errorf("record communication: %w", err)
	}
	comm.ID = db.UUIDString(id)
	return comm, nil
}

func scanCommunication(row pgx.Row) (Communication, error) {
	var c Communication
	var id, requestID pgtype.UUID
	var direction, channel string
	err := row.Scan(&id, &requestID, &direction, &channel, &c.Subject, &c.Body, &c.Status, &c.CreatedAt)
	if err != nil {
		return Communication{}, err
	}
	c.ID = db.UUIDString(id)
	c.RequestID = db.UUIDString(requestID)
	c.Direction = Direction(direction)
	c.Channel = Channel(channel)
	return c, nil
}

// Get fetches one communication by ID.
func (l *Log) Get(ctx context.Context, id string) (Communication, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return Communication{}, err
	}
	c, err := scanCommunication(l.pool.QueryRow(ctx, `
		SELECT id, request_id, direction, channel, subject, body, status, created_at
		FROM communications WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return Communication{}, ErrNotFound
	}
	if err != nil {
		return Communication{}, fmt.Errorf("get communication: %w", err)
	}
	return c, nil
}

// ListByRequest returns a request's communications oldest first.
func (l *Log) ListByRequest(ctx context.Context, requestID string) ([]Communication, error) {
	uid, err := db.ParseUUID(requestID)
	if err != nil {
		return nil, err
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, request_id, direction, channel, subject, body, status, created_at
		FROM communications WHERE request_id = $1 ORDER BY created_at`, uid)
	if err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	defer rows.Close()
	var out []Communication
	for rows.Next() {
		c, err := scanCommunication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan communication: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HasIncoming reports whether an incoming communication with the given
// subject already exists for the request. Used to keep inbound replay
// idempotent.
func (l *Log) HasIncoming(ctx context.Context, requestID, subject string) (bool, error) {
	uid, err := db.ParseUUID(requestID)
	if err != nil {
		return false, err
	}
	var exists bool
	err = l.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM communications
			WHERE request_id = $1 AND direction = $2 AND subject = $3
		)`, uid, string(DirectionIncoming), subject).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check incoming: %w", err)
	}
	return exists, nil
}

// LatestOutgoing returns the most recent outgoing communication on the
// given channel, used to attach asynchronous delivery confirmations.
func (l *Log) LatestOutgoing(ctx context.Context, requestID string, channel Channel) (Communication, error) {
	uid, err := db.ParseUUID(requestID)
	if err != nil {
		return Communication{}, err
	}
	c, err := scanCommunication(l.pool.QueryRow(ctx, `
		SELECT id, request_id, direction, channel, subject, body, status, created_at
		FROM communications
		WHERE request_id = $1 AND direction = $2 AND channel = $3
		ORDER BY created_at DESC LIMIT 1`,
		uid, string(DirectionOutgoing), channel.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Communication{}, ErrNotFound
	}
	if err != nil {
		return Communication{}, fmt.Errorf("latest outgoing: %w", err)
	}
	return c, nil
}

// AttachEvent appends a delivery confirmation sub-record to a communication.
func (l *Log) AttachEvent(ctx context.Context, event DeliveryEvent) (DeliveryEvent, error) {
	commID, err := db.ParseUUID(event.CommunicationID)
	if err != nil {
		return DeliveryEvent{}, err
	}
	id := db.NewUUID()
	err = l.pool.QueryRow(ctx, `
		INSERT INTO delivery_events (id, communication_id, kind, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		id, commID, event.Kind, event.Detail).
		Scan(&event.CreatedAt)
	if err != nil {
		return DeliveryEvent{}, fmt.Errorf("attach delivery event: %w", err)
	}
	event.ID = db.UUIDString(id)
	return event, nil
}

// ListEvents returns the delivery events attached to a communication.
func (l *Log) ListEvents(ctx context.Context, communicationID string) ([]DeliveryEvent, error) {
	commID, err := db.ParseUUID(communicationID)
	if err != nil {
		return nil, err
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, communication_id, kind, detail, created_at
		FROM delivery_events WHERE communication_id = $1 ORDER BY created_at`, commID)
	if err != nil {
		return nil, fmt.Errorf("list delivery events: %w", err)
	}
	defer rows.Close()
	var out []DeliveryEvent
	for rows.Next() {
		var e DeliveryEvent
		var id, cid pgtype.UUID
		if err := rows.Scan(&id, &cid, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery event: %w", err)
		}
		e.ID = db.UUIDString(id)
		e.CommunicationID = db.UUIDString(cid)
		out = append(out, e)
	}
	return out, rows.Err()
}
