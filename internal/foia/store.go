package foia

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openrecords/relay/internal/db"
)

// ErrNotFound is returned when a request or agency does not exist.
var ErrNotFound = errors.New("not found")

// Store persists agencies, requests, and channel contacts in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateAgency inserts a new agency and returns it with generated fields.
func (s *Store) CreateAgency(ctx context.Context, agency Agency) (Agency, error) {
	id := db.NewUUID()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agencies (id, name, jurisdiction, portal_type, portal_url, email, fax, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		id, agency.Name, agency.Jurisdiction, agency.PortalType, agency.PortalURL,
		agency.Email, agency.Fax, agency.Address)
	if err := row.Scan(&agency.CreatedAt); err != nil {
		return Agency{}, fmt.Errorf("create agency: %w", err)
	}
	agency.ID = db.UUIDString(id)
	return agency, nil
}

// GetAgency fetches one agency by ID.
func (s *Store) GetAgency(ctx context.Context, id string) (Agency, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return Agency{}, err
	}
	var a Agency
	var aid pgtype.UUID
	err = s.pool.QueryRow(ctx, `
		SELECT id, name, jurisdiction, portal_type, portal_url, email, fax, address, created_at
		FROM agencies WHERE id = $1`, uid).Scan(
		&aid, &a.Name, &a.Jurisdiction, &a.PortalType, &a.PortalURL, &a.Email, &a.Fax, &a.Address, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agency{}, ErrNotFound
	}
	if err != nil {
		return Agency{}, fmt.Errorf("get agency: %w", err)
	}
	a.ID = db.UUIDString(aid)
	return a, nil
}

// ListAgencies returns all agencies ordered by name.
func (s *Store) ListAgencies(ctx context.Context) ([]Agency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, jurisdiction, portal_type, portal_url, email, fax, address, created_at
		FROM agencies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	defer rows.Close()
	var out []Agency
	for rows.Next() {
		var a Agency
		var aid pgtype.UUID
		if err := rows.Scan(&aid, &a.Name, &a.Jurisdiction, &a.PortalType, &a.PortalURL,
			&a.Email, &a.Fax, &a.Address, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agency: %w", err)
		}
		a.ID = db.UUIDString(aid)
		out = append(out, a)
	}
	return out, rows.Err()
}

const requestColumns = `id, agency_id, title, requester, status, tracking_id,
	portal_username, portal_password, reply_tag, date_due, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	var id, agencyID pgtype.UUID
	var due pgtype.Date
	err := row.Scan(&id, &agencyID, &r.Title, &r.Requester, &r.Status, &r.TrackingID,
		&r.PortalUsername, &r.PortalPassword, &r.ReplyTag, &due, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	r.ID = db.UUIDString(id)
	r.AgencyID = db.UUIDString(agencyID)
	if due.Valid {
		d := due.Time
		r.DateDue = &d
	}
	return r, nil
}

// CreateRequest inserts a new request with the given channel contacts.
func (s *Store) CreateRequest(ctx context.Context, req Request, contacts []ChannelContact) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	id := db.NewUUID()
	agencyID, err := db.ParseUUID(req.AgencyID)
	if err != nil {
		return Request{}, err
	}
	if req.Status == "" {
		req.Status = StatusSubmitted
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO foia_requests (id, agency_id, title, requester, status, portal_username, portal_password, reply_tag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		id, agencyID, req.Title, req.Requester, req.Status,
		req.PortalUsername, req.PortalPassword, req.ReplyTag).
		Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, fmt.Errorf("create request: %w", err)
	}
	req.ID = db.UUIDString(id)
	for _, c := range contacts {
		status := c.Status
		if status == "" {
			status = ContactGood
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO request_channels (request_id, channel, address, status)
			VALUES ($1, $2, $3, $4)`, id, c.Channel, c.Address, status)
		if err != nil {
			return Request{}, fmt.Errorf("create channel contact: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("commit: %w", err)
	}
	return req, nil
}

// GetRequest fetches one request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (Request, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return Request{}, err
	}
	req, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM foia_requests WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// GetRequestByTrackingID fetches the request holding the given agency tracking ID.
func (s *Store) GetRequestByTrackingID(ctx context.Context, trackingID string) (Request, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return Request{}, ErrNotFound
	}
	req, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM foia_requests WHERE tracking_id = $1`, trackingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request by tracking id: %w", err)
	}
	return req, nil
}

// GetRequestByReplyTag fetches the request whose inbound reply address tag matches.
func (s *Store) GetRequestByReplyTag(ctx context.Context, tag string) (Request, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return Request{}, ErrNotFound
	}
	req, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM foia_requests WHERE reply_tag = $1`, tag))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request by reply tag: %w", err)
	}
	return req, nil
}

// ListRequests returns requests newest first.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM foia_requests ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdateStatus sets the request status.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE foia_requests SET status = $2, updated_at = now() WHERE id = $1`, uid, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTrackingID records the agency-issued tracking identifier.
func (s *Store) SetTrackingID(ctx context.Context, id, trackingID string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE foia_requests SET tracking_id = $2, updated_at = now() WHERE id = $1`,
		uid, strings.TrimSpace(trackingID))
	if err != nil {
		return fmt.Errorf("set tracking id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDateDue records the statutory response deadline.
func (s *Store) SetDateDue(ctx context.Context, id string, due time.Time) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE foia_requests SET date_due = $2, updated_at = now() WHERE id = $1`, uid, due)
	if err != nil {
		return fmt.Errorf("set date due: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RotatePortalPassword replaces the stored portal password in one statement,
// so concurrent readers observe either the old or the new value.
func (s *Store) RotatePortalPassword(ctx context.Context, id, password string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE foia_requests SET portal_password = $2, updated_at = now() WHERE id = $1`, uid, password)
	if err != nil {
		return fmt.Errorf("rotate portal password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChannels returns the channel contacts configured for one request.
func (s *Store) ListChannels(ctx context.Context, requestID string) ([]ChannelContact, error) {
	uid, err := db.ParseUUID(requestID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, channel, address, status, updated_at
		FROM request_channels WHERE request_id = $1`, uid)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var out []ChannelContact
	for rows.Next() {
		var c ChannelContact
		var rid pgtype.UUID
		if err := rows.Scan(&rid, &c.Channel, &c.Address, &c.Status, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.RequestID = db.UUIDString(rid)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListRequestsWithChannelStatus returns the requests whose given channel
// contact is in the given status.
func (s *Store) ListRequestsWithChannelStatus(ctx context.Context, channel, status string) ([]Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM foia_requests
		WHERE id IN (
			SELECT request_id FROM request_channels WHERE channel = $1 AND status = $2
		)
		ORDER BY created_at`, channel, status)
	if err != nil {
		return nil, fmt.Errorf("list requests by channel status: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpsertChannel creates or replaces a channel contact for the request.
func (s *Store) UpsertChannel(ctx context.Context, contact ChannelContact) error {
	uid, err := db.ParseUUID(contact.RequestID)
	if err != nil {
		return err
	}
	if contact.Status == "" {
		contact.Status = ContactGood
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO request_channels (request_id, channel, address, status, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (request_id, channel)
		DO UPDATE SET address = EXCLUDED.address, status = EXCLUDED.status, updated_at = now()`,
		uid, contact.Channel, contact.Address, contact.Status)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// SetChannelStatus flips one channel's status (good or error).
func (s *Store) SetChannelStatus(ctx context.Context, requestID, channel, status string) error {
	uid, err := db.ParseUUID(requestID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE request_channels SET status = $3, updated_at = now()
		WHERE request_id = $1 AND channel = $2`, uid, channel, status)
	if err != nil {
		return fmt.Errorf("set channel status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
