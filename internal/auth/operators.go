package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/openrecords/relay/internal/db"
)

// ErrInvalidCredentials is returned when a login fails.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Operator is a human user of the review surface.
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// OperatorStore persists operator accounts.
type OperatorStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewOperatorStore creates an OperatorStore.
func NewOperatorStore(pool *pgxpool.Pool, log *slog.Logger) *OperatorStore {
	return &OperatorStore{
		pool: pool,
		log:  log.With(slog.String("component", "operators")),
	}
}

// Create inserts an operator with a bcrypt-hashed password.
func (s *OperatorStore) Create(ctx context.Context, username, password string) (Operator, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return Operator{}, fmt.Errorf("username is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Operator{}, fmt.Errorf("hash password: %w", err)
	}
	id := db.NewUUID()
	op := Operator{Username: username, PasswordHash: string(hash)}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO operators (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`, id, username, string(hash)).
		Scan(&op.CreatedAt)
	if err != nil {
		return Operator{}, fmt.Errorf("create operator: %w", err)
	}
	op.ID = db.UUIDString(id)
	return op, nil
}

// Authenticate checks a username/password pair and returns the operator.
func (s *OperatorStore) Authenticate(ctx context.Context, username, password string) (Operator, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var op Operator
	var id pgtype.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM operators WHERE username = $1`, username).
		Scan(&id, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operator{}, ErrInvalidCredentials
	}
	if err != nil {
		return Operator{}, fmt.Errorf("lookup operator: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return Operator{}, ErrInvalidCredentials
	}
	op.ID = db.UUIDString(id)
	return op, nil
}

// EnsureAdmin creates the seed admin account when no operators exist.
func (s *OperatorStore) EnsureAdmin(ctx context.Context, username, password string) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM operators`).Scan(&count); err != nil {
		return fmt.Errorf("count operators: %w", err)
	}
	if count > 0 {
		return nil
	}
	op, err := s.Create(ctx, username, password)
	if err != nil {
		return err
	}
	s.log.Info("seeded admin operator", slog.String("username", op.Username))
	return nil
}
