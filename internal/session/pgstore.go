package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Postgres-backed share registry. It owns no relay state;
// the hub and lifecycle manager consume it through the Store interface.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to the database at url and ensures the schema
// exists.
func NewPGStore(ctx context.Context, url string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &PGStore{pool: pool}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS location_shares (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL,
			share_token  TEXT NOT NULL UNIQUE,
			active       BOOLEAN NOT NULL DEFAULT TRUE,
			last_lat     DOUBLE PRECISION,
			last_lng     DOUBLE PRECISION,
			last_updated TIMESTAMPTZ,
			expires_at   TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_location_shares_owner
			ON location_shares (owner_id) WHERE active;
	`)
	return err
}

// CreateSession deactivates any active session for ownerID and inserts a
// new one in a single transaction, preserving the at-most-one-active
// invariant under concurrent calls.
func (s *PGStore) CreateSession(ctx context.Context, ownerID string, expiresAt time.Time) (*ShareSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE location_shares SET active = FALSE WHERE owner_id = $1 AND active`,
		ownerID)
	if err != nil {
		return nil, err
	}

	sess := &ShareSession{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Token:     uuid.New().String(),
		Active:    true,
		ExpiresAt: expiresAt,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO location_shares (id, owner_id, share_token, active, expires_at)
		 VALUES ($1, $2, $3, TRUE, $4)
		 RETURNING created_at`,
		sess.ID, sess.OwnerID, sess.Token, sess.ExpiresAt).Scan(&sess.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return sess, nil
}

// GetActiveSession returns the most recently created live session for
// ownerID, or ErrNotFound.
func (s *PGStore) GetActiveSession(ctx context.Context, ownerID string) (*ShareSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, share_token, active, last_lat, last_lng, last_updated, expires_at, created_at
		 FROM location_shares
		 WHERE owner_id = $1 AND active AND expires_at > now()
		 ORDER BY created_at DESC
		 LIMIT 1`,
		ownerID)
	return scanSession(row)
}

// GetSessionByToken returns the live session for token, or ErrNotFound.
// Expired rows are filtered in the query so they behave as not-found even
// while the active flag is physically true.
func (s *PGStore) GetSessionByToken(ctx context.Context, token string) (*ShareSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, share_token, active, last_lat, last_lng, last_updated, expires_at, created_at
		 FROM location_shares
		 WHERE share_token = $1 AND active AND expires_at > now()`,
		token)
	return scanSession(row)
}

// StopSession deactivates the owner's active sessions and returns the
// token of the one that was live, or "". Expired rows are deactivated
// too but their tokens are not reported; their viewers already see the
// session as dead.
func (s *PGStore) StopSession(ctx context.Context, ownerID string) (string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE location_shares SET active = FALSE
		 WHERE owner_id = $1 AND active
		 RETURNING share_token, expires_at`,
		ownerID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	now := time.Now()
	stopped := ""

	for rows.Next() {
		var (
			token     string
			expiresAt time.Time
		)
		if err := rows.Scan(&token, &expiresAt); err != nil {
			return "", err
		}
		if expiresAt.After(now) {
			stopped = token
		}
	}

	return stopped, rows.Err()
}

// RecordPosition stores the latest fix for the session.
func (s *PGStore) RecordPosition(ctx context.Context, sessionID string, lat, lng float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE location_shares
		 SET last_lat = $2, last_lng = $3, last_updated = now()
		 WHERE id = $1`,
		sessionID, lat, lng)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*ShareSession, error) {
	var (
		sess        ShareSession
		lat, lng    *float64
		lastUpdated *time.Time
	)

	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Token, &sess.Active,
		&lat, &lng, &lastUpdated, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if lat != nil && lng != nil {
		sess.LastPosition = &Position{Lat: *lat, Lng: *lng}
	}
	sess.LastUpdated = lastUpdated

	return &sess, nil
}
