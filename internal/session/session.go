// Package session holds share session records and governs their lifecycle.
//
// A ShareSession is the record of one sharer's live-location broadcast,
// from start to stop or expiry. Sessions are soft-terminated: rows are
// flagged inactive, never deleted. Expiry is lazy - enforced by timestamp
// comparison at read and update time, not by a background sweep.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for sessions that do not exist, are inactive,
// or have expired. Callers cannot distinguish these cases.
var ErrNotFound = errors.New("session not found")

// Position is a single location fix.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ShareSession represents one sharer's broadcast.
type ShareSession struct {

	// ID is the storage identity of the record
	ID string

	// OwnerID identifies the sharer; at most one active session per owner
	OwnerID string

	// Token is the opaque routing key viewers subscribe to;
	// generated server-side, never client-supplied
	Token string

	// Active is false once the session is stopped
	Active bool

	// LastPosition is nil until the first fix arrives
	LastPosition *Position

	// LastUpdated is the time of the most recent fix, nil if none yet
	LastUpdated *time.Time

	// ExpiresAt is the horizon after which the session is implicitly
	// inactive regardless of the Active flag
	ExpiresAt time.Time

	// CreatedAt breaks ties when finding "the" active session for an
	// owner (most recent wins)
	CreatedAt time.Time
}

// Expired reports whether the session has passed its expiry horizon.
func (s *ShareSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session accepts updates and lookups.
func (s *ShareSession) Live(now time.Time) bool {
	return s.Active && !s.Expired(now)
}

// Store is the share registry consumed by the relay and the lifecycle
// manager. Lookups return ErrNotFound for inactive or expired sessions,
// exactly as for sessions that never existed.
type Store interface {

	// CreateSession persists a new active session for ownerID with a
	// fresh token, deactivating any prior active session for that owner
	// as a side effect of the same operation.
	CreateSession(ctx context.Context, ownerID string, expiresAt time.Time) (*ShareSession, error)

	// GetActiveSession returns the most recently created live session
	// for ownerID, or ErrNotFound.
	GetActiveSession(ctx context.Context, ownerID string) (*ShareSession, error)

	// GetSessionByToken returns the live session for token, or ErrNotFound.
	GetSessionByToken(ctx context.Context, token string) (*ShareSession, error)

	// StopSession deactivates the owner's active session, if any, and
	// returns the token of the session that was live at the time, or ""
	// if none was. Returning the token from the same operation leaves no
	// window for a concurrent CreateSession to slip a new session in
	// between a lookup and the deactivation.
	StopSession(ctx context.Context, ownerID string) (string, error)

	// RecordPosition stores the latest fix for the session.
	RecordPosition(ctx context.Context, sessionID string, lat, lng float64) error
}
