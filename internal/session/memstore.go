package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory share registry guarded by a mutex. It is the
// default store for a single-instance relay and for tests.
type MemStore struct {
	sync.Mutex

	// sessions by record ID
	sessions map[string]*ShareSession

	// token to record ID
	byToken map[string]string

	// Now is a function for getting the time - useful for mocking in test
	Now func() time.Time
}

// NewMemStore returns an empty in-memory store using the system clock.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*ShareSession),
		byToken:  make(map[string]string),
		Now:      time.Now,
	}
}

// SetNowFunc replaces the clock, for tests that need to move time.
func (m *MemStore) SetNowFunc(nf func() time.Time) {
	m.Lock()
	defer m.Unlock()
	m.Now = nf
}

// CreateSession deactivates any active session for ownerID and persists a
// new one with a fresh token, atomically with respect to concurrent reads.
func (m *MemStore) CreateSession(ctx context.Context, ownerID string, expiresAt time.Time) (*ShareSession, error) {
	m.Lock()
	defer m.Unlock()

	for _, s := range m.sessions {
		if s.OwnerID == ownerID && s.Active {
			s.Active = false
		}
	}

	s := &ShareSession{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Token:     uuid.New().String(),
		Active:    true,
		ExpiresAt: expiresAt,
		CreatedAt: m.Now(),
	}

	m.sessions[s.ID] = s
	m.byToken[s.Token] = s.ID

	return copySession(s), nil
}

// GetActiveSession returns the most recently created live session for
// ownerID, or ErrNotFound.
func (m *MemStore) GetActiveSession(ctx context.Context, ownerID string) (*ShareSession, error) {
	m.Lock()
	defer m.Unlock()

	now := m.Now()

	var latest *ShareSession

	for _, s := range m.sessions {
		if s.OwnerID != ownerID || !s.Live(now) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}

	return copySession(latest), nil
}

// GetSessionByToken returns the live session for token, or ErrNotFound.
// An expired-but-flagged-active row behaves identically to a stopped one.
func (m *MemStore) GetSessionByToken(ctx context.Context, token string) (*ShareSession, error) {
	m.Lock()
	defer m.Unlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}

	s := m.sessions[id]

	if !s.Live(m.Now()) {
		return nil, ErrNotFound
	}

	return copySession(s), nil
}

// StopSession deactivates the owner's active sessions and returns the
// token of the one that was live, or "". Stopping an owner with no
// active session is a no-op.
func (m *MemStore) StopSession(ctx context.Context, ownerID string) (string, error) {
	m.Lock()
	defer m.Unlock()

	now := m.Now()
	stopped := ""

	for _, s := range m.sessions {
		if s.OwnerID == ownerID && s.Active {
			if !s.Expired(now) {
				stopped = s.Token
			}
			s.Active = false
		}
	}

	return stopped, nil
}

// RecordPosition stores the latest fix for the session identified by
// sessionID.
func (m *MemStore) RecordPosition(ctx context.Context, sessionID string, lat, lng float64) error {
	m.Lock()
	defer m.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}

	now := m.Now()
	s.LastPosition = &Position{Lat: lat, Lng: lng}
	s.LastUpdated = &now

	return nil
}

// copySession returns a deep copy so callers never share mutable state
// with the store.
func copySession(s *ShareSession) *ShareSession {
	c := *s
	if s.LastPosition != nil {
		p := *s.LastPosition
		c.LastPosition = &p
	}
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		c.LastUpdated = &t
	}
	return &c
}
