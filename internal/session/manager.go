package session

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTTL is the expiry horizon for new sessions.
const DefaultTTL = 24 * time.Hour

// Notifier is told when a session stops so that live viewers learn about
// the stop immediately, rather than at their next failed update. The
// relay hub implements this.
type Notifier interface {
	BroadcastShareEnded(token string)
}

// Manager governs share creation, stop and expiry semantics on top of a
// Store. Stop is a single operation spanning the registry update and the
// hub notification; callers must not stop sessions through the Store
// directly.
type Manager struct {
	store    Store
	notifier Notifier
	ttl      time.Duration

	// Now is a function for getting the time - useful for mocking in test
	Now func() time.Time
}

// NewManager returns a manager issuing sessions that expire ttl from
// creation. A ttl of zero means DefaultTTL.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		Now:   time.Now,
	}
}

// SetNotifier wires the relay hub in; the hub is constructed after the
// manager so this cannot be a constructor argument.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// Start begins a new session for ownerID, replacing any prior active
// session for that owner. Viewers of the replaced session receive the
// same terminal notice as for an explicit stop; replacement is a stop
// plus a fresh start, not a silent token swap.
func (m *Manager) Start(ctx context.Context, ownerID string) (*ShareSession, error) {
	replaced, err := m.store.StopSession(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if replaced != "" && m.notifier != nil {
		m.notifier.BroadcastShareEnded(replaced)
	}

	sess, err := m.store.CreateSession(ctx, ownerID, m.Now().Add(m.ttl))
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"owner_id": ownerID, "token": sess.Token}).Info("session started")

	return sess, nil
}

// Stop deactivates the owner's active session and synchronously notifies
// the hub so current subscribers receive a terminal notice. Stopping with
// no active session is a no-op.
func (m *Manager) Stop(ctx context.Context, ownerID string) error {
	stopped, err := m.store.StopSession(ctx, ownerID)
	if err != nil {
		return err
	}

	if stopped == "" {
		return nil
	}

	if m.notifier != nil {
		m.notifier.BroadcastShareEnded(stopped)
	}

	log.WithFields(log.Fields{"owner_id": ownerID, "token": stopped}).Info("session stopped")

	return nil
}

// Active returns the owner's current live session, or ErrNotFound.
func (m *Manager) Active(ctx context.Context, ownerID string) (*ShareSession, error) {
	return m.store.GetActiveSession(ctx, ownerID)
}

// ByToken returns the live session for token, or ErrNotFound.
func (m *Manager) ByToken(ctx context.Context, token string) (*ShareSession, error) {
	return m.store.GetSessionByToken(ctx, token)
}
