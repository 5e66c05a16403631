package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordingNotifier captures share-ended broadcasts.
type recordingNotifier struct {
	tokens []string
}

func (n *recordingNotifier) BroadcastShareEnded(token string) {
	n.tokens = append(n.tokens, token)
}

func TestStartIssuesToken(t *testing.T) {
	m := NewManager(NewMemStore(), time.Hour)

	sess, err := m.Start(context.Background(), "u1")
	assert.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.Active)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)
}

func TestStartReplacesActiveSession(t *testing.T) {
	m := NewManager(NewMemStore(), time.Hour)
	ctx := context.Background()

	first, err := m.Start(ctx, "u1")
	assert.NoError(t, err)

	second, err := m.Start(ctx, "u1")
	assert.NoError(t, err)

	active, err := m.Active(ctx, "u1")
	assert.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	_, err = m.ByToken(ctx, first.Token)
	assert.Equal(t, ErrNotFound, err)
}

func TestStartReplacementNotifiesViewers(t *testing.T) {
	n := &recordingNotifier{}
	m := NewManager(NewMemStore(), time.Hour)
	m.SetNotifier(n)
	ctx := context.Background()

	first, err := m.Start(ctx, "u1")
	assert.NoError(t, err)
	assert.Empty(t, n.tokens)

	// replacing a live session ends it for its viewers, exactly as an
	// explicit stop would
	second, err := m.Start(ctx, "u1")
	assert.NoError(t, err)
	assert.Equal(t, []string{first.Token}, n.tokens)

	// the new token was not broadcast as ended
	assert.NotContains(t, n.tokens, second.Token)
}

func TestStopNotifiesHub(t *testing.T) {
	n := &recordingNotifier{}
	m := NewManager(NewMemStore(), time.Hour)
	m.SetNotifier(n)
	ctx := context.Background()

	sess, err := m.Start(ctx, "u1")
	assert.NoError(t, err)

	assert.NoError(t, m.Stop(ctx, "u1"))
	assert.Equal(t, []string{sess.Token}, n.tokens)

	_, err = m.ByToken(ctx, sess.Token)
	assert.Equal(t, ErrNotFound, err)
}

func TestStopWithoutActiveSessionIsNoop(t *testing.T) {
	n := &recordingNotifier{}
	m := NewManager(NewMemStore(), time.Hour)
	m.SetNotifier(n)

	assert.NoError(t, m.Stop(context.Background(), "u1"))
	assert.Empty(t, n.tokens)
}

func TestDefaultTTL(t *testing.T) {
	m := NewManager(NewMemStore(), 0)

	sess, err := m.Start(context.Background(), "u1")
	assert.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), sess.ExpiresAt, 5*time.Second)
}
