package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pinshare/relay/internal/session"
)

func newTestHub() (*Hub, *session.MemStore) {
	store := session.NewMemStore()
	return New(store), store
}

func newTestClient(h *Hub, name string) *Client {
	c := &Client{
		hub:  h,
		send: make(chan []byte, 16),
		name: name,
	}
	h.register(c)
	return c
}

// recvEvent pops the next queued message for c, failing if there is none.
func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()

	select {
	case data := <-c.send:
		var ev Event
		assert.NoError(t, json.Unmarshal(data, &ev))
		return ev
	default:
		t.Fatalf("client %s: no message queued", c.name)
	}
	return Event{}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case data := <-c.send:
		t.Fatalf("client %s: unexpected message %s", c.name, data)
	default:
	}
}

func startSession(t *testing.T, store *session.MemStore, owner string) *session.ShareSession {
	t.Helper()

	sess, err := store.CreateSession(context.Background(), owner, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	return sess
}

func TestViewerCountTracksSubscribers(t *testing.T) {
	h, _ := newTestHub()

	const n = 5
	clients := make([]*Client, n)

	for i := range clients {
		clients[i] = newTestClient(h, "viewer")
		h.Subscribe(clients[i], "some-token")
	}

	assert.Equal(t, n, h.ViewerCount("some-token"))

	// disconnect a subset
	h.Disconnect(clients[0])
	h.Disconnect(clients[1])

	assert.Equal(t, n-2, h.ViewerCount("some-token"))
}

func TestSubscribeReplacesPriorToken(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h, "viewer")

	h.Subscribe(c, "t1")
	h.Subscribe(c, "t2")

	assert.Equal(t, 0, h.ViewerCount("t1"))
	assert.Equal(t, 1, h.ViewerCount("t2"))
}

func TestSubscribeSameTokenIsIdempotent(t *testing.T) {
	h, _ := newTestHub()
	c := newTestClient(h, "viewer")

	h.Subscribe(c, "t1")
	h.Subscribe(c, "t1")

	assert.Equal(t, 1, h.ViewerCount("t1"))
}

func TestFanOutExactlyOncePerViewer(t *testing.T) {
	h, store := newTestHub()
	sess := startSession(t, store, "u1")

	viewers := []*Client{
		newTestClient(h, "v0"),
		newTestClient(h, "v1"),
		newTestClient(h, "v2"),
	}
	for _, v := range viewers {
		h.Subscribe(v, sess.Token)
	}

	sharer := newTestClient(h, "sharer")
	h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: sess.Token, Lat: 10, Lng: 20})

	for _, v := range viewers {
		ev := recvEvent(t, v)
		assert.Equal(t, TypeLocationUpdate, ev.Type)

		var p PositionPayload
		assert.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, 10.0, p.Lat)
		assert.Equal(t, 20.0, p.Lng)

		// exactly one: nothing further queued
		assertNoMessage(t, v)
	}

	// the fix was persisted before fan-out
	got, err := store.GetSessionByToken(context.Background(), sess.Token)
	assert.NoError(t, err)
	assert.Equal(t, &session.Position{Lat: 10, Lng: 20}, got.LastPosition)

	// first valid update binds the sharer connection and pushes the count
	ev := recvEvent(t, sharer)
	assert.Equal(t, TypeViewerCount, ev.Type)
	assert.Equal(t, "3", string(ev.Payload))
}

func TestViewerCountPushedToSharerOnChange(t *testing.T) {
	h, store := newTestHub()
	sess := startSession(t, store, "u1")

	sharer := newTestClient(h, "sharer")
	h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: sess.Token, Lat: 1, Lng: 2})

	ev := recvEvent(t, sharer)
	assert.Equal(t, TypeViewerCount, ev.Type)
	assert.Equal(t, "0", string(ev.Payload))

	v := newTestClient(h, "viewer")
	h.Subscribe(v, sess.Token)

	ev = recvEvent(t, sharer)
	assert.Equal(t, TypeViewerCount, ev.Type)
	assert.Equal(t, "1", string(ev.Payload))

	h.Disconnect(v)

	ev = recvEvent(t, sharer)
	assert.Equal(t, TypeViewerCount, ev.Type)
	assert.Equal(t, "0", string(ev.Payload))
}

func TestStaleUpdateDroppedSilently(t *testing.T) {
	h, store := newTestHub()

	v := newTestClient(h, "viewer")
	h.Subscribe(v, "never-created")

	sharer := newTestClient(h, "sharer")
	h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: "never-created", Lat: 1, Lng: 2})

	// the subscriber is counted but receives nothing, and the sender
	// gets no feedback either
	assert.Equal(t, 1, h.ViewerCount("never-created"))
	assertNoMessage(t, v)
	assertNoMessage(t, sharer)

	_, err := store.GetSessionByToken(context.Background(), "never-created")
	assert.Equal(t, session.ErrNotFound, err)
}

// brokenStore fails position writes while leaving lookups intact.
type brokenStore struct {
	session.Store
	err error
}

func (b *brokenStore) RecordPosition(ctx context.Context, sessionID string, lat, lng float64) error {
	return b.err
}

func TestPersistenceFailureAbortsFanOut(t *testing.T) {
	mem := session.NewMemStore()
	h := New(&brokenStore{Store: mem, err: errors.New("registry write failed")})

	sess := startSession(t, mem, "u1")

	viewers := []*Client{
		newTestClient(h, "v0"),
		newTestClient(h, "v1"),
	}
	for _, v := range viewers {
		h.Subscribe(v, sess.Token)
	}

	sharer := newTestClient(h, "sharer")
	h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: sess.Token, Lat: 10, Lng: 20})

	// an unrecorded fix reaches nobody, and the sender gets no count
	// either since the update never identified it as the sharer
	for _, v := range viewers {
		assertNoMessage(t, v)
	}
	assertNoMessage(t, sharer)

	got, err := mem.GetSessionByToken(context.Background(), sess.Token)
	assert.NoError(t, err)
	assert.Nil(t, got.LastPosition)
}

func TestExpiredTokenBehavesStopped(t *testing.T) {
	h, store := newTestHub()

	now := time.Now()
	store.SetNowFunc(func() time.Time { return now })

	sess, err := store.CreateSession(context.Background(), "u1", now.Add(time.Hour))
	assert.NoError(t, err)

	v := newTestClient(h, "viewer")
	h.Subscribe(v, sess.Token)

	sharer := newTestClient(h, "sharer")

	// past the horizon the active flag is still physically true, but
	// updates behave exactly as for a stopped session
	store.SetNowFunc(func() time.Time { return now.Add(2 * time.Hour) })

	h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: sess.Token, Lat: 1, Lng: 2})

	assertNoMessage(t, v)
}

func TestBroadcastShareEnded(t *testing.T) {
	h, store := newTestHub()
	sess := startSession(t, store, "u1")

	viewers := []*Client{
		newTestClient(h, "v0"),
		newTestClient(h, "v1"),
	}
	for _, v := range viewers {
		h.Subscribe(v, sess.Token)
	}

	stopped, err := store.StopSession(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Equal(t, sess.Token, stopped)
	h.BroadcastShareEnded(sess.Token)

	for _, v := range viewers {
		ev := recvEvent(t, v)
		assert.Equal(t, TypeShareEnded, ev.Type)
		assertNoMessage(t, v)
	}

	assert.Equal(t, 0, h.ViewerCount(sess.Token))

	// further inbound updates with the dead token fan out nothing
	sharer := newTestClient(h, "sharer")
	h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: sess.Token, Lat: 5, Lng: 6})

	for _, v := range viewers {
		assertNoMessage(t, v)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h, _ := newTestHub()

	c := newTestClient(h, "viewer")
	h.Subscribe(c, "t1")

	h.Disconnect(c)
	h.Disconnect(c)

	assert.Equal(t, 0, h.ViewerCount("t1"))

	// disconnecting a connection that never subscribed is a no-op
	idle := newTestClient(h, "idle")
	h.Disconnect(idle)
}

func TestSlowViewerDoesNotBlockOthers(t *testing.T) {
	h, store := newTestHub()
	sess := startSession(t, store, "u1")

	slow := &Client{hub: h, send: make(chan []byte), name: "slow"} // unbuffered, never drained
	h.register(slow)
	h.Subscribe(slow, sess.Token)

	ok := newTestClient(h, "ok")
	h.Subscribe(ok, sess.Token)

	sharer := newTestClient(h, "sharer")

	done := make(chan struct{})
	go func() {
		h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: sess.Token, Lat: 1, Lng: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fan-out blocked on unwritable viewer")
	}

	ev := recvEvent(t, ok)
	assert.Equal(t, TypeLocationUpdate, ev.Type)
}

func TestReport(t *testing.T) {
	h, store := newTestHub()
	sess := startSession(t, store, "u1")

	v := newTestClient(h, "viewer")
	h.Subscribe(v, sess.Token)

	sharer := newTestClient(h, "sharer")
	h.LocationUpdate(context.Background(), sharer, LocationUpdatePayload{Token: sess.Token, Lat: 1, Lng: 2})

	r := h.Report()

	assert.Equal(t, 2, r.Connections)
	assert.Equal(t, 1, r.Subscriptions)
	assert.Equal(t, int64(1), r.Updates)

	if assert.Len(t, r.Topics, 1) {
		assert.Equal(t, sess.Token, r.Topics[0].Token)
		assert.Equal(t, 1, r.Topics[0].Viewers)
		assert.True(t, r.Topics[0].SharerConnected)
	}
}
