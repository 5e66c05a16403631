// Package hub is the stateful core of the relay: it owns the connection
// registry and the subscription table, processes subscribe, location
// update and disconnect events, and fans position updates out to viewers.
//
// All mutation of subscription state funnels through the Hub's methods;
// no other component touches the tables. Token validity is checked
// lazily: subscribing to an unknown or dead token succeeds but the
// subscriber simply never receives updates.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pinshare/relay/internal/metrics"
	"github.com/pinshare/relay/internal/session"
)

// Hub maintains the set of live connections and broadcasts location
// updates to the viewers of each share token.
type Hub struct {
	mu sync.RWMutex

	// connections holds every live client, subscribed or not.
	connections map[*Client]bool

	// watching maps a viewer to its subscribed token; a connection
	// watches at most one token at a time.
	watching map[*Client]string

	// subscribers maps a share token to the set of viewers watching it.
	subscribers map[string]map[*Client]bool

	// sharers maps a share token to the connection pushing its fixes,
	// with sharing as the reverse relation. The binding is made on the
	// first valid location update from a connection, latest wins.
	sharers map[string]*Client
	sharing map[*Client]string

	store session.Store

	stats *Stats
}

// New returns a hub reading and writing share records through store.
func New(store session.Store) *Hub {
	return &Hub{
		connections: make(map[*Client]bool),
		watching:    make(map[*Client]string),
		subscribers: make(map[string]map[*Client]bool),
		sharers:     make(map[string]*Client),
		sharing:     make(map[*Client]string),
		store:       store,
		stats:       NewStats(),
	}
}

// countPush is a pending viewer_count message for a sharer connection,
// collected under the lock and delivered after release.
type countPush struct {
	to *Client
	n  int
}

// register adds a connection to the registry; called by ServeWS.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.connections[c] = true
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()

	log.WithFields(log.Fields{"client": c.name, "remote_addr": c.remoteAddr}).Debug("client connected")
}

// Subscribe registers c as a viewer of token, replacing any prior token
// association for that connection. No existence check is made against the
// share registry.
func (h *Hub) Subscribe(c *Client, token string) {
	if token == "" {
		return
	}

	var pushes []countPush

	h.mu.Lock()

	prev := h.watching[c]
	if prev == token {
		h.mu.Unlock()
		return
	}

	if prev != "" {
		h.removeViewerLocked(c, prev)
		if sharer, ok := h.sharers[prev]; ok {
			pushes = append(pushes, countPush{sharer, len(h.subscribers[prev])})
		}
	} else {
		metrics.SubscriptionsActive.Inc()
	}

	if _, ok := h.subscribers[token]; !ok {
		h.subscribers[token] = make(map[*Client]bool)
	}
	h.subscribers[token][c] = true
	h.watching[c] = token

	if sharer, ok := h.sharers[token]; ok {
		pushes = append(pushes, countPush{sharer, len(h.subscribers[token])})
	}

	h.mu.Unlock()

	h.pushViewerCounts(pushes)

	log.WithFields(log.Fields{"client": c.name, "token": token}).Debug("client subscribed")
}

// LocationUpdate validates the token against the share registry, persists
// the fix, then fans it out to every current viewer of the token whose
// transport is writable. Updates for stopped, expired or unknown tokens
// are dropped silently. A persistence failure aborts the fan-out so
// viewers never see positions that were not durably recorded.
func (h *Hub) LocationUpdate(ctx context.Context, c *Client, p LocationUpdatePayload) {
	sess, err := h.store.GetSessionByToken(ctx, p.Token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.stats.RecordStale()
			metrics.StaleUpdatesTotal.Inc()
			log.WithFields(log.Fields{"client": c.name, "token": p.Token}).Debug("dropped update for dead token")
		} else {
			log.WithFields(log.Fields{"client": c.name, "error": err.Error()}).Warn("registry lookup failed, dropping update")
		}
		return
	}

	if err := h.store.RecordPosition(ctx, sess.ID, p.Lat, p.Lng); err != nil {
		log.WithFields(log.Fields{"client": c.name, "error": err.Error()}).Warn("position not persisted, aborting fan-out")
		return
	}

	msg, err := NewLocationUpdate(p.Lat, p.Lng)
	if err != nil {
		log.WithField("error", err.Error()).Error("marshalling fan-out message")
		return
	}

	h.mu.Lock()

	newSharer := h.sharers[p.Token] != c
	if newSharer {
		if old := h.sharing[c]; old != "" && h.sharers[old] == c {
			delete(h.sharers, old)
		}
		h.sharers[p.Token] = c
		h.sharing[c] = p.Token
	}

	viewers := make([]*Client, 0, len(h.subscribers[p.Token]))
	for v := range h.subscribers[p.Token] {
		viewers = append(viewers, v)
	}

	h.mu.Unlock()

	delivered := 0
	for _, v := range viewers {
		if v.trySend(msg) {
			delivered++
		}
	}

	metrics.FanoutMessagesTotal.Add(float64(delivered))
	h.stats.RecordUpdate(len(viewers))

	if newSharer {
		h.pushViewerCounts([]countPush{{c, len(viewers)}})
	}
}

// Disconnect removes c from the registry and from whichever subscriber
// set it belonged to. It is idempotent; disconnecting a connection with
// no subscription is a no-op.
func (h *Hub) Disconnect(c *Client) {
	var pushes []countPush

	h.mu.Lock()

	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		metrics.ConnectionsActive.Dec()
	}

	if token := h.watching[c]; token != "" {
		h.removeViewerLocked(c, token)
		metrics.SubscriptionsActive.Dec()
		if sharer, ok := h.sharers[token]; ok {
			pushes = append(pushes, countPush{sharer, len(h.subscribers[token])})
		}
	}

	if token := h.sharing[c]; token != "" {
		if h.sharers[token] == c {
			delete(h.sharers, token)
		}
		delete(h.sharing, c)
	}

	h.mu.Unlock()

	h.pushViewerCounts(pushes)

	log.WithField("client", c.name).Debug("client disconnected")
}

// BroadcastShareEnded delivers a terminal notice to every current
// subscriber of token and clears the subscriber set. Invoked by the
// session lifecycle manager when a session stops; future subscribes to
// the dead token are still accepted but never receive updates.
func (h *Hub) BroadcastShareEnded(token string) {
	msg, err := NewShareEnded()
	if err != nil {
		log.WithField("error", err.Error()).Error("marshalling share_ended")
		return
	}

	h.mu.Lock()

	viewers := make([]*Client, 0, len(h.subscribers[token]))
	for v := range h.subscribers[token] {
		viewers = append(viewers, v)
		delete(h.watching, v)
	}
	delete(h.subscribers, token)

	if sharer, ok := h.sharers[token]; ok {
		delete(h.sharers, token)
		delete(h.sharing, sharer)
	}

	h.mu.Unlock()

	for _, v := range viewers {
		v.trySend(msg)
	}

	if n := len(viewers); n > 0 {
		metrics.SubscriptionsActive.Sub(float64(n))
	}
	h.stats.RecordEnded()

	log.WithFields(log.Fields{"token": token, "viewers": len(viewers)}).Info("share ended")
}

// ViewerCount returns the current number of subscribers for token. The
// count is well-defined for any token, valid or not.
func (h *Hub) ViewerCount(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[token])
}

// removeViewerLocked drops c from token's set; callers hold the lock.
func (h *Hub) removeViewerLocked(c *Client, token string) {
	delete(h.subscribers[token], c)
	if len(h.subscribers[token]) == 0 {
		delete(h.subscribers, token)
	}
	delete(h.watching, c)
}

// pushViewerCounts sends pending counts to sharer connections. Delivery
// is best-effort: a sharer with a full send buffer just misses a count.
func (h *Hub) pushViewerCounts(pushes []countPush) {
	for _, p := range pushes {
		msg, err := NewViewerCount(p.n)
		if err != nil {
			log.WithField("error", err.Error()).Error("marshalling viewer_count")
			continue
		}
		p.to.trySend(msg)
	}
}

// route dispatches one inbound frame from c. Unparseable envelopes,
// missing fields and unrecognized type tags are logged and dropped; the
// connection stays open and other connections are unaffected.
func (h *Hub) route(c *Client, data []byte) {
	var ev Event

	if err := json.Unmarshal(data, &ev); err != nil {
		h.malformed(c, "unparseable envelope")
		return
	}

	switch ev.Type {
	case TypeSubscribe:
		p, err := parseSubscribe(ev.Payload)
		if err != nil {
			h.malformed(c, "bad subscribe payload")
			return
		}
		metrics.EventsTotal.WithLabelValues(TypeSubscribe).Inc()
		h.Subscribe(c, p.Token)
	case TypeLocationUpdate:
		p, err := parseLocationUpdate(ev.Payload)
		if err != nil {
			h.malformed(c, "bad location_update payload")
			return
		}
		metrics.EventsTotal.WithLabelValues(TypeLocationUpdate).Inc()
		h.LocationUpdate(context.Background(), c, p)
	default:
		h.malformed(c, "unrecognized type "+ev.Type)
	}
}

func (h *Hub) malformed(c *Client, reason string) {
	metrics.MalformedEventsTotal.Inc()
	log.WithFields(log.Fields{"client": c.name, "reason": reason}).Warn("dropped malformed event")
}

// trySend queues data for the client without blocking. A slow or wedged
// connection misses the message rather than stalling the sender.
func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
