package hub

import (
	"sync"
	"time"

	"github.com/eclesh/welford"
)

// Stats accumulates running statistics for the hub, reported through the
// admin status endpoint.
type Stats struct {
	mu sync.Mutex

	started time.Time

	// last is the time of the most recent valid update
	last time.Time

	// audience tracks subscribers per fan-out
	audience *welford.Stats

	// dt tracks seconds between valid updates
	dt *welford.Stats

	updates int64

	stale int64

	ended int64
}

// NewStats returns zeroed statistics starting now.
func NewStats() *Stats {
	return &Stats{
		started:  time.Now(),
		audience: welford.New(),
		dt:       welford.New(),
	}
}

// RecordUpdate notes one valid fan-out to audience viewers.
func (s *Stats) RecordUpdate(audience int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.last.IsZero() {
		dt := time.Since(s.last)
		if dt < 24*time.Hour {
			s.dt.Add(dt.Seconds())
		}
	}
	s.last = time.Now()

	s.audience.Add(float64(audience))
	s.updates++
}

// RecordStale notes one update dropped for a dead token.
func (s *Stats) RecordStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale++
}

// RecordEnded notes one share_ended broadcast.
func (s *Stats) RecordEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
}

// TopicReport describes one token's live subscription state.
type TopicReport struct {
	Token           string `json:"token"`
	Viewers         int    `json:"viewers"`
	SharerConnected bool   `json:"sharerConnected"`
}

// Report is the hub status document returned to admins.
type Report struct {
	UptimeSeconds    float64       `json:"uptimeSeconds"`
	Connections      int           `json:"connections"`
	Subscriptions    int           `json:"subscriptions"`
	Updates          int64         `json:"updates"`
	StaleDropped     int64         `json:"staleDropped"`
	SharesEnded      int64         `json:"sharesEnded"`
	MeanAudience     float64       `json:"meanAudience"`
	UpdatesPerSecond float64       `json:"updatesPerSecond"`
	Topics           []TopicReport `json:"topics"`
}

// Report snapshots the hub's state and statistics.
func (h *Hub) Report() Report {
	h.mu.RLock()

	subscriptions := 0
	topics := make([]TopicReport, 0, len(h.subscribers))

	for token, viewers := range h.subscribers {
		subscriptions += len(viewers)
		_, sharerConnected := h.sharers[token]
		topics = append(topics, TopicReport{
			Token:           token,
			Viewers:         len(viewers),
			SharerConnected: sharerConnected,
		})
	}

	connections := len(h.connections)

	h.mu.RUnlock()

	h.stats.mu.Lock()
	defer h.stats.mu.Unlock()

	r := Report{
		UptimeSeconds: time.Since(h.stats.started).Seconds(),
		Connections:   connections,
		Subscriptions: subscriptions,
		Updates:       h.stats.updates,
		StaleDropped:  h.stats.stale,
		SharesEnded:   h.stats.ended,
		Topics:        topics,
	}

	if h.stats.audience.Count() > 0 {
		r.MeanAudience = h.stats.audience.Mean()
	}
	if h.stats.dt.Count() > 0 {
		if mean := h.stats.dt.Mean(); mean > 0 {
			r.UpdatesPerSecond = 1 / mean
		}
	}

	return r
}
