// Package metrics registers the prometheus instruments for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive counts live websocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Current number of live websocket connections",
		},
	)

	// SubscriptionsActive counts connections currently watching a token.
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscriptions_active",
			Help: "Current number of subscribed viewer connections",
		},
	)

	// EventsTotal counts inbound events by type tag.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total number of inbound connection events",
		},
		[]string{"type"},
	)

	// MalformedEventsTotal counts events dropped at the parse boundary.
	MalformedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_malformed_events_total",
			Help: "Total number of inbound events dropped as malformed",
		},
	)

	// StaleUpdatesTotal counts location updates dropped because the
	// session was stopped, expired or unknown.
	StaleUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_stale_updates_total",
			Help: "Total number of location updates dropped for dead tokens",
		},
	)

	// FanoutMessagesTotal counts outbound location updates delivered to
	// viewers.
	FanoutMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_fanout_messages_total",
			Help: "Total number of location updates fanned out to viewers",
		},
	)

	// APIRequestsTotal counts HTTP API requests.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "code"},
	)
)
