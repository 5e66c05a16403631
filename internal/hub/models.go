package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Events are small JSON
	// envelopes; anything larger is misbehaviour.
	maxMessageSize = 1024

	// Buffered length of each client's outbound channel. A viewer that
	// falls this far behind starts missing updates rather than stalling
	// the sharer.
	sendBufferLength = 256
)

// Client is a middleperson between a websocket connection and the hub.
// All hub-facing state for one connection lives here; clients are
// transient and never persisted.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. The hub sends non-blocking;
	// writePump drains.
	send chan []byte

	// name for log correlation only
	name string

	remoteAddr string

	userAgent string

	connectedAt time.Time
}
