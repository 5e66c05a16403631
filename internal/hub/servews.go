package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Share links open from arbitrary origins; routing is authorised by
	// token possession, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket connection and runs its
// pumps until the connection or the relay closes.
func (h *Hub) ServeWS(closed <-chan struct{}, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err.Error()).Error("failed to upgrade to websocket")
		return
	}

	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferLength),
		name:        uuid.New().String(),
		remoteAddr:  r.Header.Get("X-Forwarded-For"),
		userAgent:   r.UserAgent(),
		connectedAt: time.Now(),
	}

	if client.remoteAddr == "" {
		client.remoteAddr = r.RemoteAddr
	}

	h.register(client)

	go client.writePump(closed)
	go client.readPump()
}
