// Package reconws is a websocket client that automatically reconnects,
// used by the share and watch commands and by end-to-end tests.
package reconws

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
)

// WsMessage represents a websocket message.
type WsMessage struct {
	Data []byte
	Type int
}

// ReconWs is a websocket client that redials the relay with exponential
// backoff whenever the connection drops.
type ReconWs struct {

	// Connected is closed on each successful connection; helps tests
	Connected chan struct{}

	ConnectedAt time.Time

	In chan WsMessage

	Out chan WsMessage

	Retry RetryConfig

	// ID appears in logs to correlate messages from this client
	ID string
}

// RetryConfig represents the parameters for when to retry to connect.
type RetryConfig struct {
	Factor float64
	Jitter bool
	Min    time.Duration
	Max    time.Duration
}

// New returns a pointer to a new reconnecting websocket client.
func New() *ReconWs {
	return &ReconWs{
		Connected: make(chan struct{}),
		In:        make(chan WsMessage),
		Out:       make(chan WsMessage),
		Retry: RetryConfig{
			Factor: 2,
			Min:    time.Second,
			Max:    10 * time.Second,
			Jitter: false,
		},
		ID: uuid.New().String()[0:6],
	}
}

// Reconnect dials url and handles message traffic, redialling with
// backoff whenever the connection closes, until the context is
// cancelled. Run in its own goroutine.
func (r *ReconWs) Reconnect(ctx context.Context, url string) {
	id := "reconws.Reconnect(" + r.ID + ")"

	boff := &backoff.Backoff{
		Min:    r.Retry.Min,
		Max:    r.Retry.Max,
		Factor: r.Retry.Factor,
		Jitter: r.Retry.Jitter,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			dialCtx, cancel := context.WithCancel(ctx)
			err := r.Dial(dialCtx, url)
			cancel()

			if err == nil {
				boff.Reset()
				log.Tracef("%s: dial finished cleanly, backoff reset", id)
			} else {
				log.WithField("error", err).Tracef("%s: dial failed, backing off", id)
				time.Sleep(boff.Duration())
			}
		}
	}
}

// Dial connects to the websocket server once. If the dial fails it
// returns immediately; otherwise it handles message traffic until the
// context is cancelled or the connection drops.
func (r *ReconWs) Dial(ctx context.Context, urlStr string) error {
	id := "reconws.Dial(" + r.ID + ")"

	if urlStr == "" {
		return errors.New("can't dial an empty url")
	}

	// parse to check, dial with original string
	u, err := url.Parse(urlStr)
	if err != nil {
		log.Errorf("%s: bad url: %s", id, err.Error())
		return err
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("url must start with ws or wss")
	}

	c, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		log.WithField("error", err).Errorf("%s: dial failed", id)
		return err
	}

	r.ConnectedAt = time.Now()
	close(r.Connected) //signal that we've connected
	defer func() {
		r.Connected = make(chan struct{}) //reset for next time
	}()

	log.Tracef("%s: connected to %s", id, u)

	readClosed := make(chan struct{})

	go func() {
		for {
			mt, data, err := c.ReadMessage()

			// an error here is the normal exit path when the writer
			// closes the connection
			if err != nil {
				log.WithField("error", err).Infof("%s: read error; closing", id)
				close(readClosed)
				return
			}

			r.In <- WsMessage{Data: data, Type: mt}
			log.Tracef("%s: received %d-byte message", id, len(data))
		}
	}()

LOOPWRITING:
	for {
		select {
		case <-readClosed:
			err = nil // nil error resets the backoff
			break LOOPWRITING
		case msg := <-r.Out:
			if werr := c.WriteMessage(msg.Type, msg.Data); werr != nil {
				log.WithField("error", werr).Infof("%s: write error; closing", id)
				break LOOPWRITING
			}
			log.Tracef("%s: sent %d-byte message", id, len(msg.Data))
		case <-ctx.Done():
			cm := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if werr := c.WriteMessage(websocket.CloseMessage, cm); werr != nil {
				log.WithField("error", werr).Infof("%s: error sending close message", id)
			}
			c.Close()
			break LOOPWRITING
		}
	}

	log.Tracef("%s: done", id)
	return err
}
