// Package relay wires the share registry, lifecycle manager, hub and
// HTTP surface into one running service.
package relay

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinshare/relay/internal/api"
	"github.com/pinshare/relay/internal/hub"
	"github.com/pinshare/relay/internal/session"
)

// Config specifies parameters for a relay instance.
type Config struct {

	// Port to listen on
	Port int

	// Audience must match the aud claim in API bearer tokens
	Audience string

	// Secret is the HMAC secret bearer tokens are signed with
	Secret string

	// DatabaseURL selects the Postgres share registry; empty means the
	// in-memory registry
	DatabaseURL string

	// SessionTTL is the expiry horizon for new sessions; zero means the
	// default of 24h
	SessionTTL time.Duration

	// PublicBase is used to assemble share links in API responses
	PublicBase string
}

// Relay runs the location share relay until closed is closed.
func Relay(closed <-chan struct{}, parentwg *sync.WaitGroup, config Config) {
	defer parentwg.Done()

	var store session.Store

	if config.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := session.NewPGStore(ctx, config.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("share registry unavailable: %s", err.Error())
		}
		defer pg.Close()
		store = pg
	} else {
		log.Info("no database configured, using in-memory share registry")
		store = session.NewMemStore()
	}

	manager := session.NewManager(store, config.SessionTTL)
	h := hub.New(store)

	// stop must notify live viewers synchronously
	manager.SetNotifier(h)

	a := api.New(manager, h, api.Config{
		Host:       config.Audience,
		Secret:     config.Secret,
		PublicBase: config.PublicBase,
	})

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Port),
		Handler: a.Router(closed),
	}

	go func() {
		<-closed
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("server shutdown error %s", err.Error())
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalln(err)
	}

	log.Trace("relay done")
}
