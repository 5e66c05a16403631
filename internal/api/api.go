// Package api serves the HTTP surface around the relay: share creation,
// stop and lookup, the websocket endpoint, the admin status report and
// prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jinzhu/copier"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/pinshare/relay/internal/hub"
	"github.com/pinshare/relay/internal/session"
	"github.com/pinshare/relay/internal/token"
)

// Config specifies parameters for the API.
type Config struct {

	// Host must match the audience in bearer tokens
	Host string

	// Secret is the HMAC secret bearer tokens are signed with
	Secret string

	// PublicBase is the externally visible base URL used to assemble
	// share links, e.g. https://share.example.org
	PublicBase string
}

// API holds the handlers for the HTTP surface.
type API struct {
	manager *session.Manager
	hub     *hub.Hub
	config  Config
}

// New returns an API serving the given manager and hub.
func New(manager *session.Manager, h *hub.Hub, config Config) *API {
	return &API{
		manager: manager,
		hub:     h,
		config:  config,
	}
}

// ShareResponse is the JSON document returned for a share session.
type ShareResponse struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"ownerId"`
	Token        string            `json:"token"`
	Active       bool              `json:"active"`
	LastPosition *session.Position `json:"lastPosition"`
	LastUpdated  *time.Time        `json:"lastUpdated"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	CreatedAt    time.Time         `json:"createdAt"`
	ShareURL     string            `json:"shareUrl,omitempty"`
}

// Router builds the route table. The closed channel stops websocket write
// pumps at relay shutdown.
func (a *API) Router(closed <-chan struct{}) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		a.hub.ServeWS(closed, w, req)
	})

	s := r.PathPrefix("/api").Subrouter()
	s.Use(instrument)

	s.HandleFunc("/shares", a.withAuth(token.ScopeShare, a.createShare)).Methods(http.MethodPost)
	s.HandleFunc("/shares/stop", a.withAuth(token.ScopeShare, a.stopShare)).Methods(http.MethodPost)
	s.HandleFunc("/shares/me", a.withAuth(token.ScopeShare, a.myShare)).Methods(http.MethodGet)
	s.HandleFunc("/shares/{token}", a.getShare).Methods(http.MethodGet)
	s.HandleFunc("/status", a.withAuth(token.ScopeAdmin, a.status)).Methods(http.MethodGet)

	return r
}

func (a *API) createShare(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	sess, err := a.manager.Start(r.Context(), claims.Subject)
	if err != nil {
		log.WithField("error", err.Error()).Error("creating share")
		writeError(w, http.StatusInternalServerError, "could not create share")
		return
	}

	writeJSON(w, http.StatusCreated, a.toResponse(sess))
}

func (a *API) stopShare(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	if err := a.manager.Stop(r.Context(), claims.Subject); err != nil {
		log.WithField("error", err.Error()).Error("stopping share")
		writeError(w, http.StatusInternalServerError, "could not stop share")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Sharing stopped"})
}

func (a *API) myShare(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	sess, err := a.manager.Active(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		log.WithField("error", err.Error()).Error("fetching own share")
		writeError(w, http.StatusInternalServerError, "could not fetch share")
		return
	}

	writeJSON(w, http.StatusOK, a.toResponse(sess))
}

// getShare is public: possession of the token is the capability. Unknown,
// inactive and expired tokens are indistinguishable to the caller.
func (a *API) getShare(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.ByToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Share link not found or expired")
			return
		}
		log.WithField("error", err.Error()).Error("fetching share by token")
		writeError(w, http.StatusInternalServerError, "could not fetch share")
		return
	}

	writeJSON(w, http.StatusOK, a.toResponse(sess))
}

func (a *API) status(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	writeJSON(w, http.StatusOK, a.hub.Report())
}

func (a *API) toResponse(sess *session.ShareSession) *ShareResponse {
	resp := &ShareResponse{}

	if err := copier.Copy(resp, sess); err != nil {
		log.WithField("error", err.Error()).Error("copying session to response")
	}

	if a.config.PublicBase != "" {
		resp.ShareURL = a.config.PublicBase + "/view/" + sess.Token
	}

	return resp
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("error", err.Error()).Error("writing response")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"message": message})
}
