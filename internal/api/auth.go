package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/pinshare/relay/internal/metrics"
	"github.com/pinshare/relay/internal/token"
)

// authedHandler is a handler that additionally receives verified claims.
type authedHandler func(w http.ResponseWriter, r *http.Request, claims *token.Claims)

// withAuth checks the bearer token and required scope before calling
// next. Missing or invalid credentials produce a uniform 401.
func (a *API) withAuth(scope string, next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		if bearer == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := token.Verify(bearer, a.config.Secret, a.config.Host)
		if err != nil {
			log.WithField("error", err.Error()).Debug("rejected bearer token")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		if !claims.HasScope(scope) {
			log.WithFields(log.Fields{"subject": claims.Subject, "scope": scope}).Debug("missing scope")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next(w, r, claims)
	}
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument counts API requests by route template, method and status.
// Route templates keep share tokens out of the label set.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}
