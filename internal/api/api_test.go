package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pinshare/relay/internal/hub"
	"github.com/pinshare/relay/internal/session"
	"github.com/pinshare/relay/internal/token"
)

const (
	testHost   = "example.org"
	testSecret = "somesecret"
)

func newTestAPI() (*API, *session.Manager) {
	store := session.NewMemStore()
	manager := session.NewManager(store, time.Hour)
	h := hub.New(store)
	manager.SetNotifier(h)

	a := New(manager, h, Config{
		Host:       testHost,
		Secret:     testSecret,
		PublicBase: "https://share.example.org",
	})

	return a, manager
}

func bearerFor(t *testing.T, subject string, scopes []string) string {
	t.Helper()

	now := time.Now().Unix() - 1
	claims := token.New(testHost, subject, scopes, now, now, now+300)

	bearer, err := token.Sign(claims, testSecret)
	assert.NoError(t, err)
	return bearer
}

func doRequest(t *testing.T, a *API, method, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()

	closed := make(chan struct{})
	defer close(closed)

	a.Router(closed).ServeHTTP(w, req)
	return w
}

func decodeShare(t *testing.T, w *httptest.ResponseRecorder) ShareResponse {
	t.Helper()

	var resp ShareResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateShare(t *testing.T) {
	a, _ := newTestAPI()
	bearer := bearerFor(t, "user-1", []string{token.ScopeShare})

	w := doRequest(t, a, http.MethodPost, "/api/shares", bearer)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeShare(t, w)
	assert.Equal(t, "user-1", resp.OwnerID)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.Active)
	assert.Nil(t, resp.LastPosition)
	assert.Equal(t, "https://share.example.org/view/"+resp.Token, resp.ShareURL)
}

func TestCreateShareReplacesPrior(t *testing.T) {
	a, _ := newTestAPI()
	bearer := bearerFor(t, "user-1", []string{token.ScopeShare})

	first := decodeShare(t, doRequest(t, a, http.MethodPost, "/api/shares", bearer))
	second := decodeShare(t, doRequest(t, a, http.MethodPost, "/api/shares", bearer))

	assert.NotEqual(t, first.Token, second.Token)

	w := doRequest(t, a, http.MethodGet, "/api/shares/"+first.Token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateShareRequiresAuth(t *testing.T) {
	a, _ := newTestAPI()

	for _, bearer := range []string{
		"",
		"garbage",
		bearerFor(t, "user-1", []string{"other"}),
	} {
		w := doRequest(t, a, http.MethodPost, "/api/shares", bearer)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"message":"Unauthorized"}`, w.Body.String())
	}
}

func TestMyShare(t *testing.T) {
	a, _ := newTestAPI()
	bearer := bearerFor(t, "user-1", []string{token.ScopeShare})

	// no active share returns a JSON null body, not an error
	w := doRequest(t, a, http.MethodGet, "/api/shares/me", bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null\n", w.Body.String())

	created := decodeShare(t, doRequest(t, a, http.MethodPost, "/api/shares", bearer))

	w = doRequest(t, a, http.MethodGet, "/api/shares/me", bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.Token, decodeShare(t, w).Token)

	// another user's view is independent
	other := bearerFor(t, "user-2", []string{token.ScopeShare})
	w = doRequest(t, a, http.MethodGet, "/api/shares/me", other)
	assert.Equal(t, "null\n", w.Body.String())
}

func TestGetShareIsPublic(t *testing.T) {
	a, _ := newTestAPI()
	bearer := bearerFor(t, "user-1", []string{token.ScopeShare})

	created := decodeShare(t, doRequest(t, a, http.MethodPost, "/api/shares", bearer))

	// no Authorization header needed
	w := doRequest(t, a, http.MethodGet, "/api/shares/"+created.Token, "")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeShare(t, w)
	assert.Equal(t, created.Token, resp.Token)
	assert.True(t, resp.Active)
}

func TestGetShareUnknownToken(t *testing.T) {
	a, _ := newTestAPI()

	w := doRequest(t, a, http.MethodGet, "/api/shares/no-such-token", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"message":"Share link not found or expired"}`, w.Body.String())
}

func TestStopShare(t *testing.T) {
	a, _ := newTestAPI()
	bearer := bearerFor(t, "user-1", []string{token.ScopeShare})

	created := decodeShare(t, doRequest(t, a, http.MethodPost, "/api/shares", bearer))

	w := doRequest(t, a, http.MethodPost, "/api/shares/stop", bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Sharing stopped"}`, w.Body.String())

	// the token is dead afterwards
	w = doRequest(t, a, http.MethodGet, "/api/shares/"+created.Token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// stopping with nothing active still succeeds
	w = doRequest(t, a, http.MethodPost, "/api/shares/stop", bearer)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusRequiresAdminScope(t *testing.T) {
	a, _ := newTestAPI()

	w := doRequest(t, a, http.MethodGet, "/api/status", bearerFor(t, "user-1", []string{token.ScopeShare}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, a, http.MethodGet, "/api/status", bearerFor(t, "admin", []string{token.ScopeAdmin}))
	assert.Equal(t, http.StatusOK, w.Code)

	var report struct {
		Connections int `json:"connections"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Connections)
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestAPI()

	w := doRequest(t, a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "relay_")
}
