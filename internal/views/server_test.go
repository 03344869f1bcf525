package views

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathforge/pathforge/internal/app"
	"github.com/pathforge/pathforge/internal/config"
	"github.com/pathforge/pathforge/internal/credential"
	"github.com/pathforge/pathforge/internal/testbackend"
)

type fixture struct {
	backend *testbackend.Backend
	apiURL  string
	app     *app.App
	server  *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := testbackend.New(testbackend.Options{})
	backendSrv := httptest.NewServer(b.Handler())
	t.Cleanup(backendSrv.Close)

	_, err := b.AddUser("Ada", "ada@example.com", "secret")
	require.NoError(t, err)

	cfg := &config.Config{
		API:        config.APIConfig{BaseURL: backendSrv.URL, RequestTimeout: 5 * time.Second},
		Credential: config.CredentialConfig{Backend: config.StoreMemory},
		Routes:     config.RoutesConfig{EntryPath: "/login", HomePath: "/dashboard"},
		Views:      config.ViewsConfig{AllowedOrigins: []string{backendSrv.URL}},
	}
	a, err := app.New(cfg, zerolog.Nop(), app.Options{Store: credential.NewMemoryStore()})
	require.NoError(t, err)

	return &fixture{
		backend: b,
		apiURL:  backendSrv.URL,
		app:     a,
		server:  New(a, zerolog.Nop(), "test"),
	}
}

func (f *fixture) request(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "unresolved", body["session"])
}

func TestDashboard_WaitsWhileUnresolved(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodGet, "/dashboard", nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "Loading...", decode(t, w)["message"])
}

func TestDashboard_RedirectsAnonymous(t *testing.T) {
	f := newFixture(t)
	f.app.Mount(context.Background())

	w := f.request(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = f.request(http.MethodGet, "/", nil)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)
	f.app.Mount(context.Background())

	w := f.request(http.MethodPost, "/login", url.Values{"email": {"ada@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	w = f.request(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome, Ada", decode(t, w)["message"])

	w = f.request(http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = f.request(http.MethodGet, "/dashboard", nil)
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestLogin_BadPassword(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodPost, "/login", url.Values{"email": {"ada@example.com"}, "password": {"nope"}})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, decode(t, w)["details"], "Invalid email or password")
}

func TestLogin_InvalidEmail(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodPost, "/login", url.Values{"email": {"ada"}, "password": {"secret"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.backend.Calls("/api/auth/login"))
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"name": {"Grace"}, "email": {"grace@example.com"}, "password": {"hopper"}}

	w := f.request(http.MethodPost, "/signup", form)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = f.request(http.MethodPost, "/signup", form)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuthSuccess(t *testing.T) {
	f := newFixture(t)
	token, err := f.backend.IssueAccessToken("ada@example.com")
	require.NoError(t, err)

	w := f.request(http.MethodGet, "/auth/success?token="+url.QueryEscape(token), nil)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
	stored, err := credential.Current(f.app.Store)
	require.NoError(t, err)
	assert.Equal(t, token, stored)
}

func TestAuthSuccess_MissingToken(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodGet, "/auth/success", nil)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestAuthError(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodGet, "/auth/error", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authentication failed", decode(t, w)["message"])
}

func TestProviderRedirect(t *testing.T) {
	f := newFixture(t)

	w := f.request(http.MethodGet, "/login/github", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, f.apiURL+"/oauth2/authorization/github", w.Header().Get("Location"))

	w = f.request(http.MethodGet, "/login/myspace", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.request(http.MethodGet, "/login", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["providers"], 2)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.app.Mount(context.Background())

	w := f.request(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pathforge_session_resolutions_total{status="anonymous"} 1`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	f.app.Config().Views.RevalidateSchedule = "@every 1h"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "anonymous", f.app.Session.Snapshot().Status.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
