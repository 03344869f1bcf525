package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathforge/pathforge/internal/credential"
	"github.com/pathforge/pathforge/internal/metrics"
)

// fakeRefresher hands out a fixed credential or error and counts calls
type fakeRefresher struct {
	calls atomic.Int32
	token string
	err   error
	gate  func()
}

func (f *fakeRefresher) Refresh(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		f.gate()
	}
	return f.token, f.err
}

// tokenServer answers 200 for accepted tokens and 401 for everything else.
// It records the Authorization header of every request.
type tokenServer struct {
	*httptest.Server
	mu       sync.Mutex
	accepted map[string]bool
	seen     []string
	bodies   []string
	ids      []string
	onReject func()
}

func newTokenServer(t *testing.T, accepted ...string) *tokenServer {
	t.Helper()
	ts := &tokenServer{accepted: map[string]bool{}}
	for _, tok := range accepted {
		ts.accepted[tok] = true
	}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		auth := r.Header.Get("Authorization")

		ts.mu.Lock()
		ts.seen = append(ts.seen, auth)
		ts.bodies = append(ts.bodies, string(body))
		ts.ids = append(ts.ids, r.Header.Get(RequestIDHeader))
		ok := ts.accepted[strings.TrimPrefix(auth, bearerPrefix)]
		onReject := ts.onReject
		ts.mu.Unlock()

		if !ok {
			if onReject != nil {
				onReject()
			}
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"expired"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) headers() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.seen...)
}

func (ts *tokenServer) recorded() (bodies, ids []string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.bodies...), append([]string(nil), ts.ids...)
}

type harness struct {
	store     *credential.MemoryStore
	refresher *fakeRefresher
	metrics   *metrics.Metrics
	expired   atomic.Int32
	client    *http.Client
}

func newHarness(t *testing.T, refresher *fakeRefresher) *harness {
	t.Helper()
	h := &harness{
		store:     credential.NewMemoryStore(),
		refresher: refresher,
		metrics:   metrics.New(),
	}
	tr := New(Options{
		Store:            h.store,
		Refresher:        refresher,
		OnSessionExpired: func() { h.expired.Add(1) },
		Logger:           zerolog.Nop(),
		Metrics:          h.metrics,
	})
	h.client = &http.Client{Transport: tr, Timeout: 5 * time.Second}
	return h
}

func TestRoundTrip_AttachesCredentialWhenPresent(t *testing.T) {
	srv := newTokenServer(t, "abc")
	h := newHarness(t, &fakeRefresher{})
	require.NoError(t, h.store.Set("abc"))

	resp, err := h.client.Get(srv.URL + "/api/user/me")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer abc"}, srv.headers())
}

func TestRoundTrip_NoCredentialDispatchesUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	h := newHarness(t, &fakeRefresher{})

	resp, err := h.client.Post(srv.URL+"/api/auth/signup", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Zero(t, h.refresher.calls.Load())
}

func TestRoundTrip_RefreshesAndRetriesOnce(t *testing.T) {
	srv := newTokenServer(t, "new")
	h := newHarness(t, &fakeRefresher{token: "new"})
	require.NoError(t, h.store.Set("old"))

	resp, err := h.client.Get(srv.URL + "/api/user/me")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(1), h.refresher.calls.Load())
	assert.Equal(t, []string{"Bearer old", "Bearer new"}, srv.headers())

	stored, err := h.store.Get()
	require.NoError(t, err)
	assert.Equal(t, "new", stored)
}

func TestRoundTrip_RetryFailureIsReturnedAsIs(t *testing.T) {
	srv := newTokenServer(t) // accepts nothing
	h := newHarness(t, &fakeRefresher{token: "also-rejected"})
	require.NoError(t, h.store.Set("old"))

	for i := 0; i < 3; i++ {
		resp, err := h.client.Get(srv.URL + "/api/user/me")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// one refresh per logical request, never more
	assert.Equal(t, int32(3), h.refresher.calls.Load())
	assert.Len(t, srv.headers(), 6)
	assert.Zero(t, h.expired.Load())
}

func TestRoundTrip_RefreshFailureEndsSession(t *testing.T) {
	srv := newTokenServer(t)
	h := newHarness(t, &fakeRefresher{err: errors.New("refresh rejected (status 401)")})
	require.NoError(t, h.store.Set("old"))

	resp, err := h.client.Get(srv.URL + "/api/user/me")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	// the original failure reaches the caller
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"expired"}`, string(body))

	_, err = h.store.Get()
	assert.ErrorIs(t, err, credential.ErrNoCredential)
	assert.Equal(t, int32(1), h.expired.Load())
	assert.Equal(t, []string{"Bearer old"}, srv.headers(), "no retry after a failed refresh")
}

func TestRoundTrip_EmptyRefreshCredentialIsAFailure(t *testing.T) {
	srv := newTokenServer(t)
	h := newHarness(t, &fakeRefresher{token: ""})
	require.NoError(t, h.store.Set("old"))

	resp, err := h.client.Get(srv.URL + "/api/user/me")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), h.expired.Load())
}

func TestRoundTrip_OtherStatusesUntouched(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		h := newHarness(t, &fakeRefresher{token: "new"})
		require.NoError(t, h.store.Set("abc"))

		resp, err := h.client.Get(srv.URL)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		srv.Close()

		assert.Equal(t, status, resp.StatusCode)
		assert.JSONEq(t, `{"error":"nope"}`, string(body))
		assert.Zero(t, h.refresher.calls.Load())
	}
}

func TestRoundTrip_NetworkFailureSurfacesUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := newHarness(t, &fakeRefresher{token: "new"})
	require.NoError(t, h.store.Set("abc"))

	_, err := h.client.Get(url + "/api/user/me")
	require.Error(t, err)
	assert.Zero(t, h.refresher.calls.Load())

	stored, err := h.store.Get()
	require.NoError(t, err)
	assert.Equal(t, "abc", stored, "network failures do not touch the session")
	assert.Zero(t, h.expired.Load())
}

func TestRoundTrip_ReplaysBodyAndKeepsRequestID(t *testing.T) {
	srv := newTokenServer(t, "new")
	h := newHarness(t, &fakeRefresher{token: "new"})
	require.NoError(t, h.store.Set("old"))

	resp, err := h.client.Post(srv.URL+"/api/path/generate", "application/json", strings.NewReader(`{"careerGoal":"SRE"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	bodies, ids := srv.recorded()
	assert.Equal(t, []string{`{"careerGoal":"SRE"}`, `{"careerGoal":"SRE"}`}, bodies)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
}

type onceReader struct{ r io.Reader }

func (o *onceReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestRoundTrip_UnreplayableBodyIsNotRetried(t *testing.T) {
	srv := newTokenServer(t, "new")
	h := newHarness(t, &fakeRefresher{token: "new"})
	require.NoError(t, h.store.Set("old"))

	req, err := http.NewRequest(http.MethodPost, srv.URL, &onceReader{strings.NewReader("stream")})
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.refresher.calls.Load())
}

func TestRoundTrip_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8

	var rejected atomic.Int32
	allRejected := make(chan struct{})
	srv := newTokenServer(t, "new")
	srv.mu.Lock()
	srv.onReject = func() {
		if rejected.Add(1) == n {
			close(allRejected)
		}
	}
	srv.mu.Unlock()

	refresher := &fakeRefresher{token: "new", gate: func() {
		select {
		case <-allRejected:
		case <-time.After(2 * time.Second):
		}
	}}
	h := newHarness(t, refresher)
	require.NoError(t, h.store.Set("old"))

	var wg sync.WaitGroup
	statuses := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.client.Get(srv.URL + "/api/user/me")
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestRoundTrip_RefreshOutlivesCallerCancellation(t *testing.T) {
	srv := newTokenServer(t, "new")
	ctx, cancel := context.WithCancel(context.Background())

	var seenCtxErr error
	refresher := &fakeRefresher{token: "new"}
	h := newHarness(t, refresher)
	refresher.gate = func() {
		cancel()
		seenCtxErr = ctx.Err()
	}
	require.NoError(t, h.store.Set("old"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, _ = h.client.Do(req)

	assert.ErrorIs(t, seenCtxErr, context.Canceled)
	stored, err := h.store.Get()
	require.NoError(t, err)
	assert.Equal(t, "new", stored, "a canceled caller must not end the session")
	assert.Zero(t, h.expired.Load())
}

func TestRoundTrip_FailedRefreshKeepsCredentialStoredMeanwhile(t *testing.T) {
	srv := newTokenServer(t, "fresh")
	refresher := &fakeRefresher{err: errors.New("refresh rejected (status 401)")}
	h := newHarness(t, refresher)
	refresher.gate = func() {
		// a login lands while the exchange is in flight
		require.NoError(t, h.store.Set("fresh"))
	}
	require.NoError(t, h.store.Set("stale"))

	resp, err := h.client.Get(srv.URL + "/api/user/me")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, srv.headers())
	stored, err := h.store.Get()
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored)
	assert.Zero(t, h.expired.Load())
}

func TestRoundTrip_RefreshDoesNotOverwriteNewerCredential(t *testing.T) {
	srv := newTokenServer(t, "fresh", "refreshed")
	refresher := &fakeRefresher{token: "refreshed"}
	h := newHarness(t, refresher)
	refresher.gate = func() {
		require.NoError(t, h.store.Set("fresh"))
	}
	require.NoError(t, h.store.Set("stale"))

	resp, err := h.client.Get(srv.URL + "/api/user/me")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	stored, err := h.store.Get()
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored)
}

// brokenStore fails every read
type brokenStore struct{ credential.MemoryStore }

func (b *brokenStore) Get() (string, error) { return "", errors.New("keyring locked") }

type closeTracker struct {
	io.Reader
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return nil
}

func TestRoundTrip_ClosesBodyWhenRequestCannotBePrepared(t *testing.T) {
	tr := New(Options{Store: &brokenStore{}, Logger: zerolog.Nop()})
	body := &closeTracker{Reader: strings.NewReader(`{}`)}

	req, err := http.NewRequest(http.MethodPost, "http://127.0.0.1:1/api/auth/login", body)
	require.NoError(t, err)

	resp, err := tr.RoundTrip(req)
	assert.Nil(t, resp)
	assert.ErrorContains(t, err, "keyring locked")
	assert.True(t, body.closed.Load())
}
