// Package transport wraps outbound HTTP so callers never attach credentials or
// handle credential expiry themselves.
//
// Request phase: the current credential, if any, is sent as a bearer token.
// Response phase: a 401 on the first attempt triggers one refresh exchange and
// one re-dispatch. The attempt counter lives in RoundTrip itself, so a request
// that still fails after refreshing can never loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pathforge/pathforge/internal/credential"
	"github.com/pathforge/pathforge/internal/metrics"
)

const (
	bearerPrefix = "Bearer "

	// RequestIDHeader carries one ULID per logical request, shared by its retry
	RequestIDHeader = "X-Request-ID"

	maxAttempts = 2
)

var ErrEmptyCredential = errors.New("refresh returned an empty credential")

// Refresher performs the refresh exchange and returns the new access credential.
// It must not go through a Transport: the exchange is credential-less.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Options configures a Transport
type Options struct {
	// Base sends the actual requests. Defaults to http.DefaultTransport.
	Base http.RoundTripper
	// Store is read on every request and written by the refresh flow.
	Store credential.Store
	// Refresher is called when a request comes back 401.
	Refresher Refresher
	// Jar, when set, is re-read before a retry so a rotated session cookie is sent.
	Jar http.CookieJar
	// OnSessionExpired is the navigation command issued after a failed refresh.
	OnSessionExpired func()
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
}

// Transport is an http.RoundTripper implementing the session pipeline
type Transport struct {
	base      http.RoundTripper
	store     credential.Store
	refresher Refresher
	jar       http.CookieJar
	onExpired func()
	log       zerolog.Logger
	metrics   *metrics.Metrics

	refreshes singleflight.Group
}

// New creates a Transport
func New(opts Options) *Transport {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{
		base:      base,
		store:     opts.Store,
		refresher: opts.Refresher,
		jar:       opts.Jar,
		onExpired: opts.OnSessionExpired,
		log:       opts.Logger.With().Str("component", "transport").Logger(),
		metrics:   opts.Metrics,
	}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, sentWith, err := t.prepare(req, requestID, attempt)
		if err != nil {
			// RoundTrip owns the request body even when it fails
			if req.Body != nil {
				req.Body.Close()
			}
			return nil, err
		}

		resp, err := t.base.RoundTrip(out)
		if err != nil {
			t.reportFailure(out, requestID, err)
			return nil, err
		}

		if resp.StatusCode != http.StatusUnauthorized || attempt+1 == maxAttempts {
			return resp, nil
		}

		if !replayable(req) {
			t.log.Debug().
				Str("request_id", requestID).
				Str("path", req.URL.Path).
				Msg("Request body cannot be replayed, skipping refresh")
			return resp, nil
		}

		if !t.renew(req.Context(), sentWith, requestID) {
			return resp, nil
		}

		// The 401 is superseded by the retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		t.metrics.Retry()
		t.log.Debug().
			Str("request_id", requestID).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Msg("Retrying request with refreshed credential")
	}

	// unreachable: the last attempt always returns above
	return nil, fmt.Errorf("request %s exhausted %d attempts", requestID, maxAttempts)
}

// prepare clones req for the given attempt and attaches the current credential.
// It returns the credential it attached ("" when dispatched unauthenticated).
func (t *Transport) prepare(req *http.Request, requestID string, attempt int) (*http.Request, string, error) {
	out := req.Clone(req.Context())
	out.Header.Set(RequestIDHeader, requestID)

	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, "", fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}

	if attempt > 0 && t.jar != nil {
		out.Header.Del("Cookie")
		for _, c := range t.jar.Cookies(out.URL) {
			out.AddCookie(c)
		}
	}

	token, err := credential.Current(t.store)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read credential: %w", err)
	}
	if token != "" {
		out.Header.Set("Authorization", bearerPrefix+token)
	}

	return out, token, nil
}

// reportFailure raises the backend-unreachable signal. The error itself is
// returned to the caller untouched.
func (t *Transport) reportFailure(req *http.Request, requestID string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	t.metrics.BackendUnreachable()
	t.log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Msg("Backend unreachable")
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
