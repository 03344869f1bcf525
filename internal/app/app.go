// Package app wires the session subsystem together and implements the user
// flows (login, signup, logout, OAuth callback) on top of it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/pathforge/pathforge/internal/api"
	"github.com/pathforge/pathforge/internal/config"
	"github.com/pathforge/pathforge/internal/credential"
	"github.com/pathforge/pathforge/internal/guard"
	"github.com/pathforge/pathforge/internal/metrics"
	"github.com/pathforge/pathforge/internal/nav"
	"github.com/pathforge/pathforge/internal/session"
	"github.com/pathforge/pathforge/internal/transport"
)

// OAuth providers offered at the entry point
var Providers = []string{"google", "github"}

var (
	ErrMissingToken    = errors.New("authentication callback carried no token")
	ErrUnknownProvider = errors.New("unknown OAuth provider")
)

// Options overrides parts of the default wiring
type Options struct {
	// Store replaces the backend selected by config
	Store credential.Store
	// Base is the network transport under the session pipeline
	Base    http.RoundTripper
	Metrics *metrics.Metrics
}

// App is one running client: a credential store, the session pipeline and the
// session state derived from them.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	Store   credential.Store
	Jar     http.CookieJar
	HTTP    *http.Client
	API     *api.Client
	Session *session.Holder
	Router  *nav.Router
	Guard   *guard.Guard
	Metrics *metrics.Metrics
}

// New builds an App. The session starts Unresolved; call Mount to resolve it.
func New(cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	store := opts.Store
	if store == nil {
		var err error
		store, err = credential.Open(cfg.Credential, cfg.API.Origin())
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		Store:   store,
		Jar:     jar,
		Router:  nav.NewRouter(cfg.Routes.EntryPath),
		Metrics: m,
	}

	// The refresh exchange shares the cookie jar but not the pipeline
	refresher := api.New(cfg.API.BaseURL, &http.Client{
		Transport: base,
		Jar:       jar,
		Timeout:   cfg.API.RequestTimeout,
	})

	a.HTTP = &http.Client{
		Transport: transport.New(transport.Options{
			Base:             base,
			Store:            store,
			Refresher:        refresher,
			Jar:              jar,
			OnSessionExpired: a.sessionExpired,
			Logger:           log,
			Metrics:          m,
		}),
		Jar:     jar,
		Timeout: cfg.API.RequestTimeout,
	}
	a.API = api.New(cfg.API.BaseURL, a.HTTP)
	a.Session = session.NewHolder(store, a.API, log, m)
	a.Guard = guard.New(a.Session, cfg.Routes.EntryPath)

	return a, nil
}

// Config returns the configuration the app was built with
func (a *App) Config() *config.Config {
	return a.cfg
}

// Close releases the credential store
func (a *App) Close() error {
	a.Session.Wait()
	if c, ok := a.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *App) sessionExpired() {
	// a login stored a new credential while the refresh was failing
	if !a.Session.Expire() {
		return
	}
	a.Router.Navigate(a.cfg.Routes.EntryPath)
}

// Mount resolves the session once at startup
func (a *App) Mount(ctx context.Context) session.Snapshot {
	snap := a.Session.Resolve(ctx)
	a.log.Debug().Str("status", snap.Status.String()).Msg("Session mounted")
	return snap
}

// Login exchanges email and password for a credential and starts a session
func (a *App) Login(ctx context.Context, email, password string) (session.Snapshot, error) {
	token, err := a.API.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return a.Session.Snapshot(), err
	}
	return a.begin(ctx, token)
}

// Signup creates an account and sends the user to the entry point to log in
func (a *App) Signup(ctx context.Context, name, email, password string) error {
	if err := a.API.Signup(ctx, api.SignupRequest{Name: name, Email: email, Password: password}); err != nil {
		return err
	}
	a.Router.Navigate(a.cfg.Routes.EntryPath)
	return nil
}

// Logout ends the session locally even when the backend call fails
func (a *App) Logout(ctx context.Context) error {
	if err := a.API.Logout(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Logout request failed, clearing local session anyway")
	}

	if err := a.Store.Clear(); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	a.Session.Reset()
	a.Session.Resolve(ctx)
	a.Router.Navigate(a.cfg.Routes.EntryPath)
	return nil
}

// CompleteOAuth handles the provider callback carrying token
func (a *App) CompleteOAuth(ctx context.Context, token string) (session.Snapshot, error) {
	if token == "" {
		a.Router.Navigate(a.cfg.Routes.EntryPath)
		return a.Session.Snapshot(), ErrMissingToken
	}
	return a.begin(ctx, token)
}

// begin stores a freshly issued credential, resolves the session it grants and
// navigates to the protected area, or to the entry point when it grants none.
func (a *App) begin(ctx context.Context, token string) (session.Snapshot, error) {
	if err := a.Store.Set(token); err != nil {
		return a.Session.Snapshot(), fmt.Errorf("failed to store credential: %w", err)
	}

	a.Session.Reset()
	snap := a.Session.Resolve(ctx)
	if err := ctx.Err(); err != nil {
		return snap, err
	}
	if snap.Status != session.Authenticated {
		a.Router.Navigate(a.cfg.Routes.EntryPath)
		return snap, fmt.Errorf("%w: credential was not accepted", api.ErrUnauthenticated)
	}

	a.log.Info().Str("user", snap.User.Name()).Msg("Signed in")
	a.Router.Navigate(a.cfg.Routes.HomePath)
	return snap, nil
}

// ProviderURL returns the backend authorization endpoint for provider
func (a *App) ProviderURL(provider string) (string, error) {
	for _, p := range Providers {
		if p == provider {
			return a.cfg.API.BaseURL + "/oauth2/authorization/" + provider, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}
