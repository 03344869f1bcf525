// Package views is the local view server started by `pathforge serve`. It
// plays the part of the browser application: public entry views, the OAuth
// callback and a guarded dashboard, all backed by one session.
package views

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pathforge/pathforge/internal/app"
	"github.com/pathforge/pathforge/internal/session"
)

const shutdownTimeout = 30 * time.Second

// Server represents the view server
type Server struct {
	router  *gin.Engine
	app     *app.App
	logger  zerolog.Logger
	version string
}

// New creates a new view server for a
func New(a *app.App, zlog zerolog.Logger, version string) *Server {
	s := &Server{
		app:     a,
		logger:  zlog.With().Str("component", "views").Logger(),
		version: version,
	}
	s.setupRouter()
	return s
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// The backend redirects here after OAuth and may call back with credentials
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.app.Config().Views.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.app.Metrics.Handler()))

	routes := s.app.Config().Routes

	// Public views
	s.router.GET("/", s.index)
	s.router.GET(routes.EntryPath, s.loginView)
	s.router.POST(routes.EntryPath, s.login)
	s.router.GET(routes.EntryPath+"/:provider", s.providerRedirect)
	s.router.GET("/signup", s.signupView)
	s.router.POST("/signup", s.signup)
	s.router.POST("/logout", s.logout)
	s.router.GET("/auth/success", s.authSuccess)
	s.router.GET("/auth/error", s.authError)

	// Protected views
	s.router.GET(routes.HomePath, s.app.Guard.Middleware(), s.dashboard)
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "pathforge-views",
		"version":   s.version,
		"session":   s.app.Session.Snapshot().Status.String(),
	})
}

// Start mounts the session, serves on addr and shuts down gracefully when ctx
// ends. A non-empty revalidate schedule keeps the session fresh meanwhile.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.app.Mount(ctx)

	if schedule := s.app.Config().Views.RevalidateSchedule; schedule != "" {
		keepalive, err := session.StartKeepalive(s.app.Session, schedule, s.logger)
		if err != nil {
			return err
		}
		defer keepalive.Stop()
		s.logger.Info().Str("schedule", schedule).Msg("Session keepalive started")
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting view server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error().Err(err).Msg("View server error")
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down view server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down view server")
		return err
	}

	s.logger.Info().Msg("View server shutdown complete")
	return nil
}
