package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathforge/pathforge/internal/config"
	"github.com/pathforge/pathforge/internal/logger"
	"github.com/pathforge/pathforge/internal/testbackend"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	apiURL, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid API URL")
	}

	ttl := 15 * time.Minute
	if v := os.Getenv("MOCKBACKEND_ACCESS_TTL"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			log.Fatal().Err(err).Msg("Invalid MOCKBACKEND_ACCESS_TTL")
		}
	}

	views := "http://" + cfg.Views.Addr
	backend := testbackend.New(testbackend.Options{
		Secret:      []byte(os.Getenv("MOCKBACKEND_SECRET")),
		AccessTTL:   ttl,
		CallbackURL: views + "/auth/success",
		ErrorURL:    views + "/auth/error",
	})

	if email := os.Getenv("MOCKBACKEND_USER_EMAIL"); email != "" {
		if _, err := backend.AddUser("Demo User", email, os.Getenv("MOCKBACKEND_USER_PASSWORD")); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed user")
		}
		log.Info().Str("email", email).Msg("Seeded user")
	}

	srv := &http.Server{
		Addr:              apiURL.Host,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Dur("access_ttl", ttl).Msg("Starting mock backend")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Mock backend failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down mock backend")
	}
}
