package commands

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/pathforge/pathforge/internal/api"
	"github.com/pathforge/pathforge/internal/app"
	"github.com/pathforge/pathforge/internal/config"
	"github.com/pathforge/pathforge/internal/logger"
)

// AppFactory builds the App a command runs against
type AppFactory func() (*app.App, error)

// DefaultApp loads configuration from the environment and opens the
// configured credential store.
func DefaultApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return app.New(cfg, log, app.Options{})
}

// withApp builds an App, runs fn and releases the App's resources
func withApp(newApp AppFactory, fn func(a *app.App) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

// requireSession mounts the session and waits for the guard's verdict, the
// same way a protected view would.
func requireSession(ctx context.Context, a *app.App) (api.UserProfile, error) {
	a.Mount(ctx)

	user, err := a.Guard.Require(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w\nRun 'pathforge login' first", err)
	}
	return user, nil
}

// envOr returns value, or the named environment variable when value is empty
func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

// readPassword prompts on the terminal. It fails in non-interactive mode.
func readPassword(prompt, hint string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (%s)", hint)
	}

	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}
