package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Credential store backends
const (
	StoreKeyring = "keyring"
	StoreFile    = "file"
	StoreSQLite  = "sqlite"
	StoreMemory  = "memory"
)

// Config holds all configuration for the session client
type Config struct {
	// API Configuration
	API APIConfig

	// Credential storage
	Credential CredentialConfig

	// Navigation targets
	Routes RoutesConfig

	// Local view server
	Views ViewsConfig

	// Logging Configuration
	Logging LoggingConfig
}

// APIConfig describes the backend the client talks to
type APIConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Origin returns scheme://host of the API base URL. Credentials are scoped to it.
func (a APIConfig) Origin() string {
	u, err := url.Parse(a.BaseURL)
	if err != nil || u.Host == "" {
		return a.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// CredentialConfig selects where the access credential lives
type CredentialConfig struct {
	Backend string // keyring, file, sqlite, memory
	Path    string // file or sqlite location
}

// RoutesConfig holds the entry point and the protected landing view
type RoutesConfig struct {
	EntryPath string
	HomePath  string
}

// ViewsConfig holds settings for `pathforge serve`
type ViewsConfig struct {
	Addr               string
	AllowedOrigins     []string
	RevalidateSchedule string // cron spec, empty = no periodic re-resolution
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	baseURL := strings.TrimRight(getEnv("PATHFORGE_API_URL", "http://localhost:5050"), "/")
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid PATHFORGE_API_URL %q", baseURL)
	}

	timeout, err := time.ParseDuration(getEnv("PATHFORGE_REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PATHFORGE_REQUEST_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("PATHFORGE_REQUEST_TIMEOUT must be positive")
	}

	backend := strings.ToLower(getEnv("PATHFORGE_CREDENTIAL_STORE", StoreKeyring))
	switch backend {
	case StoreKeyring, StoreFile, StoreSQLite, StoreMemory:
	default:
		return nil, fmt.Errorf("unsupported PATHFORGE_CREDENTIAL_STORE %q (want keyring, file, sqlite or memory)", backend)
	}

	credPath := os.Getenv("PATHFORGE_CREDENTIAL_PATH")
	if credPath == "" && (backend == StoreFile || backend == StoreSQLite) {
		credPath, err = defaultCredentialPath(backend)
		if err != nil {
			return nil, err
		}
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("PATHFORGE_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:        baseURL,
			RequestTimeout: timeout,
		},
		Credential: CredentialConfig{
			Backend: backend,
			Path:    credPath,
		},
		Routes: RoutesConfig{
			EntryPath: getEnv("PATHFORGE_ENTRY_PATH", "/login"),
			HomePath:  getEnv("PATHFORGE_HOME_PATH", "/dashboard"),
		},
		Views: ViewsConfig{
			Addr:               getEnv("PATHFORGE_VIEW_ADDR", "127.0.0.1:5173"),
			AllowedOrigins:     origins,
			RevalidateSchedule: os.Getenv("PATHFORGE_REVALIDATE_SCHEDULE"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}

	// The backend origin is always allowed to call the local views
	if len(cfg.Views.AllowedOrigins) == 0 {
		cfg.Views.AllowedOrigins = []string{cfg.API.Origin()}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultCredentialPath returns ~/.config/pathforge/credentials.{yaml,db}
func defaultCredentialPath(backend string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	name := "credentials.yaml"
	if backend == StoreSQLite {
		name = "storage.db"
	}
	return filepath.Join(homeDir, ".config", "pathforge", name), nil
}
