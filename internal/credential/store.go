// Package credential holds the current access credential for one API origin.
//
// A Store is a dumb cell: it never inspects or validates the credential. Only
// the login, refresh and logout flows (and a failed session resolution) write
// to it; everything else reads.
package credential

import (
	"errors"
	"fmt"

	"github.com/pathforge/pathforge/internal/config"
)

// Key is the single persisted key holding the access credential.
const Key = "access_token"

// ErrNoCredential is returned by Get when nothing is stored.
var ErrNoCredential = errors.New("no credential stored")

// Store defines the credential cell contract. Implementations must be safe for
// concurrent use and Clear must be idempotent.
type Store interface {
	Get() (string, error)
	Set(token string) error
	Clear() error
}

// Current returns the stored credential or "" when absent. Backend failures are
// returned as errors.
func Current(s Store) (string, error) {
	token, err := s.Get()
	if errors.Is(err, ErrNoCredential) {
		return "", nil
	}
	return token, err
}

// Open builds the store selected by cfg for the given origin
func Open(cfg config.CredentialConfig, origin string) (Store, error) {
	switch cfg.Backend {
	case config.StoreKeyring:
		return NewKeyringStore(origin), nil
	case config.StoreFile:
		return NewFileStore(cfg.Path, origin), nil
	case config.StoreSQLite:
		return OpenSQLiteStore(cfg.Path, origin)
	case config.StoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported credential store %q", cfg.Backend)
	}
}
