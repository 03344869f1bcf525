package credential

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	service = "pathforge"
)

// KeyringStore persists the credential in the OS keychain/credential manager
type KeyringStore struct {
	origin string
}

func NewKeyringStore(origin string) *KeyringStore {
	return &KeyringStore{origin: origin}
}

// key returns a unique keyring key for the origin
func (k *KeyringStore) key() string {
	return fmt.Sprintf("%s@%s", Key, k.origin)
}

func (k *KeyringStore) Get() (string, error) {
	token, err := keyring.Get(service, k.key())
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

func (k *KeyringStore) Set(token string) error {
	if err := keyring.Set(service, k.key(), token); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (k *KeyringStore) Clear() error {
	if err := keyring.Delete(service, k.key()); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
