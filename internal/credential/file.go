package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileContents is the on-disk layout of ~/.config/pathforge/credentials.yaml
type fileContents struct {
	Origins map[string]map[string]string `yaml:"origins"`
}

// FileStore persists the credential in a YAML file shared by all origins
type FileStore struct {
	path   string
	origin string
	mu     sync.Mutex
}

func NewFileStore(path, origin string) *FileStore {
	return &FileStore{path: path, origin: origin}
}

func (f *FileStore) Get() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return "", err
	}

	token := contents.Origins[f.origin][Key]
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

func (f *FileStore) Set(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return err
	}

	if contents.Origins[f.origin] == nil {
		contents.Origins[f.origin] = map[string]string{}
	}
	contents.Origins[f.origin][Key] = token

	return f.save(contents)
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.load()
	if err != nil {
		return err
	}

	if _, ok := contents.Origins[f.origin]; !ok {
		return nil
	}
	delete(contents.Origins, f.origin)

	return f.save(contents)
}

// load reads the file; a missing file is an empty store
func (f *FileStore) load() (*fileContents, error) {
	contents := &fileContents{}

	data, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, contents); err != nil {
			return nil, fmt.Errorf("failed to parse credential file: %w", err)
		}
	}

	if contents.Origins == nil {
		contents.Origins = map[string]map[string]string{}
	}
	return contents, nil
}

// save writes to a temp file and renames it over the old one
func (f *FileStore) save(contents *fileContents) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	data, err := yaml.Marshal(contents)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}
