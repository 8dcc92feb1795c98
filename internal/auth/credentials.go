// Package auth handles the bearer credential and the small key/value state
// the client persists locally (dismissal flags, cached identity).
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known state keys.
const (
	KeyCredential      = "credential"
	KeyDismissedBanner = "dismissed_disconnect_banner"
)

// Store is a file-backed map of opaque string keys to string values. It
// stands in for the browser localStorage the origin system used.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// Open loads the state file at path, creating an empty store when the file
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return s, nil
}

// Get returns the value for key, or "" when absent.
func (s *Store) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Set stores and persists a value.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flush()
}

// Delete removes a key and persists the change. No-op when absent.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flush()
}

// Credential returns the stored bearer credential, or "".
func (s *Store) Credential() string {
	return s.Get(KeyCredential)
}

// SetCredential stores the bearer credential.
func (s *Store) SetCredential(token string) error {
	return s.Set(KeyCredential, token)
}

// ClearCredential drops the bearer credential.
func (s *Store) ClearCredential() error {
	return s.Delete(KeyCredential)
}

// flush writes the state file. Caller holds s.mu.
func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}
