// Package auth stores and retrieves the cookie credentials the engine
// presents to the platform. Storage is chained: system keychain, then
// an encrypted file, then environment variables.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrInvalidCredentials marks a malformed cookie set
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCredentialsNotFound marks a missing cookie set
	ErrCredentialsNotFound = errors.New("credentials not found")
	// ErrStoreUnavailable marks a store that cannot perform the operation
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// CookieSet is one named cookie credential blob
type CookieSet struct {
	Name         string    `json:"name"`
	Cookie       string    `json:"cookie"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving cookie sets
type CredentialStore interface {
	Store(set *CookieSet) error
	Retrieve(name string) (*CookieSet, error)
	List() ([]*CookieSet, error)
	Delete(name string) error
	Exists(name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager with the available backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "cookies.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Environment as last resort
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// Store saves a cookie set using the first store that accepts it
func (m *Manager) Store(set *CookieSet) error {
	if set == nil || set.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCredentials)
	}
	if set.Cookie == "" {
		return fmt.Errorf("%w: cookie is required", ErrInvalidCredentials)
	}

	set.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(set); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets a cookie set from the first store that has it
func (m *Manager) Retrieve(name string) (*CookieSet, error) {
	for _, store := range m.stores {
		if set, err := store.Retrieve(name); err == nil && set != nil {
			return set, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// RetrieveDefault gets the default cookie set: environment first, then
// the single stored set if there is exactly one
func (m *Manager) RetrieveDefault() (*CookieSet, error) {
	if envStore, ok := m.stores[len(m.stores)-1].(*EnvironmentStore); ok {
		if set, err := envStore.Retrieve(""); err == nil && set != nil {
			return set, nil
		}
	}

	if set, err := m.Retrieve("default"); err == nil {
		return set, nil
	}

	sets, err := m.List()
	if err == nil && len(sets) == 1 {
		return sets[0], nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns all stored cookie sets across stores, first store wins
func (m *Manager) List() ([]*CookieSet, error) {
	seen := make(map[string]bool)
	var all []*CookieSet

	for _, store := range m.stores {
		sets, err := store.List()
		if err != nil {
			continue
		}
		for _, set := range sets {
			if seen[set.Name] {
				continue
			}
			seen[set.Name] = true
			all = append(all, set)
		}
	}

	return all, nil
}

// Delete removes a cookie set from every store that has it
func (m *Manager) Delete(name string) error {
	deleted := false
	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
	}
	return nil
}

// getConfigDir returns the directory holding the encrypted store
func getConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "douget"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "douget"), nil
}
