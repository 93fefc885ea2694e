package auth

import (
	"os"
	"time"
)

// EnvironmentStore retrieves a cookie set from environment variables.
// It is read-only: Store and Delete report ErrStoreUnavailable.
type EnvironmentStore struct{}

// NewEnvironmentStore creates an environment-based store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(set *CookieSet) error {
	return ErrStoreUnavailable
}

// Retrieve builds a cookie set from DOUGET_COOKIE. The name argument is
// ignored; the environment holds at most one set.
func (e *EnvironmentStore) Retrieve(name string) (*CookieSet, error) {
	cookie := os.Getenv("DOUGET_COOKIE")
	if cookie == "" {
		return nil, ErrCredentialsNotFound
	}

	return &CookieSet{
		Name:         "environment",
		Cookie:       cookie,
		UserAgent:    os.Getenv("DOUGET_USER_AGENT"),
		LastModified: time.Now(),
	}, nil
}

// List returns the environment cookie set if present
func (e *EnvironmentStore) List() ([]*CookieSet, error) {
	set, err := e.Retrieve("")
	if err != nil {
		return nil, nil
	}
	return []*CookieSet{set}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks whether the environment provides a cookie
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv("DOUGET_COOKIE") != ""
}
