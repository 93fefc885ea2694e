package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "douget"
	keyringPrefix  = "douget-cookie-"
	keyringIndex   = "douget-cookie-index"
)

// KeyringStore stores cookie sets in the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring store, probing that the keychain
// actually works on this system
func NewKeyringStore() (*KeyringStore, error) {
	testKey := keyringPrefix + "availability-test"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("%w: keyring not available: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, testKey)
	return &KeyringStore{}, nil
}

// Store saves a cookie set to the keyring
func (k *KeyringStore) Store(set *CookieSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal cookie set: %w", err)
	}

	if err := keyring.Set(keyringService, keyringPrefix+set.Name, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return k.addToIndex(set.Name)
}

// Retrieve gets a cookie set from the keyring
func (k *KeyringStore) Retrieve(name string) (*CookieSet, error) {
	data, err := keyring.Get(keyringService, keyringPrefix+name)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var set CookieSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cookie set: %w", err)
	}
	return &set, nil
}

// List returns all cookie sets recorded in the keyring index
func (k *KeyringStore) List() ([]*CookieSet, error) {
	names, err := k.readIndex()
	if err != nil {
		return nil, nil
	}

	var sets []*CookieSet
	for _, name := range names {
		if set, err := k.Retrieve(name); err == nil {
			sets = append(sets, set)
		}
	}
	return sets, nil
}

// Delete removes a cookie set from the keyring
func (k *KeyringStore) Delete(name string) error {
	if err := keyring.Delete(keyringService, keyringPrefix+name); err != nil {
		if err == keyring.ErrNotFound {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	k.removeFromIndex(name)
	return nil
}

// Exists checks whether the keyring has a cookie set by name
func (k *KeyringStore) Exists(name string) bool {
	_, err := keyring.Get(keyringService, keyringPrefix+name)
	return err == nil
}

// The keyring has no enumeration API, so names are tracked in a
// separate comma-joined index entry.

func (k *KeyringStore) readIndex() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		return nil, err
	}
	if data == "" {
		return nil, nil
	}
	return strings.Split(data, ","), nil
}

func (k *KeyringStore) addToIndex(name string) error {
	names, _ := k.readIndex()
	for _, existing := range names {
		if existing == name {
			return nil
		}
	}
	names = append(names, name)
	return keyring.Set(keyringService, keyringIndex, strings.Join(names, ","))
}

func (k *KeyringStore) removeFromIndex(name string) {
	names, err := k.readIndex()
	if err != nil {
		return
	}
	kept := names[:0]
	for _, existing := range names {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	_ = keyring.Set(keyringService, keyringIndex, strings.Join(kept, ","))
}
