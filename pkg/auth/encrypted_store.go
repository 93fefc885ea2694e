package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore stores cookie sets in an AES-GCM encrypted file.
// The key is derived from a passphrase with PBKDF2; the passphrase comes
// from DOUGET_VAULT_KEY or falls back to a machine-local default.
type EncryptedFileStore struct {
	path string
	mu   sync.RWMutex
}

type encryptedData struct {
	Salt      []byte `json:"salt"`
	Encrypted []byte `json:"encrypted"`
}

type vaultContents struct {
	Sets map[string]*CookieSet `json:"sets"`
}

// NewEncryptedFileStore creates an encrypted file store at path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &EncryptedFileStore{path: path}, nil
}

// Store saves a cookie set into the encrypted file
func (e *EncryptedFileStore) Store(set *CookieSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	contents, err := e.load()
	if err != nil {
		return err
	}

	contents.Sets[set.Name] = set
	return e.save(contents)
}

// Retrieve gets a cookie set from the encrypted file
func (e *EncryptedFileStore) Retrieve(name string) (*CookieSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	contents, err := e.load()
	if err != nil {
		return nil, err
	}

	set, ok := contents.Sets[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return set, nil
}

// List returns all cookie sets in the encrypted file
func (e *EncryptedFileStore) List() ([]*CookieSet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	contents, err := e.load()
	if err != nil {
		return nil, err
	}

	sets := make([]*CookieSet, 0, len(contents.Sets))
	for _, set := range contents.Sets {
		sets = append(sets, set)
	}
	return sets, nil
}

// Delete removes a cookie set from the encrypted file
func (e *EncryptedFileStore) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	contents, err := e.load()
	if err != nil {
		return err
	}

	if _, ok := contents.Sets[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(contents.Sets, name)
	return e.save(contents)
}

// Exists checks whether the encrypted file has a cookie set by name
func (e *EncryptedFileStore) Exists(name string) bool {
	set, err := e.Retrieve(name)
	return err == nil && set != nil
}

func (e *EncryptedFileStore) load() (*vaultContents, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &vaultContents{Sets: make(map[string]*CookieSet)}, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	var envelope encryptedData
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}

	plaintext, err := decrypt(envelope.Encrypted, envelope.Salt, getPassphrase())
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt store: %w", err)
	}

	var contents vaultContents
	if err := json.Unmarshal(plaintext, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse store contents: %w", err)
	}
	if contents.Sets == nil {
		contents.Sets = make(map[string]*CookieSet)
	}
	return &contents, nil
}

func (e *EncryptedFileStore) save(contents *vaultContents) error {
	plaintext, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("failed to marshal store contents: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	encrypted, err := encrypt(plaintext, salt, getPassphrase())
	if err != nil {
		return fmt.Errorf("failed to encrypt store: %w", err)
	}

	data, err := json.Marshal(encryptedData{Salt: salt, Encrypted: encrypted})
	if err != nil {
		return fmt.Errorf("failed to marshal store file: %w", err)
	}

	tmpPath := e.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

func encrypt(plaintext, salt []byte, passphrase string) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, salt []byte, passphrase string) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// getPassphrase returns the vault passphrase. The machine-local default
// only protects against casual file reads, not a determined attacker
// with access to the same account.
func getPassphrase() string {
	if key := os.Getenv("DOUGET_VAULT_KEY"); key != "" {
		return key
	}
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	return "douget-local-" + hostname + "-" + home
}
