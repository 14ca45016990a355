package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const (
	serviceName = "assetdash"

	// TokenKey is the keyring entry holding the dashboard API token.
	TokenKey = "api-token"

	// TokenEnv overrides the stored token when set.
	TokenEnv = "ASSETDASH_TOKEN"
)

// ErrNoToken is returned when neither the environment nor the keyring hold
// an API token.
var ErrNoToken = errors.New("no API token configured")

// Store reads and writes secrets by key.
type Store struct {
	open func() (keyring.Keyring, error)
}

// NewStore returns a Store backed by the system keyring, falling back to
// an encrypted file under ~/.config/assetdash/credentials.
func NewStore() *Store {
	return &Store{open: openKeyring}
}

// NewStoreWithKeyring returns a Store over an existing keyring.
func NewStoreWithKeyring(ring keyring.Keyring) *Store {
	return &Store{open: func() (keyring.Keyring, error) { return ring, nil }}
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/assetdash/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("assetdash-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key, value string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       "Asset dashboard API token",
		Description: serviceName,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key. Removing a missing key is not an
// error.
func (s *Store) Delete(key string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Token returns the API token, preferring the environment over the
// keyring.
func (s *Store) Token() (string, error) {
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		return tok, nil
	}
	tok, err := s.Get(TokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	return tok, nil
}

// TokenSource adapts Token for callers that resolve the token lazily on
// every request. A missing token yields an empty string so unauthenticated
// servers keep working.
func (s *Store) TokenSource() func() (string, error) {
	return func() (string, error) {
		tok, err := s.Token()
		if errors.Is(err, ErrNoToken) {
			return "", nil
		}
		return tok, err
	}
}
