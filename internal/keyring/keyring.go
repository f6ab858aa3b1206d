// Package keyring persists the session token in the OS keyring.
package keyring

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const (
	ServiceName = "vaultguard"
	TokenUser   = "sessionToken"
)

// TokenStore keeps the session token of one data directory in the keyring
type TokenStore struct {
	service string
	user    string
}

// NewTokenStore returns a store whose entry is private to dataDir, so
// profiles with different data directories never share a token.
func NewTokenStore(dataDir string) *TokenStore {
	return &TokenStore{service: ServiceName, user: EntryName(dataDir)}
}

// EntryName is the keyring user name holding the token for dataDir.
func EntryName(dataDir string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(dataDir)))
	return TokenUser + "-" + hex.EncodeToString(sum[:6])
}

// LoadToken retrieves the token from the OS keyring
func (s *TokenStore) LoadToken() (string, bool, error) {
	token, err := keyring.Get(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, token != "", nil
}

// SaveToken stores the token in the OS keyring
func (s *TokenStore) SaveToken(token string) error {
	return keyring.Set(s.service, s.user, token)
}

// DeleteToken removes the token from the OS keyring
func (s *TokenStore) DeleteToken() error {
	err := keyring.Delete(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// Available reports whether the OS keyring can be reached
func Available() bool {
	_, err := keyring.Get(ServiceName, TokenUser)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
