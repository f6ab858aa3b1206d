package storage

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// StateBucket holds the small key/value entries that live outside any vault
// file: current vault path, recent vault list, settings and, when the OS
// keyring is not used, the session token.
var StateBucket = []byte("state")

// State keys
const (
	KeyCurrentVaultPath = "currentVaultPath"
	KeySessionToken     = "sessionToken"
	KeyRecentVaults     = "recentVaults"
	KeySettings         = "settings"
)

// StateStore is a bbolt-backed key/value store for local application state
type StateStore struct {
	db *bolt.DB
}

// OpenState opens or creates the local state database at path
func OpenState(path string) (*StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, FilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(StateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state bucket: %w", err)
	}

	return &StateStore{db: db}, nil
}

// Close closes the state database
func (s *StateStore) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key and whether it exists
func (s *StateStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(StateBucket).Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, value != nil, err
}

// Put stores value under key
func (s *StateStore) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(StateBucket).Put([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *StateStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(StateBucket).Delete([]byte(key))
	})
}

// LoadToken returns the persisted session token and whether one exists.
func (s *StateStore) LoadToken() (string, bool, error) {
	v, ok, err := s.Get(KeySessionToken)
	if err != nil || !ok || len(v) == 0 {
		return "", false, err
	}
	return string(v), true, nil
}

// SaveToken persists the session token.
func (s *StateStore) SaveToken(token string) error {
	return s.Put(KeySessionToken, []byte(token))
}

// DeleteToken removes the persisted session token.
func (s *StateStore) DeleteToken() error {
	return s.Delete(KeySessionToken)
}

// KV is the key/value surface other packages need from the state store.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

var _ KV = (*StateStore)(nil)
