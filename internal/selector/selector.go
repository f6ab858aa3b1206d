// Package selector decides which vault file is active and keeps the list of
// recently opened vaults.
package selector

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/illarion/vaultguard/internal/logging"
	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

// MaxRecent is the length of the recency list.
const MaxRecent = 5

const unknownVaultName = "Unknown Vault"

// VaultReference identifies a vault file by path.
type VaultReference struct {
	Path         string    `json:"path"`
	DisplayName  string    `json:"name"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// DisplayName derives the label shown for a vault path.
func DisplayName(path string) string {
	base := filepath.Base(path)
	switch base {
	case "", ".", string(filepath.Separator):
		return unknownVaultName
	}
	return base
}

// Backend is the part of vault.Backend the selector needs.
type Backend interface {
	IsVaultFileValid(ctx context.Context, path string) (bool, error)
	CreateNewVault(ctx context.Context, masterPassword []byte) (string, error)
}

// Selector resolves the active vault and maintains the recency list.
type Selector struct {
	backend Backend
	state   storage.KV
	clock   clockwork.Clock
	log     logging.Logger

	// mu serializes read-modify-write of the recency list.
	mu sync.Mutex
}

type Option func(*Selector)

func WithClock(c clockwork.Clock) Option {
	return func(s *Selector) { s.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Selector) { s.log = logging.OrNop(l) }
}

func New(backend Backend, state storage.KV, opts ...Option) *Selector {
	s := &Selector{
		backend: backend,
		state:   state,
		clock:   clockwork.NewRealClock(),
		log:     logging.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "selector")
	return s
}

// ListRecent returns the recency list, most recent first. It is read from
// storage on every call.
func (s *Selector) ListRecent(ctx context.Context) ([]VaultReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRecent(ctx)
}

// RecordAccess moves path to the front of the recency list, stamping it
// with the current time.
func (s *Selector) RecordAccess(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs, err := s.loadRecent(ctx)
	if err != nil {
		return err
	}

	refs = slices.DeleteFunc(refs, func(r VaultReference) bool { return r.Path == path })
	refs = append(refs, VaultReference{
		Path:         path,
		DisplayName:  DisplayName(path),
		LastAccessed: s.clock.Now(),
	})

	return s.saveRecent(normalize(refs))
}

// Forget drops path from the recency list.
func (s *Selector) Forget(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs, err := s.loadRecent(ctx)
	if err != nil {
		return err
	}
	return s.saveRecent(slices.DeleteFunc(refs, func(r VaultReference) bool { return r.Path == path }))
}

// SelectForOpen checks with the backend that path is a vault file. It does
// not open or decrypt it.
func (s *Selector) SelectForOpen(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", vault.NewError(vault.ErrInvalidVaultFile, "", nil)
	}

	ok, err := s.backend.IsVaultFileValid(ctx, path)
	if err != nil {
		return "", vault.Classify(vault.ErrInvalidVaultFile, err)
	}
	if !ok {
		return "", vault.NewError(vault.ErrInvalidVaultFile, "", nil)
	}

	return path, nil
}

// CreateNew has the backend create and encrypt a new vault file, then makes
// it current and records the access.
func (s *Selector) CreateNew(ctx context.Context, masterPassword []byte) (VaultReference, error) {
	path, err := s.backend.CreateNewVault(ctx, masterPassword)
	if err != nil {
		return VaultReference{}, vault.Classify(vault.ErrVaultCreationFailed, err)
	}
	if path == "" {
		return VaultReference{}, vault.NewError(vault.ErrVaultCreationFailed, "", nil)
	}

	if err := s.RecordAccess(ctx, path); err != nil {
		s.log.Warn(ctx, "failed to record vault access", "path", path, "err", err)
	}
	if err := s.SetCurrent(ctx, path); err != nil {
		s.log.Warn(ctx, "failed to set current vault", "path", path, "err", err)
	}

	return VaultReference{
		Path:         path,
		DisplayName:  DisplayName(path),
		LastAccessed: s.clock.Now(),
	}, nil
}

// Current returns the persisted current vault path.
func (s *Selector) Current(ctx context.Context) (string, bool, error) {
	v, ok, err := s.state.Get(storage.KeyCurrentVaultPath)
	if err != nil {
		return "", false, fmt.Errorf("failed to read current vault: %w", err)
	}
	if !ok || len(v) == 0 {
		return "", false, nil
	}
	return string(v), true, nil
}

func (s *Selector) SetCurrent(ctx context.Context, path string) error {
	if err := s.state.Put(storage.KeyCurrentVaultPath, []byte(path)); err != nil {
		return fmt.Errorf("failed to save current vault: %w", err)
	}
	return nil
}

func (s *Selector) ClearCurrent(ctx context.Context) error {
	if err := s.state.Delete(storage.KeyCurrentVaultPath); err != nil {
		return fmt.Errorf("failed to clear current vault: %w", err)
	}
	return nil
}

func (s *Selector) loadRecent(ctx context.Context) ([]VaultReference, error) {
	data, ok, err := s.state.Get(storage.KeyRecentVaults)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent vaults: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var refs []VaultReference
	if err := json.Unmarshal(data, &refs); err != nil {
		s.log.Warn(ctx, "ignoring unreadable recent vault list", "err", err)
		return nil, nil
	}

	return normalize(refs), nil
}

func (s *Selector) saveRecent(refs []VaultReference) error {
	if refs == nil {
		refs = []VaultReference{}
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to encode recent vaults: %w", err)
	}
	if err := s.state.Put(storage.KeyRecentVaults, data); err != nil {
		return fmt.Errorf("failed to save recent vaults: %w", err)
	}
	return nil
}

// normalize sorts refs most recent first, keeps the newest entry per path
// and truncates to MaxRecent.
func normalize(refs []VaultReference) []VaultReference {
	slices.SortStableFunc(refs, func(a, b VaultReference) int {
		return cmp.Compare(b.LastAccessed.UnixNano(), a.LastAccessed.UnixNano())
	})

	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if r.Path == "" || seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		if r.DisplayName == "" {
			r.DisplayName = DisplayName(r.Path)
		}
		out = append(out, r)
	}

	if len(out) > MaxRecent {
		out = out[:MaxRecent]
	}
	return out
}
