// Package session owns the opaque credential that proves the vault is
// currently unlocked, and its persistence across process restarts.
package session

import (
	"context"
	"errors"

	"github.com/illarion/vaultguard/internal/logging"
	"github.com/illarion/vaultguard/internal/vault"
)

// Credential is the session token minted by the backend after a successful
// unlock.
type Credential struct {
	Token string
}

// String keeps the token out of logs and error messages.
func (c Credential) String() string {
	if c.Token == "" {
		return "Credential{}"
	}
	return "Credential{<redacted>}"
}

// Backend is the part of vault.Backend the session store talks to.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	ValidateSession(ctx context.Context, token string) (bool, error)
	LockSession(ctx context.Context, token string) error
}

// TokenStore persists the active token under a fixed name.
type TokenStore interface {
	LoadToken() (string, bool, error)
	SaveToken(token string) error
	DeleteToken() error
}

// Store mints, validates and destroys session credentials.
type Store struct {
	backend Backend
	tokens  TokenStore
	log     logging.Logger
}

func New(backend Backend, tokens TokenStore, log logging.Logger) *Store {
	return &Store{
		backend: backend,
		tokens:  tokens,
		log:     logging.OrNop(log).With("component", "session"),
	}
}

// Create asks the backend for a new session and persists its token. The
// backend must already have verified the master password. A rejection is
// returned as ErrAuthFailure and should not be retried.
func (s *Store) Create(ctx context.Context) (Credential, error) {
	token, err := s.backend.CreateSession(ctx)
	if err != nil {
		if errors.Is(err, vault.ErrAuthFailure) {
			return Credential{}, err
		}
		return Credential{}, vault.NewError(vault.ErrAuthFailure, "", err)
	}
	if token == "" {
		return Credential{}, vault.NewError(vault.ErrAuthFailure, "", errors.New("backend returned an empty session token"))
	}

	if err := s.tokens.SaveToken(token); err != nil {
		// The session is still usable in this process, it just won't survive a restart.
		s.log.Warn(ctx, "failed to persist session token", "err", err)
	}

	return Credential{Token: token}, nil
}

// Validate reports whether token is still live. Backend errors count as
// invalid.
func (s *Store) Validate(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	ok, err := s.backend.ValidateSession(ctx, token)
	if err != nil {
		s.log.Warn(ctx, "session validation failed", "err", err)
		return false
	}
	return ok
}

// Destroy locks the session on the backend and forgets the persisted token.
// With an empty token the persisted one, if any, is locked instead. Backend
// errors are logged; local state is cleared regardless.
func (s *Store) Destroy(ctx context.Context, token string) {
	if token == "" {
		if persisted, ok, err := s.tokens.LoadToken(); err == nil && ok {
			token = persisted
		}
	}
	if token != "" {
		if err := s.backend.LockSession(ctx, token); err != nil {
			s.log.Warn(ctx, "failed to lock session on backend", "err", err)
		}
	}
	s.Forget(ctx)
}

// Discard locks a session that was minted but never adopted. The persisted
// token is removed only if it is still this one.
func (s *Store) Discard(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.backend.LockSession(ctx, token); err != nil {
		s.log.Warn(ctx, "failed to lock discarded session", "err", err)
	}

	persisted, ok, err := s.tokens.LoadToken()
	if err != nil {
		s.log.Warn(ctx, "failed to load persisted session token", "err", err)
		return
	}
	if ok && persisted == token {
		s.Forget(ctx)
	}
}

// Forget removes the persisted token without contacting the backend.
func (s *Store) Forget(ctx context.Context) {
	if err := s.tokens.DeleteToken(); err != nil {
		s.log.Warn(ctx, "failed to delete persisted session token", "err", err)
	}
}

// Restore loads a token persisted by an earlier process. It is returned only
// after the backend confirms it; an invalid token is deleted.
func (s *Store) Restore(ctx context.Context) (Credential, bool) {
	token, ok, err := s.tokens.LoadToken()
	if err != nil {
		s.log.Warn(ctx, "failed to load persisted session token", "err", err)
		return Credential{}, false
	}
	if !ok {
		return Credential{}, false
	}

	if !s.Validate(ctx, token) {
		s.log.Info(ctx, "persisted session is no longer valid")
		s.Forget(ctx)
		return Credential{}, false
	}

	return Credential{Token: token}, true
}
