package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/illarion/vaultguard/internal/crypto"
	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

// sessionRecord is stored in the vault file under the SHA-256 of its token.
// WrappedKey is the data key encrypted with a key derived from the token,
// so a restarted process can unlock records with the token alone.
type sessionRecord struct {
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"lastActivity"`
	WrappedKey   []byte    `json:"wrappedKey"`
}

// CreateSession mints a session for the vault unlocked by the last
// successful VerifyMasterPassword. Each password check authorizes one
// session.
func (v *Vault) CreateSession(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.db == nil || v.dek == nil {
		return "", vault.NewError(vault.ErrAuthFailure, "Vault is locked", nil)
	}
	defer v.clearDEKLocked()

	token, err := crypto.NewToken()
	if err != nil {
		return "", err
	}

	sessionKey, err := crypto.DeriveSessionKey(token)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(sessionKey)

	wrapped, err := crypto.WrapKey(sessionKey, v.dek)
	if err != nil {
		return "", fmt.Errorf("failed to wrap data key: %w", err)
	}

	now := v.clock.Now()
	rec := sessionRecord{Created: now, LastActivity: now, WrappedKey: wrapped}
	if err := v.putSessionLocked(token, rec); err != nil {
		return "", err
	}
	v.owners[crypto.HashToken(token)] = v.path

	v.pruneSessionsLocked(ctx)
	return token, nil
}

// ValidateSession reports whether token names a live session of the
// attached vault, and extends it. Expired sessions are deleted.
func (v *Vault) ValidateSession(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.db == nil {
		return false, nil
	}

	_, err := v.touchSessionLocked(ctx, token)
	if errors.Is(err, vault.ErrSessionInvalid) {
		return false, nil
	}
	return err == nil, err
}

// LockSession deletes the session from the vault file that issued it,
// which need not be the attached one. Locking an unknown session is not an
// error.
func (v *Vault) LockSession(ctx context.Context, token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := crypto.HashToken(token)
	owner, known := v.owners[key]
	delete(v.owners, key)

	if !known || owner == v.path {
		if v.db == nil {
			return nil
		}
		return deleteSession(v.db, key)
	}
	if v.pending != nil && v.pendingPath == owner {
		return deleteSession(v.pending, key)
	}

	db, err := openVaultFile(owner)
	if err != nil {
		v.log.Debug(ctx, "session owner is gone", "path", owner, "err", err)
		return nil
	}
	defer db.Close()
	return deleteSession(db, key)
}

func deleteSession(db *storage.Storage, key string) error {
	if err := db.Delete(storage.SessionsBucket, []byte(key)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// withSession runs fn with the data key unlocked by token. The session's
// idle timer restarts on every call.
func (v *Vault) withSession(ctx context.Context, token string, fn func(db *storage.Storage, enc *crypto.Encryptor) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.db == nil {
		return vault.NewError(vault.ErrSessionInvalid, "", ErrNotAttached)
	}

	rec, err := v.touchSessionLocked(ctx, token)
	if err != nil {
		return err
	}

	sessionKey, err := crypto.DeriveSessionKey(token)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(sessionKey)

	dek, err := crypto.UnwrapKey(sessionKey, rec.WrappedKey)
	if err != nil {
		return vault.NewError(vault.ErrSessionInvalid, "", err)
	}

	enc := crypto.NewEncryptor(dek)
	defer enc.Destroy()

	return fn(v.db, enc)
}

func (v *Vault) touchSessionLocked(ctx context.Context, token string) (sessionRecord, error) {
	if token == "" {
		return sessionRecord{}, vault.NewError(vault.ErrSessionInvalid, "", nil)
	}

	key := []byte(crypto.HashToken(token))
	data, err := v.db.Get(storage.SessionsBucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		return sessionRecord{}, vault.NewError(vault.ErrSessionInvalid, "", nil)
	}
	if err != nil {
		return sessionRecord{}, fmt.Errorf("failed to read session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return sessionRecord{}, vault.NewError(vault.ErrSessionInvalid, "", err)
	}

	now := v.clock.Now()
	if v.expired(rec, now) {
		if err := v.db.Delete(storage.SessionsBucket, key); err != nil {
			v.log.Warn(ctx, "failed to delete expired session", "err", err)
		}
		return sessionRecord{}, vault.NewError(vault.ErrSessionInvalid, "", nil)
	}

	rec.LastActivity = now
	if err := v.putSessionLocked(token, rec); err != nil {
		return sessionRecord{}, err
	}
	v.owners[string(key)] = v.path
	return rec, nil
}

func (v *Vault) putSessionLocked(token string, rec sessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := v.db.Put(storage.SessionsBucket, []byte(crypto.HashToken(token)), data); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// pruneSessionsLocked deletes every expired session of the attached vault.
func (v *Vault) pruneSessionsLocked(ctx context.Context) {
	now := v.clock.Now()
	var stale [][]byte

	err := v.db.ForEach(storage.SessionsBucket, func(k, data []byte) error {
		var rec sessionRecord
		if err := json.Unmarshal(data, &rec); err != nil || v.expired(rec, now) {
			stale = append(stale, k)
		}
		return nil
	})
	if err != nil {
		v.log.Warn(ctx, "failed to scan sessions", "err", err)
		return
	}

	for _, k := range stale {
		if err := v.db.Delete(storage.SessionsBucket, k); err != nil {
			v.log.Warn(ctx, "failed to delete expired session", "err", err)
		}
	}
}

func (v *Vault) expired(rec sessionRecord, now time.Time) bool {
	return v.sessionTimeout > 0 && now.Sub(rec.LastActivity) >= v.sessionTimeout
}
