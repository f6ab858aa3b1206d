package core

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/illarion/vaultguard/internal/crypto"
	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

func (v *Vault) ListCredentials(ctx context.Context, token string) ([]vault.Credential, error) {
	var out []vault.Credential
	err := v.withSession(ctx, token, func(db *storage.Storage, enc *crypto.Encryptor) error {
		var err error
		out, err = listRecords[vault.Credential](db, enc, storage.CredentialsBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out, func(c vault.Credential) int64 { return c.CreatedAt.UnixNano() })
	return out, nil
}

// SearchCredentials matches query case-insensitively against website and
// username.
func (v *Vault) SearchCredentials(ctx context.Context, token, query string) ([]vault.Credential, error) {
	all, err := v.ListCredentials(ctx, token)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	return slices.DeleteFunc(all, func(c vault.Credential) bool {
		return !strings.Contains(strings.ToLower(c.Website), q) &&
			!strings.Contains(strings.ToLower(c.Username), q)
	}), nil
}

func (v *Vault) GetCredential(ctx context.Context, token, id string) (vault.Credential, error) {
	var out vault.Credential
	err := v.withSession(ctx, token, func(db *storage.Storage, enc *crypto.Encryptor) error {
		return getRecord(db, enc, storage.CredentialsBucket, id, &out)
	})
	return out, err
}

// SaveCredential inserts c when it has no ID and updates the stored record
// otherwise.
func (v *Vault) SaveCredential(ctx context.Context, token string, c vault.Credential) (vault.Credential, error) {
	err := v.withSession(ctx, token, func(db *storage.Storage, enc *crypto.Encryptor) error {
		now := v.clock.Now()
		if c.ID == "" {
			c.ID = uuid.NewString()
			c.CreatedAt = now
		} else {
			var existing vault.Credential
			if err := getRecord(db, enc, storage.CredentialsBucket, c.ID, &existing); err != nil {
				return err
			}
			c.CreatedAt = existing.CreatedAt
		}
		c.UpdatedAt = now
		return putRecord(db, enc, storage.CredentialsBucket, c.ID, c)
	})
	if err != nil {
		return vault.Credential{}, err
	}
	return c, nil
}

func (v *Vault) DeleteCredential(ctx context.Context, token, id string) error {
	return v.withSession(ctx, token, func(db *storage.Storage, _ *crypto.Encryptor) error {
		return deleteRecord(db, storage.CredentialsBucket, id)
	})
}

func (v *Vault) ListNotes(ctx context.Context, token string) ([]vault.Note, error) {
	var out []vault.Note
	err := v.withSession(ctx, token, func(db *storage.Storage, enc *crypto.Encryptor) error {
		var err error
		out, err = listRecords[vault.Note](db, enc, storage.NotesBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out, func(n vault.Note) int64 { return n.UpdatedAt.UnixNano() })
	return out, nil
}

func (v *Vault) GetNote(ctx context.Context, token, id string) (vault.Note, error) {
	var out vault.Note
	err := v.withSession(ctx, token, func(db *storage.Storage, enc *crypto.Encryptor) error {
		return getRecord(db, enc, storage.NotesBucket, id, &out)
	})
	return out, err
}

func (v *Vault) SaveNote(ctx context.Context, token string, n vault.Note) (vault.Note, error) {
	err := v.withSession(ctx, token, func(db *storage.Storage, enc *crypto.Encryptor) error {
		now := v.clock.Now()
		if n.ID == "" {
			n.ID = uuid.NewString()
			n.CreatedAt = now
		} else {
			var existing vault.Note
			if err := getRecord(db, enc, storage.NotesBucket, n.ID, &existing); err != nil {
				return err
			}
			n.CreatedAt = existing.CreatedAt
		}
		n.UpdatedAt = now
		return putRecord(db, enc, storage.NotesBucket, n.ID, n)
	})
	if err != nil {
		return vault.Note{}, err
	}
	return n, nil
}

func (v *Vault) DeleteNote(ctx context.Context, token, id string) error {
	return v.withSession(ctx, token, func(db *storage.Storage, _ *crypto.Encryptor) error {
		return deleteRecord(db, storage.NotesBucket, id)
	})
}

func putRecord(db *storage.Storage, enc *crypto.Encryptor, bucket []byte, id string, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	defer crypto.ClearBytes(data)

	sealed, err := enc.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt record: %w", err)
	}
	if err := db.Put(bucket, []byte(id), sealed); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return db.UpdateModified()
}

func getRecord(db *storage.Storage, enc *crypto.Encryptor, bucket []byte, id string, out any) error {
	sealed, err := db.Get(bucket, []byte(id))
	if errors.Is(err, storage.ErrNotFound) {
		return vault.NewError(vault.ErrNotFound, "", nil)
	}
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	return openRecord(enc, sealed, out)
}

func listRecords[T any](db *storage.Storage, enc *crypto.Encryptor, bucket []byte) ([]T, error) {
	var out []T
	err := db.ForEach(bucket, func(_, sealed []byte) error {
		var rec T
		if err := openRecord(enc, sealed, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func deleteRecord(db *storage.Storage, bucket []byte, id string) error {
	if _, err := db.Get(bucket, []byte(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return vault.NewError(vault.ErrNotFound, "", nil)
		}
		return fmt.Errorf("failed to read record: %w", err)
	}
	if err := db.Delete(bucket, []byte(id)); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return db.UpdateModified()
}

func openRecord(enc *crypto.Encryptor, sealed []byte, out any) error {
	data, err := enc.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("failed to decrypt record: %w", err)
	}
	defer crypto.ClearBytes(data)

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

func sortNewestFirst[T any](recs []T, stamp func(T) int64) {
	slices.SortStableFunc(recs, func(a, b T) int {
		return cmp.Compare(stamp(b), stamp(a))
	})
}
