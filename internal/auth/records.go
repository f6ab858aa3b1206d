package auth

import (
	"context"
	"errors"

	"github.com/illarion/vaultguard/internal/vault"
)

// WithSession runs fn with the active session token. A locked vault yields
// ErrSessionInvalid without calling fn; ErrSessionInvalid from fn locks it.
func (o *Orchestrator) WithSession(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	token := o.State().token()
	if token == "" {
		return vault.NewError(vault.ErrSessionInvalid, "", nil)
	}

	err := fn(ctx, token)
	if errors.Is(err, vault.ErrSessionInvalid) {
		o.log.Info(ctx, "backend rejected session")
		o.lockIfCurrent(ctx, token, ReasonSessionInvalid)
	}
	return err
}

func withSession[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var out T
	err := o.WithSession(ctx, func(ctx context.Context, token string) error {
		var err error
		out, err = fn(ctx, token)
		return err
	})
	return out, err
}

func (o *Orchestrator) ListCredentials(ctx context.Context) ([]vault.Credential, error) {
	return withSession(ctx, o, o.backend.ListCredentials)
}

func (o *Orchestrator) SearchCredentials(ctx context.Context, query string) ([]vault.Credential, error) {
	return withSession(ctx, o, func(ctx context.Context, token string) ([]vault.Credential, error) {
		return o.backend.SearchCredentials(ctx, token, query)
	})
}

func (o *Orchestrator) GetCredential(ctx context.Context, id string) (vault.Credential, error) {
	return withSession(ctx, o, func(ctx context.Context, token string) (vault.Credential, error) {
		return o.backend.GetCredential(ctx, token, id)
	})
}

func (o *Orchestrator) SaveCredential(ctx context.Context, c vault.Credential) (vault.Credential, error) {
	return withSession(ctx, o, func(ctx context.Context, token string) (vault.Credential, error) {
		return o.backend.SaveCredential(ctx, token, c)
	})
}

func (o *Orchestrator) DeleteCredential(ctx context.Context, id string) error {
	return o.WithSession(ctx, func(ctx context.Context, token string) error {
		return o.backend.DeleteCredential(ctx, token, id)
	})
}

func (o *Orchestrator) ListNotes(ctx context.Context) ([]vault.Note, error) {
	return withSession(ctx, o, o.backend.ListNotes)
}

func (o *Orchestrator) GetNote(ctx context.Context, id string) (vault.Note, error) {
	return withSession(ctx, o, func(ctx context.Context, token string) (vault.Note, error) {
		return o.backend.GetNote(ctx, token, id)
	})
}

func (o *Orchestrator) SaveNote(ctx context.Context, n vault.Note) (vault.Note, error) {
	return withSession(ctx, o, func(ctx context.Context, token string) (vault.Note, error) {
		return o.backend.SaveNote(ctx, token, n)
	})
}

func (o *Orchestrator) DeleteNote(ctx context.Context, id string) error {
	return o.WithSession(ctx, func(ctx context.Context, token string) error {
		return o.backend.DeleteNote(ctx, token, id)
	})
}
