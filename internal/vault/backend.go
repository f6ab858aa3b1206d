package vault

import "context"

// Backend is the vault/crypto engine consumed by the lock core.
//
// Password and session operations follow the lifecycle:
// IsVaultFileValid -> InitializeDatabaseWithPath -> VerifyMasterPassword ->
// CreateSession, after which record operations are authorized by the token.
// InitializeDatabaseWithPath only stages a vault: the previously bound vault
// and its sessions stay usable until VerifyMasterPassword succeeds.
// LockSession ends a session in the vault that issued it, even after a
// switch to another vault. Record operations on a lapsed token return an
// error matching ErrSessionInvalid.
type Backend interface {
	IsVaultFileValid(ctx context.Context, path string) (bool, error)
	CreateNewVault(ctx context.Context, masterPassword []byte) (string, error)
	InitializeDatabaseWithPath(ctx context.Context, masterPassword []byte, path string) error
	VerifyMasterPassword(ctx context.Context, masterPassword []byte) (bool, error)

	// AttachVault binds a vault file without unlocking it, so a session
	// persisted by an earlier process can be validated.
	AttachVault(ctx context.Context, path string) error

	CreateSession(ctx context.Context) (string, error)
	ValidateSession(ctx context.Context, token string) (bool, error)
	LockSession(ctx context.Context, token string) error

	Records
}

// Records is the CRUD surface for credentials and notes.
type Records interface {
	ListCredentials(ctx context.Context, token string) ([]Credential, error)
	SearchCredentials(ctx context.Context, token, query string) ([]Credential, error)
	GetCredential(ctx context.Context, token, id string) (Credential, error)
	SaveCredential(ctx context.Context, token string, c Credential) (Credential, error)
	DeleteCredential(ctx context.Context, token, id string) error

	ListNotes(ctx context.Context, token string) ([]Note, error)
	GetNote(ctx context.Context, token, id string) (Note, error)
	SaveNote(ctx context.Context, token string, n Note) (Note, error)
	DeleteNote(ctx context.Context, token, id string) error
}
