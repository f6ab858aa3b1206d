package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/illarion/vaultguard/internal/crypto"
	"github.com/illarion/vaultguard/internal/logging"
	"github.com/illarion/vaultguard/internal/security"
	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

const (
	DefaultSessionTimeout  = 15 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 30 * time.Minute

	vaultNamePrefix = "vault-"
	lockedOutMsg    = "Account temporarily locked due to too many failed attempts"
)

var ErrNotAttached = errors.New("no vault attached")

type Option func(*Vault)

func WithClock(c clockwork.Clock) Option {
	return func(v *Vault) { v.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(v *Vault) { v.log = logging.OrNop(l) }
}

// WithIterations sets the PBKDF2 iteration count for new vaults and
// password changes.
func WithIterations(n int) Option {
	return func(v *Vault) { v.iterations = n }
}

// WithSessionTimeout sets how long a session may stay idle.
func WithSessionTimeout(d time.Duration) Option {
	return func(v *Vault) { v.sessionTimeout = d }
}

// WithLockout sets how many failed password attempts lock a vault, and for
// how long.
func WithLockout(maxAttempts int, d time.Duration) Option {
	return func(v *Vault) { v.maxAttempts, v.lockoutDuration = maxAttempts, d }
}

// Vault is the local vault engine: bbolt files encrypted with a data key
// that is wrapped by the master password and by each live session.
type Vault struct {
	vaultDir        string
	clock           clockwork.Clock
	log             logging.Logger
	iterations      int
	sessionTimeout  time.Duration
	maxAttempts     int
	lockoutDuration time.Duration

	mu       sync.Mutex
	db       *storage.Storage
	path     string
	attempts *lockout
	// pending is a vault opened for a password check. It replaces db only
	// once the password verifies.
	pending     *storage.Storage
	pendingPath string
	// owners maps a token hash to the vault file that issued it.
	owners map[string]string
	// dek is held only between a successful password check and the
	// session it authorizes.
	dek []byte
}

var _ vault.Backend = (*Vault)(nil)

// New returns a Vault that creates new vault files in vaultDir.
func New(vaultDir string, opts ...Option) *Vault {
	v := &Vault{
		vaultDir:        vaultDir,
		clock:           clockwork.NewRealClock(),
		log:             logging.Nop{},
		iterations:      crypto.DefaultIters,
		sessionTimeout:  DefaultSessionTimeout,
		maxAttempts:     DefaultMaxAttempts,
		lockoutDuration: DefaultLockoutDuration,
		owners:          make(map[string]string),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.With("component", "vault")
	v.attempts = newLockout(v.clock, v.maxAttempts, v.lockoutDuration)
	return v
}

// Close detaches the current vault file.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropPendingLocked()
	return v.detachLocked()
}

// Path returns the attached vault file, if any.
func (v *Vault) Path() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.path
}

// IsVaultFileValid reports whether path is a complete vault file. It never
// decrypts anything.
func (v *Vault) IsVaultFileValid(ctx context.Context, path string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.db != nil && v.path == path {
		return v.db.IsInitialized()
	}
	if v.pending != nil && v.pendingPath == path {
		return v.pending.IsInitialized()
	}

	db, err := storage.OpenReadOnly(path)
	if err != nil {
		v.log.Debug(ctx, "not a vault file", "path", path, "err", err)
		return false, nil
	}
	defer db.Close()

	return db.IsInitialized()
}

// CreateNewVault creates and initializes a new vault file in the vault
// directory and returns its path.
func (v *Vault) CreateNewVault(ctx context.Context, masterPassword []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(masterPassword) == 0 {
		return "", vault.NewError(vault.ErrVaultCreationFailed, "Master password must not be empty", nil)
	}

	dir, err := security.OpenVaultDir(v.vaultDir)
	if err != nil {
		return "", vault.NewError(vault.ErrVaultCreationFailed, "", err)
	}
	defer dir.Close()

	name := vaultNamePrefix + uuid.NewString()[:8] + security.VaultExt
	path, err := dir.Reserve(name)
	if err != nil {
		return "", vault.NewError(vault.ErrVaultCreationFailed, "", err)
	}

	if err := v.initFile(path, masterPassword); err != nil {
		if rmErr := dir.Remove(name); rmErr != nil {
			v.log.Warn(ctx, "failed to remove partial vault file", "path", path, "err", rmErr)
		}
		return "", vault.NewError(vault.ErrVaultCreationFailed, "", err)
	}

	v.log.Info(ctx, "created vault", "path", path)
	return path, nil
}

func (v *Vault) initFile(path string, masterPassword []byte) error {
	db, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	dek, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(dek)

	return v.storePassword(db, masterPassword, dek)
}

// storePassword wraps dek under a fresh key derived from password.
func (v *Vault) storePassword(db *storage.Storage, password, dek []byte) error {
	kdf, err := crypto.NewKDF()
	if err != nil {
		return fmt.Errorf("failed to create KDF: %w", err)
	}
	kdf.Iterations = v.iterations

	kek := kdf.DeriveKey(password)
	defer crypto.ClearBytes(kek)

	wrapped, err := crypto.WrapKey(kek, dek)
	if err != nil {
		return fmt.Errorf("failed to wrap data key: %w", err)
	}

	if err := db.SetSalt(kdf.Salt); err != nil {
		return fmt.Errorf("failed to store salt: %w", err)
	}
	if err := db.SetIterations(uint32(kdf.Iterations)); err != nil {
		return fmt.Errorf("failed to store iterations: %w", err)
	}
	if err := db.SetWrappedKey(wrapped); err != nil {
		return fmt.Errorf("failed to store wrapped key: %w", err)
	}
	return db.UpdateModified()
}

// InitializeDatabaseWithPath opens path for a password check. The attached
// vault stays bound until VerifyMasterPassword accepts the password.
func (v *Vault) InitializeDatabaseWithPath(ctx context.Context, masterPassword []byte, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.clearDEKLocked()
	db, err := v.stageLocked(path)
	if err != nil {
		return err
	}
	return v.checkLockoutLocked(db)
}

// AttachVault binds path without unlocking it.
func (v *Vault) AttachVault(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attachLocked(path)
}

// VerifyMasterPassword checks password against the vault staged by
// InitializeDatabaseWithPath, or the attached vault when none is staged.
// On success the staged vault becomes the attached one. Repeated failures
// lock the vault for a while.
func (v *Vault) VerifyMasterPassword(ctx context.Context, masterPassword []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	db, path := v.db, v.path
	if v.pending != nil {
		db, path = v.pending, v.pendingPath
	}
	if db == nil {
		return false, vault.NewError(vault.ErrAuthFailure, "", ErrNotAttached)
	}
	if err := v.checkLockoutLocked(db); err != nil {
		return false, err
	}

	dek, err := unwrapWithPassword(db, masterPassword)
	if errors.Is(err, crypto.ErrAuthFailed) {
		locked, err := v.attempts.fail(db)
		if err != nil {
			return false, vault.NewError(vault.ErrAuthFailure, "", err)
		}
		if locked {
			v.log.Warn(ctx, "vault locked after repeated failed attempts", "path", path)
			return false, vault.NewError(vault.ErrAuthFailure, lockedOutMsg, nil)
		}
		return false, nil
	}
	if err != nil {
		return false, vault.NewError(vault.ErrInvalidVaultFile, "", err)
	}

	if err := v.attempts.reset(db); err != nil {
		v.log.Warn(ctx, "failed to reset failed attempts", "path", path, "err", err)
	}
	if db == v.pending {
		if err := v.detachLocked(); err != nil {
			v.log.Warn(ctx, "failed to close previous vault", "path", v.path, "err", err)
		}
		v.db, v.path = v.pending, v.pendingPath
		v.pending, v.pendingPath = nil, ""
	}
	v.clearDEKLocked()
	v.dek = dek
	return true, nil
}

func (v *Vault) checkLockoutLocked(db *storage.Storage) error {
	locked, err := v.attempts.locked(db)
	if err != nil {
		return vault.NewError(vault.ErrAuthFailure, "", err)
	}
	if locked {
		return vault.NewError(vault.ErrAuthFailure, lockedOutMsg, nil)
	}
	return nil
}

// ChangePassword re-wraps the data key of the attached vault under a new
// master password. Records and sessions are unaffected.
func (v *Vault) ChangePassword(ctx context.Context, token string, currentPassword, newPassword []byte) error {
	if len(newPassword) == 0 {
		return vault.NewError(vault.ErrAuthFailure, "New password must not be empty", nil)
	}

	return v.withSession(ctx, token, func(db *storage.Storage, _ *crypto.Encryptor) error {
		dek, err := unwrapWithPassword(db, currentPassword)
		if errors.Is(err, crypto.ErrAuthFailed) {
			return vault.NewError(vault.ErrAuthFailure, "Current password is incorrect", nil)
		}
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(dek)

		if err := v.storePassword(db, newPassword, dek); err != nil {
			return fmt.Errorf("failed to store new password: %w", err)
		}
		v.log.Info(ctx, "master password changed", "path", v.path)
		return nil
	})
}

// Compact reclaims free space in the vault file at path.
func (v *Vault) Compact(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.db != nil && v.path == path {
		return v.db.Compact()
	}
	if v.pending != nil && v.pendingPath == path {
		return v.pending.Compact()
	}

	db, err := openVaultFile(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Compact()
}

func unwrapWithPassword(db *storage.Storage, password []byte) ([]byte, error) {
	salt, err := db.GetSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to get salt: %w", err)
	}
	iterations, err := db.GetIterations()
	if err != nil {
		return nil, fmt.Errorf("failed to get iterations: %w", err)
	}
	wrapped, err := db.GetWrappedKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get wrapped key: %w", err)
	}

	kdf := &crypto.KDF{Salt: salt, Iterations: int(iterations)}
	kek := kdf.DeriveKey(password)
	defer crypto.ClearBytes(kek)

	return crypto.UnwrapKey(kek, wrapped)
}

// openVaultFile opens an existing, initialized vault file.
func openVaultFile(path string) (*storage.Storage, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, vault.NewError(vault.ErrInvalidVaultFile, "", err)
	}

	db, err := storage.Open(path)
	if err != nil {
		return nil, vault.NewError(vault.ErrInvalidVaultFile, "", err)
	}

	ok, err := db.IsInitialized()
	if err != nil || !ok {
		db.Close()
		return nil, vault.NewError(vault.ErrInvalidVaultFile, "", err)
	}
	return db, nil
}

// stageLocked returns the handle a password check for path runs against.
// The attached vault is reused. Any other path is opened as pending.
func (v *Vault) stageLocked(path string) (*storage.Storage, error) {
	if v.db != nil && v.path == path {
		v.dropPendingLocked()
		return v.db, nil
	}
	if v.pending != nil && v.pendingPath == path {
		return v.pending, nil
	}
	v.dropPendingLocked()

	db, err := openVaultFile(path)
	if err != nil {
		return nil, err
	}
	v.pending, v.pendingPath = db, path
	return db, nil
}

func (v *Vault) attachLocked(path string) error {
	if v.db != nil && v.path == path {
		v.dropPendingLocked()
		return nil
	}

	var db *storage.Storage
	if v.pending != nil && v.pendingPath == path {
		db = v.pending
		v.pending, v.pendingPath = nil, ""
	} else {
		v.dropPendingLocked()
		var err error
		if db, err = openVaultFile(path); err != nil {
			return err
		}
	}

	if err := v.detachLocked(); err != nil {
		v.log.Warn(context.Background(), "failed to close previous vault", "path", v.path, "err", err)
	}
	v.db = db
	v.path = path
	return nil
}

func (v *Vault) dropPendingLocked() {
	if v.pending == nil {
		return
	}
	if err := v.pending.Close(); err != nil {
		v.log.Warn(context.Background(), "failed to close staged vault", "path", v.pendingPath, "err", err)
	}
	v.pending, v.pendingPath = nil, ""
}

func (v *Vault) detachLocked() error {
	v.clearDEKLocked()
	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	v.path = ""
	return err
}

func (v *Vault) clearDEKLocked() {
	if v.dek != nil {
		crypto.ClearBytes(v.dek)
		v.dek = nil
	}
}
