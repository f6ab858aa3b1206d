package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/vaultguard/internal/auth"
	"github.com/illarion/vaultguard/internal/autolock"
	"github.com/illarion/vaultguard/internal/clipboard"
	"github.com/illarion/vaultguard/internal/config"
	"github.com/illarion/vaultguard/internal/core"
	"github.com/illarion/vaultguard/internal/focus"
	"github.com/illarion/vaultguard/internal/keyring"
	"github.com/illarion/vaultguard/internal/logging"
	"github.com/illarion/vaultguard/internal/selector"
	"github.com/illarion/vaultguard/internal/session"
	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

var errLocked = errors.New("vault is locked")

// app is one wired instance of every component.
type app struct {
	cfg      *config.Config
	log      logging.Logger
	state    *storage.StateStore
	backend  *core.Vault
	selector *selector.Selector
	monitor  *autolock.Monitor
	clip     *clipboard.Guard
	auth     *auth.Orchestrator

	closeObserver func()
}

// open wires the components for one process. A nil observer means focus is
// never reported, so auto-lock stays armed but idle.
func (r *root) open(cmd *cobra.Command, observer focus.Observer) (*app, error) {
	ctx := cmd.Context()

	cfg, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	state, err := storage.OpenState(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("%w (is another vaultguard shell running?)", err)
	}

	a := &app{cfg: cfg, log: log, state: state}

	if observer == nil {
		b := focus.NewBroadcaster()
		observer = b
		a.closeObserver = b.Close
	}

	a.backend = core.New(cfg.VaultDir, core.WithLogger(log))
	sessions := session.New(a.backend, tokenStore(ctx, cfg, state, log), log)
	a.selector = selector.New(a.backend, state, selector.WithLogger(log))

	a.monitor = autolock.New(observer,
		autolock.WithLogger(log),
		autolock.WithAuthCheck(func() bool {
			return a.auth != nil && a.auth.State().Status == auth.Authenticated
		}),
	)
	a.auth = auth.New(a.backend, sessions, a.selector, a.monitor, state, auth.WithLogger(log))

	a.clip = clipboard.New(r.env.clipboard, clipboard.WithClock(r.env.clock), clipboard.WithLogger(log))

	log.Debug(ctx, "components wired", "data_dir", cfg.DataDir, "vault_dir", cfg.VaultDir)
	return a, nil
}

func tokenStore(ctx context.Context, cfg *config.Config, state *storage.StateStore, log logging.Logger) session.TokenStore {
	if cfg.TokenStore == config.TokenStoreKeyring {
		if keyring.Available() {
			return keyring.NewTokenStore(cfg.DataDir)
		}
		log.Warn(ctx, "OS keyring unavailable, keeping the session token in the state database")
	}
	return state
}

func (a *app) Close() {
	ctx := context.Background()

	a.auth.Close()
	a.clip.Close()
	if a.closeObserver != nil {
		a.closeObserver()
	}
	if err := a.backend.Close(); err != nil {
		a.log.Warn(ctx, "failed to close vault", "err", err)
	}
	if err := a.state.Close(); err != nil {
		a.log.Warn(ctx, "failed to close state database", "err", err)
	}
}

// resolve restores a persisted session the first time it is called.
func (a *app) resolve(ctx context.Context) auth.State {
	st := a.auth.State()
	if st.Status == auth.Resolving {
		st = a.auth.Restore(ctx)
	}
	return st
}

// unlocked fails unless a session is active.
func (a *app) unlocked(ctx context.Context) error {
	st := a.resolve(ctx)
	if st.Status == auth.Authenticated {
		return nil
	}
	if st.VaultPath == "" {
		return vault.NewError(vault.ErrNoCurrentVault, "", nil)
	}
	return errLocked
}

func (a *app) settings(ctx context.Context) config.Settings {
	s, err := a.auth.Settings()
	if err != nil {
		a.log.Warn(ctx, "using default settings", "err", err)
	}
	return s
}
