// Package auth is the top-level lock state machine. It composes the vault
// selector, the session store and the auto-lock monitor, and is the single
// source of truth for whether the vault is unlocked.
package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/illarion/vaultguard/internal/autolock"
	"github.com/illarion/vaultguard/internal/config"
	"github.com/illarion/vaultguard/internal/logging"
	"github.com/illarion/vaultguard/internal/selector"
	"github.com/illarion/vaultguard/internal/session"
	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

// ErrSuperseded is returned by a login that completed after a logout,
// auto-lock or newer login. Its session has been discarded.
var ErrSuperseded = errors.New("login superseded")

// Monitor is the auto-lock surface the orchestrator drives.
type Monitor interface {
	Arm(ctx context.Context, timeoutMinutes int, onLock func()) error
	Disarm()
}

type Option func(*Orchestrator)

func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNop(l) }
}

type Orchestrator struct {
	backend  vault.Backend
	sessions *session.Store
	selector *selector.Selector
	monitor  Monitor
	state    storage.KV
	log      logging.Logger

	mu      sync.Mutex
	current State
	// seq changes on every committed transition. A login commits only if
	// seq is unchanged since it started.
	seq     uint64
	// armMu orders monitor Arm and Disarm calls against seq checks.
	armMu   sync.Mutex
	armErr  error
	subs    map[int]func(State)
	nextSub int

	// notifyMu keeps subscriber callbacks from interleaving.
	notifyMu sync.Mutex
}

// New returns an orchestrator in the Resolving state. Call Restore once at
// startup.
func New(backend vault.Backend, sessions *session.Store, sel *selector.Selector, monitor Monitor, state storage.KV, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		sessions: sessions,
		selector: sel,
		monitor:  monitor,
		state:    state,
		log:      logging.Nop{},
		current:  State{Status: Resolving},
		subs:     make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "auth")
	return o
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.clone()
}

// Subscribe registers fn to receive every state change. fn runs
// synchronously and must not start a transition itself. The returned
// function unregisters it.
func (o *Orchestrator) Subscribe(fn func(State)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// AutoLockError returns why auto-lock could not be armed on the last
// unlock, or nil.
func (o *Orchestrator) AutoLockError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.armErr
}

// Restore resolves the startup state: with a current vault and a persisted
// token that the backend still accepts, the vault is unlocked without a
// password. Anything else ends Unauthenticated.
func (o *Orchestrator) Restore(ctx context.Context) State {
	o.mu.Lock()
	o.seq++
	seq := o.seq
	o.current = State{Status: Resolving}
	snapshot := o.current.clone()
	o.mu.Unlock()
	o.publish(snapshot)

	path, ok, err := o.selector.Current(ctx)
	if err != nil {
		o.log.Warn(ctx, "failed to read current vault", "err", err)
	}
	if !ok {
		o.commit(seq, State{Status: Unauthenticated})
		return o.State()
	}

	if err := o.backend.AttachVault(ctx, path); err != nil {
		o.log.Warn(ctx, "failed to attach current vault", "path", path, "err", err)
		o.sessions.Forget(ctx)
		o.commit(seq, State{Status: Unauthenticated, VaultPath: path})
		return o.State()
	}

	cred, ok := o.sessions.Restore(ctx)
	if !ok {
		o.commit(seq, State{Status: Unauthenticated, VaultPath: path})
		return o.State()
	}

	committed, ok := o.commit(seq, State{Status: Authenticated, Credential: &cred, VaultPath: path})
	if !ok {
		o.sessions.Discard(ctx, cred.Token)
		return o.State()
	}

	o.log.Info(ctx, "restored session", "path", path)
	o.arm(ctx, committed, cred.Token)
	return o.State()
}

// Login opens the vault at path with the master password.
func (o *Orchestrator) Login(ctx context.Context, path string, password []byte) error {
	o.mu.Lock()
	seq := o.seq
	o.mu.Unlock()

	path, err := o.selector.SelectForOpen(ctx, path)
	if err != nil {
		return err
	}

	if err := o.backend.InitializeDatabaseWithPath(ctx, password, path); err != nil {
		return classify(vault.ErrAuthFailure, err)
	}

	ok, err := o.backend.VerifyMasterPassword(ctx, password)
	if err != nil {
		return classify(vault.ErrAuthFailure, err)
	}
	if !ok {
		return vault.NewError(vault.ErrAuthFailure, "", nil)
	}

	cred, err := o.sessions.Create(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.seq != seq {
		o.mu.Unlock()
		o.log.Info(ctx, "discarding superseded login", "path", path)
		o.sessions.Discard(ctx, cred.Token)
		return ErrSuperseded
	}
	prev := o.current.token()
	o.seq++
	committed := o.seq
	o.current = State{Status: Authenticated, Credential: &cred, VaultPath: path}
	o.armErr = nil
	snapshot := o.current.clone()
	o.mu.Unlock()
	o.publish(snapshot)

	if prev != "" && prev != cred.Token {
		o.sessions.Discard(ctx, prev)
	}

	if err := o.selector.RecordAccess(ctx, path); err != nil {
		o.log.Warn(ctx, "failed to record vault access", "err", err)
	}
	if err := o.selector.SetCurrent(ctx, path); err != nil {
		o.log.Warn(ctx, "failed to set current vault", "err", err)
	}

	o.log.Info(ctx, "vault unlocked", "path", path)
	o.arm(ctx, committed, cred.Token)
	return nil
}

// Unlock logs in to the current vault.
func (o *Orchestrator) Unlock(ctx context.Context, password []byte) error {
	path, ok, err := o.selector.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return vault.NewError(vault.ErrNoCurrentVault, "", nil)
	}
	return o.Login(ctx, path, password)
}

// CreateVault creates a new vault protected by password and logs in to it.
func (o *Orchestrator) CreateVault(ctx context.Context, password []byte) (selector.VaultReference, error) {
	ref, err := o.selector.CreateNew(ctx, password)
	if err != nil {
		return selector.VaultReference{}, err
	}
	if err := o.Login(ctx, ref.Path, password); err != nil {
		return ref, err
	}
	return ref, nil
}

// Logout locks the vault. The current vault stays selected so the next
// unlock goes straight to password entry.
func (o *Orchestrator) Logout(ctx context.Context) {
	o.lock(ctx, ReasonLogout, true)
}

// SwitchVault locks the vault and forgets the current vault path.
func (o *Orchestrator) SwitchVault(ctx context.Context) error {
	o.lock(ctx, ReasonSwitchVault, false)
	return o.selector.ClearCurrent(ctx)
}

// NextStep reports what the user has to provide next.
func (o *Orchestrator) NextStep(ctx context.Context) (Step, string, error) {
	st := o.State()
	if st.Status == Authenticated {
		return StepUnlocked, st.VaultPath, nil
	}

	path, ok, err := o.selector.Current(ctx)
	if err != nil {
		return StepChooseVault, "", err
	}
	if !ok {
		return StepChooseVault, "", nil
	}
	return StepEnterPassword, path, nil
}

// CheckSession asks the backend whether the session is still live and
// locks the vault if it is not.
func (o *Orchestrator) CheckSession(ctx context.Context) bool {
	token := o.State().token()
	if token == "" {
		return false
	}
	if o.sessions.Validate(ctx, token) {
		return true
	}
	o.lockIfCurrent(ctx, token, ReasonSessionInvalid)
	return false
}

func (o *Orchestrator) Settings() (config.Settings, error) {
	return config.LoadSettings(o.state)
}

// UpdateSettings persists s and, while unlocked, re-arms auto-lock with the
// new timeout.
func (o *Orchestrator) UpdateSettings(ctx context.Context, s config.Settings) error {
	if err := config.SaveSettings(o.state, s); err != nil {
		return err
	}
	o.mu.Lock()
	seq, token := o.seq, o.current.token()
	o.mu.Unlock()

	if token != "" {
		o.arm(ctx, seq, token)
	}
	return nil
}

// Close stops auto-lock. The session stays live for the next process.
func (o *Orchestrator) Close() {
	o.disarm()
}

// commit applies next if no other transition happened since seq. It
// returns the sequence number of the committed state.
func (o *Orchestrator) commit(seq uint64, next State) (uint64, bool) {
	o.mu.Lock()
	if o.seq != seq {
		o.mu.Unlock()
		return 0, false
	}
	o.seq++
	committed := o.seq
	o.current = next
	snapshot := o.current.clone()
	o.mu.Unlock()

	o.publish(snapshot)
	return committed, true
}

func (o *Orchestrator) lock(ctx context.Context, reason LockReason, keepPath bool) {
	o.mu.Lock()
	prev := o.current
	o.seq++
	next := State{Status: Unauthenticated, Reason: reason}
	if keepPath {
		next.VaultPath = prev.VaultPath
	}
	o.current = next
	snapshot := o.current.clone()
	o.mu.Unlock()

	o.disarm()
	o.publish(snapshot)

	o.sessions.Destroy(ctx, prev.token())
	o.log.Info(ctx, "vault locked", "reason", reason.String())
}

// lockIfCurrent locks only while token is still the active session, so a
// late callback cannot end a newer one.
func (o *Orchestrator) lockIfCurrent(ctx context.Context, token string, reason LockReason) {
	o.mu.Lock()
	active := o.current.token()
	o.mu.Unlock()

	if active == "" || active != token {
		return
	}
	o.lock(ctx, reason, true)
}

func (o *Orchestrator) disarm() {
	o.armMu.Lock()
	defer o.armMu.Unlock()
	o.monitor.Disarm()
}

// arm starts auto-lock for token, provided the state committed at seq is
// still the current one. A late arm would otherwise replace the monitor of
// a newer session.
func (o *Orchestrator) arm(ctx context.Context, seq uint64, token string) {
	settings, err := o.Settings()
	if err != nil {
		o.log.Warn(ctx, "using default settings", "err", err)
	}

	o.armMu.Lock()
	defer o.armMu.Unlock()

	o.mu.Lock()
	stale := o.seq != seq
	o.mu.Unlock()
	if stale {
		o.log.Debug(ctx, "skipping auto-lock for a superseded session")
		return
	}

	err = o.monitor.Arm(ctx, settings.AutoLockTimeoutMinutes, func() {
		o.lockIfCurrent(context.WithoutCancel(ctx), token, ReasonAutoLock)
	})
	if err != nil {
		o.log.Warn(ctx, "auto-lock not armed", "err", err)
		if !errors.Is(err, autolock.ErrObserverUnavailable) {
			err = errors.Join(autolock.ErrObserverUnavailable, err)
		}
	}

	o.mu.Lock()
	o.armErr = err
	o.mu.Unlock()
}

func (o *Orchestrator) publish(st State) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	subs := make([]func(State), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(st.clone())
	}
}

// classify keeps errors the backend already classified and files the rest
// under kind.
func classify(kind, err error) error {
	var verr *vault.Error
	if errors.As(err, &verr) {
		return err
	}
	return vault.Classify(kind, err)
}
