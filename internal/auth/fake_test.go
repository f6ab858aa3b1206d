package auth

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/illarion/vaultguard/internal/selector"
	"github.com/illarion/vaultguard/internal/session"
	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

// fakeBackend keeps vaults, sessions and records in memory. Like the real
// backend it stages a vault on InitializeDatabaseWithPath and binds it only
// once the password checks out, and each vault has its own sessions.
type fakeBackend struct {
	mu       sync.Mutex
	vaults   map[string]string
	attached string
	pending  string
	unlocked bool
	// sessions maps a vault path to its live tokens.
	sessions map[string]map[string]bool
	locked   []string
	nextID   int
	creds    map[string]vault.Credential

	// beforeVerify, when set, runs at the start of VerifyMasterPassword.
	beforeVerify func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		vaults:   map[string]string{},
		sessions: map[string]map[string]bool{},
		creds:    map[string]vault.Credential{},
	}
}

func (f *fakeBackend) addVault(path, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vaults[path] = password
	f.sessions[path] = map[string]bool{}
}

func (f *fakeBackend) expire(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, live := range f.sessions {
		delete(live, token)
	}
}

func (f *fakeBackend) isLocked(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.locked {
		if t == token {
			return true
		}
	}
	return false
}

// live reports whether token is a live session of the vault at path.
func (f *fakeBackend) live(path, token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[path][token]
}

func (f *fakeBackend) liveSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, live := range f.sessions {
		n += len(live)
	}
	return n
}

func (f *fakeBackend) boundPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func (f *fakeBackend) IsVaultFileValid(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vaults[path]
	return ok, nil
}

func (f *fakeBackend) CreateNewVault(_ context.Context, pw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	path := fmt.Sprintf("/vaults/vault-%d.db", f.nextID)
	f.vaults[path] = string(pw)
	f.sessions[path] = map[string]bool{}
	return path, nil
}

func (f *fakeBackend) InitializeDatabaseWithPath(_ context.Context, _ []byte, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vaults[path]; !ok {
		return vault.NewError(vault.ErrInvalidVaultFile, "", nil)
	}
	f.pending = path
	f.unlocked = false
	return nil
}

func (f *fakeBackend) VerifyMasterPassword(_ context.Context, pw []byte) (bool, error) {
	if f.beforeVerify != nil {
		f.beforeVerify()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.attached
	if f.pending != "" {
		target = f.pending
	}
	f.pending = ""

	ok := f.vaults[target] == string(pw)
	if ok {
		f.attached = target
	}
	f.unlocked = ok
	return ok, nil
}

func (f *fakeBackend) AttachVault(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vaults[path]; !ok {
		return vault.NewError(vault.ErrInvalidVaultFile, "", nil)
	}
	f.attached = path
	f.pending = ""
	return nil
}

func (f *fakeBackend) CreateSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.unlocked {
		return "", vault.NewError(vault.ErrAuthFailure, "vault is locked", nil)
	}
	f.unlocked = false
	f.nextID++
	token := fmt.Sprintf("token-%d", f.nextID)
	f.sessions[f.attached][token] = true
	return token, nil
}

func (f *fakeBackend) ValidateSession(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[f.attached][token], nil
}

// LockSession ends token in whichever vault issued it.
func (f *fakeBackend) LockSession(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = append(f.locked, token)
	for _, live := range f.sessions {
		delete(live, token)
	}
	return nil
}

func (f *fakeBackend) check(token string) error {
	if !f.sessions[f.attached][token] {
		return vault.NewError(vault.ErrSessionInvalid, "", nil)
	}
	return nil
}

func (f *fakeBackend) ListCredentials(_ context.Context, token string) ([]vault.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token); err != nil {
		return nil, err
	}
	out := make([]vault.Credential, 0, len(f.creds))
	for _, c := range f.creds {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeBackend) SearchCredentials(ctx context.Context, token, _ string) ([]vault.Credential, error) {
	return f.ListCredentials(ctx, token)
}

func (f *fakeBackend) GetCredential(_ context.Context, token, id string) (vault.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token); err != nil {
		return vault.Credential{}, err
	}
	c, ok := f.creds[id]
	if !ok {
		return vault.Credential{}, vault.NewError(vault.ErrNotFound, "", nil)
	}
	return c, nil
}

func (f *fakeBackend) SaveCredential(_ context.Context, token string, c vault.Credential) (vault.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token); err != nil {
		return vault.Credential{}, err
	}
	if c.ID == "" {
		f.nextID++
		c.ID = fmt.Sprintf("cred-%d", f.nextID)
	}
	f.creds[c.ID] = c
	return c, nil
}

func (f *fakeBackend) DeleteCredential(_ context.Context, token, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token); err != nil {
		return err
	}
	delete(f.creds, id)
	return nil
}

func (f *fakeBackend) ListNotes(_ context.Context, token string) ([]vault.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil, f.check(token)
}

func (f *fakeBackend) GetNote(_ context.Context, token, _ string) (vault.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(token); err != nil {
		return vault.Note{}, err
	}
	return vault.Note{}, vault.NewError(vault.ErrNotFound, "", nil)
}

func (f *fakeBackend) SaveNote(_ context.Context, token string, n vault.Note) (vault.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return n, f.check(token)
}

func (f *fakeBackend) DeleteNote(_ context.Context, token, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check(token)
}

type fakeMonitor struct {
	mu      sync.Mutex
	arms    []int
	disarms int
	onLock  func()
	armErr  error
}

func (m *fakeMonitor) Arm(_ context.Context, timeoutMinutes int, onLock func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arms = append(m.arms, timeoutMinutes)
	if m.armErr != nil {
		return m.armErr
	}
	m.onLock = onLock
	return nil
}

func (m *fakeMonitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarms++
	m.onLock = nil
}

func (m *fakeMonitor) callback() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onLock
}

func (m *fakeMonitor) armed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.arms...)
}

type harness struct {
	backend *fakeBackend
	monitor *fakeMonitor
	state   *storage.StateStore
	sel     *selector.Selector
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.OpenState(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		backend: newFakeBackend(),
		monitor: &fakeMonitor{},
		state:   st,
	}
	h.build()
	return h
}

// build wires a fresh orchestrator over the same backend and state, as a
// process restart would.
func (h *harness) build() {
	h.sel = selector.New(h.backend, h.state)
	sessions := session.New(h.backend, h.state, nil)
	h.orch = New(h.backend, sessions, h.sel, h.monitor, h.state)
}

func (h *harness) persistedToken(t *testing.T) (string, bool) {
	t.Helper()
	token, ok, err := h.state.LoadToken()
	require.NoError(t, err)
	return token, ok
}
