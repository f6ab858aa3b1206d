package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/illarion/vaultguard/internal/vault"
)

const testIters = 1000

func newTestVault(t *testing.T, opts ...Option) (*Vault, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]Option{WithClock(clock), WithIterations(testIters)}, opts...)
	v := New(filepath.Join(t.TempDir(), "vaults"), opts...)
	t.Cleanup(func() { v.Close() })
	return v, clock
}

// unlock runs the full password flow and returns a session token.
func unlock(t *testing.T, v *Vault, path string, password []byte) string {
	t.Helper()
	ctx := context.Background()

	if err := v.InitializeDatabaseWithPath(ctx, password, path); err != nil {
		t.Fatalf("InitializeDatabaseWithPath failed: %v", err)
	}
	ok, err := v.VerifyMasterPassword(ctx, password)
	if err != nil || !ok {
		t.Fatalf("VerifyMasterPassword: ok=%v err=%v", ok, err)
	}
	token, err := v.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return token
}

func TestCreateNewVault(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	path, err := v.CreateNewVault(ctx, []byte("test123"))
	if err != nil {
		t.Fatalf("CreateNewVault failed: %v", err)
	}

	name := filepath.Base(path)
	if !strings.HasPrefix(name, vaultNamePrefix) || filepath.Ext(name) != ".db" {
		t.Errorf("Unexpected vault name %q", name)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Vault file should exist: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}

	ok, err := v.IsVaultFileValid(ctx, path)
	if err != nil || !ok {
		t.Errorf("Expected new vault to be valid, got ok=%v err=%v", ok, err)
	}

	second, err := v.CreateNewVault(ctx, []byte("test123"))
	if err != nil {
		t.Fatalf("Second CreateNewVault failed: %v", err)
	}
	if second == path {
		t.Error("Expected distinct vault paths")
	}
}

func TestCreateNewVault_EmptyPassword(t *testing.T) {
	v, _ := newTestVault(t)

	_, err := v.CreateNewVault(context.Background(), nil)
	if !errors.Is(err, vault.ErrVaultCreationFailed) {
		t.Errorf("Expected ErrVaultCreationFailed, got %v", err)
	}
}

func TestIsVaultFileValid(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	dir := t.TempDir()

	textFile := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textFile, []byte("not a database"), 0600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{textFile, filepath.Join(dir, "missing.db"), dir} {
		ok, err := v.IsVaultFileValid(ctx, path)
		if err != nil {
			t.Errorf("%s: unexpected error %v", path, err)
		}
		if ok {
			t.Errorf("%s: expected invalid", path)
		}
	}

	path, err := v.CreateNewVault(ctx, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	unlock(t, v, path, []byte("pw"))

	// checking the attached vault must not deadlock on its own file lock
	ok, err := v.IsVaultFileValid(ctx, path)
	if err != nil || !ok {
		t.Errorf("Expected attached vault to be valid, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyMasterPassword(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	path, err := v.CreateNewVault(ctx, []byte("correct"))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.InitializeDatabaseWithPath(ctx, []byte("wrong"), path); err != nil {
		t.Fatal(err)
	}

	ok, err := v.VerifyMasterPassword(ctx, []byte("wrong"))
	if err != nil || ok {
		t.Errorf("Expected wrong password to fail cleanly, got ok=%v err=%v", ok, err)
	}
	if _, err := v.CreateSession(ctx); !errors.Is(err, vault.ErrAuthFailure) {
		t.Errorf("CreateSession without verified password: expected ErrAuthFailure, got %v", err)
	}

	ok, err = v.VerifyMasterPassword(ctx, []byte("correct"))
	if err != nil || !ok {
		t.Errorf("Expected correct password to verify, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyMasterPassword_NotAttached(t *testing.T) {
	v, _ := newTestVault(t)

	_, err := v.VerifyMasterPassword(context.Background(), []byte("pw"))
	if !errors.Is(err, vault.ErrAuthFailure) {
		t.Errorf("Expected ErrAuthFailure, got %v", err)
	}
}

func TestInitializeDatabaseWithPath_InvalidFile(t *testing.T) {
	v, _ := newTestVault(t)
	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}

	err := v.InitializeDatabaseWithPath(context.Background(), []byte("pw"), path)
	if !errors.Is(err, vault.ErrInvalidVaultFile) {
		t.Errorf("Expected ErrInvalidVaultFile, got %v", err)
	}
}

func TestLockout(t *testing.T) {
	v, clock := newTestVault(t)
	ctx := context.Background()

	path, err := v.CreateNewVault(ctx, []byte("correct"))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.InitializeDatabaseWithPath(ctx, nil, path); err != nil {
		t.Fatal(err)
	}

	for i := 1; i < DefaultMaxAttempts; i++ {
		if ok, err := v.VerifyMasterPassword(ctx, []byte("wrong")); ok || err != nil {
			t.Fatalf("Attempt %d: ok=%v err=%v", i, ok, err)
		}
	}

	_, err = v.VerifyMasterPassword(ctx, []byte("wrong"))
	if !errors.Is(err, vault.ErrAuthFailure) || vault.UserMessage(err) != lockedOutMsg {
		t.Fatalf("Expected lockout on attempt %d, got %v", DefaultMaxAttempts, err)
	}

	// even the right password is refused while locked out
	if _, err := v.VerifyMasterPassword(ctx, []byte("correct")); vault.UserMessage(err) != lockedOutMsg {
		t.Errorf("Expected lockout to hold, got %v", err)
	}
	if err := v.InitializeDatabaseWithPath(ctx, nil, path); vault.UserMessage(err) != lockedOutMsg {
		t.Errorf("Expected lockout on initialize, got %v", err)
	}

	clock.Advance(DefaultLockoutDuration)
	ok, err := v.VerifyMasterPassword(ctx, []byte("correct"))
	if err != nil || !ok {
		t.Errorf("Expected unlock after lockout expiry, got ok=%v err=%v", ok, err)
	}
}

func TestChangePassword(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	path, err := v.CreateNewVault(ctx, []byte("old"))
	if err != nil {
		t.Fatal(err)
	}
	token := unlock(t, v, path, []byte("old"))

	saved, err := v.SaveNote(ctx, token, vault.Note{Title: "wifi", Content: "hunter2"})
	if err != nil {
		t.Fatal(err)
	}

	if err := v.ChangePassword(ctx, token, []byte("bad"), []byte("new")); !errors.Is(err, vault.ErrAuthFailure) {
		t.Errorf("Expected ErrAuthFailure for wrong current password, got %v", err)
	}
	if err := v.ChangePassword(ctx, token, []byte("old"), []byte("new")); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// the existing session keeps working
	if _, err := v.GetNote(ctx, token, saved.ID); err != nil {
		t.Errorf("Session should survive password change: %v", err)
	}

	if ok, _ := v.VerifyMasterPassword(ctx, []byte("old")); ok {
		t.Error("Old password should no longer verify")
	}
	token2 := unlock(t, v, path, []byte("new"))
	note, err := v.GetNote(ctx, token2, saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if note.Content != "hunter2" {
		t.Errorf("Expected content to survive password change, got %q", note.Content)
	}
}

func TestCompact(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	path, err := v.CreateNewVault(ctx, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	token := unlock(t, v, path, []byte("pw"))

	for i := 0; i < 20; i++ {
		c, err := v.SaveCredential(ctx, token, vault.Credential{Website: "example.com", Password: strings.Repeat("x", 4096)})
		if err != nil {
			t.Fatal(err)
		}
		if err := v.DeleteCredential(ctx, token, c.ID); err != nil {
			t.Fatal(err)
		}
	}

	if err := v.Compact(ctx, path); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	if ok, err := v.ValidateSession(ctx, token); err != nil || !ok {
		t.Errorf("Session should survive compaction, got ok=%v err=%v", ok, err)
	}
	if ok, err := v.IsVaultFileValid(ctx, path); err != nil || !ok {
		t.Errorf("Vault should stay valid after compaction, got ok=%v err=%v", ok, err)
	}
}

func TestCompact_DetachedFile(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	path, err := v.CreateNewVault(ctx, []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Compact(ctx, path); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if err := v.Compact(ctx, filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Error("Expected error compacting a missing file")
	}
}

func TestContextCancelled(t *testing.T) {
	v, _ := newTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.CreateNewVault(ctx, []byte("pw")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if _, err := v.ListNotes(ctx, "token"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestLockout_AcrossInstances(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	ctx := context.Background()
	open := func() *Vault { return New(dir, WithClock(clock), WithIterations(testIters)) }

	v := open()
	path, err := v.CreateNewVault(ctx, []byte("correct"))
	if err != nil {
		t.Fatal(err)
	}
	v.Close()

	// every attempt runs in a fresh instance, as separate CLI runs do
	for i := 1; i <= DefaultMaxAttempts; i++ {
		v := open()
		if err := v.InitializeDatabaseWithPath(ctx, nil, path); err != nil {
			t.Fatalf("Attempt %d: InitializeDatabaseWithPath failed: %v", i, err)
		}
		ok, err := v.VerifyMasterPassword(ctx, []byte("wrong"))
		if ok {
			t.Fatalf("Attempt %d: wrong password verified", i)
		}
		if i < DefaultMaxAttempts && err != nil {
			t.Fatalf("Attempt %d: unexpected error %v", i, err)
		}
		if i == DefaultMaxAttempts && vault.UserMessage(err) != lockedOutMsg {
			t.Fatalf("Attempt %d: expected lockout, got %v", i, err)
		}
		v.Close()
	}

	v = open()
	defer v.Close()
	if err := v.InitializeDatabaseWithPath(ctx, nil, path); vault.UserMessage(err) != lockedOutMsg {
		t.Errorf("Expected lockout on a new instance, got %v", err)
	}
	if ok, err := v.VerifyMasterPassword(ctx, []byte("correct")); ok || vault.UserMessage(err) != lockedOutMsg {
		t.Errorf("Expected correct password to be refused while locked, got ok=%v err=%v", ok, err)
	}

	clock.Advance(DefaultLockoutDuration)
	if ok, err := v.VerifyMasterPassword(ctx, []byte("correct")); err != nil || !ok {
		t.Errorf("Expected unlock after lockout expiry, got ok=%v err=%v", ok, err)
	}
}

func TestInitializeDatabaseWithPath_WrongPasswordKeepsAttachedVault(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	a, err := v.CreateNewVault(ctx, []byte("pw-a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.CreateNewVault(ctx, []byte("pw-b"))
	if err != nil {
		t.Fatal(err)
	}
	token := unlock(t, v, a, []byte("pw-a"))
	if _, err := v.SaveCredential(ctx, token, vault.Credential{Website: "example.com"}); err != nil {
		t.Fatal(err)
	}

	if err := v.InitializeDatabaseWithPath(ctx, nil, b); err != nil {
		t.Fatal(err)
	}
	if ok, err := v.VerifyMasterPassword(ctx, []byte("wrong")); ok || err != nil {
		t.Fatalf("Expected wrong password to fail cleanly, got ok=%v err=%v", ok, err)
	}

	if v.Path() != a {
		t.Errorf("Expected %s to stay attached, got %s", a, v.Path())
	}
	creds, err := v.ListCredentials(ctx, token)
	if err != nil {
		t.Fatalf("Session of the attached vault should still work: %v", err)
	}
	if len(creds) != 1 {
		t.Errorf("Expected 1 credential, got %d", len(creds))
	}

	// the staged vault still accepts its own password
	if ok, err := v.VerifyMasterPassword(ctx, []byte("pw-b")); err != nil || !ok {
		t.Fatalf("Expected staged vault to verify, got ok=%v err=%v", ok, err)
	}
	if v.Path() != b {
		t.Errorf("Expected %s to be attached after verify, got %s", b, v.Path())
	}
}

func TestLockSession_AfterSwitch(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	a, err := v.CreateNewVault(ctx, []byte("pw-a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.CreateNewVault(ctx, []byte("pw-b"))
	if err != nil {
		t.Fatal(err)
	}

	tokenA := unlock(t, v, a, []byte("pw-a"))
	tokenB := unlock(t, v, b, []byte("pw-b"))
	if v.Path() != b {
		t.Fatalf("Expected %s attached, got %s", b, v.Path())
	}

	if err := v.LockSession(ctx, tokenA); err != nil {
		t.Fatalf("LockSession failed: %v", err)
	}
	if ok, err := v.ValidateSession(ctx, tokenB); err != nil || !ok {
		t.Errorf("Locking the old session must not touch the new one, got ok=%v err=%v", ok, err)
	}

	if err := v.AttachVault(ctx, a); err != nil {
		t.Fatal(err)
	}
	if ok, _ := v.ValidateSession(ctx, tokenA); ok {
		t.Error("Old session should be gone from the vault that issued it")
	}
}
