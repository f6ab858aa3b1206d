package selector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/vaultguard/internal/storage"
	"github.com/illarion/vaultguard/internal/vault"
)

type fakeBackend struct {
	valid     map[string]bool
	validErr  error
	newPath   string
	createErr error
}

func (f *fakeBackend) IsVaultFileValid(_ context.Context, path string) (bool, error) {
	if f.validErr != nil {
		return false, f.validErr
	}
	return f.valid[path], nil
}

func (f *fakeBackend) CreateNewVault(context.Context, []byte) (string, error) {
	return f.newPath, f.createErr
}

func newTestSelector(t *testing.T, be *fakeBackend) (*Selector, *storage.StateStore, *clockwork.FakeClock) {
	t.Helper()
	st, err := storage.OpenState(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(be, st, WithClock(clock)), st, clock
}

func TestRecordAccess_CapsAndOrders(t *testing.T) {
	s, _, clock := newTestSelector(t, &fakeBackend{})
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		require.NoError(t, s.RecordAccess(ctx, fmt.Sprintf("/vaults/v%d.db", i)))
		clock.Advance(time.Minute)
	}

	refs, err := s.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, refs, MaxRecent)

	want := []string{"/vaults/v6.db", "/vaults/v5.db", "/vaults/v4.db", "/vaults/v3.db", "/vaults/v2.db"}
	for i, r := range refs {
		assert.Equal(t, want[i], r.Path)
	}
	assert.Equal(t, "v6.db", refs[0].DisplayName)
}

func TestRecordAccess_DeduplicatesByPath(t *testing.T) {
	s, _, clock := newTestSelector(t, &fakeBackend{})
	ctx := context.Background()

	require.NoError(t, s.RecordAccess(ctx, "/a.db"))
	clock.Advance(time.Second)
	require.NoError(t, s.RecordAccess(ctx, "/b.db"))
	clock.Advance(time.Second)
	require.NoError(t, s.RecordAccess(ctx, "/a.db"))

	refs, err := s.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "/a.db", refs[0].Path)
	assert.Equal(t, clock.Now(), refs[0].LastAccessed.UTC())
	assert.Equal(t, "/b.db", refs[1].Path)
}

func TestListRecent_NormalizesStoredList(t *testing.T) {
	s, st, _ := newTestSelector(t, &fakeBackend{})
	ctx := context.Background()

	raw := `[
		{"path":"/old.db","lastAccessed":"2024-01-01T00:00:00Z"},
		{"path":"/new.db","name":"new.db","lastAccessed":"2024-02-01T00:00:00Z"},
		{"path":"/old.db","lastAccessed":"2023-01-01T00:00:00Z"}
	]`
	require.NoError(t, st.Put(storage.KeyRecentVaults, []byte(raw)))

	refs, err := s.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "/new.db", refs[0].Path)
	assert.Equal(t, "/old.db", refs[1].Path)
	assert.Equal(t, "old.db", refs[1].DisplayName)
}

func TestListRecent_IgnoresCorruptList(t *testing.T) {
	s, st, _ := newTestSelector(t, &fakeBackend{})
	require.NoError(t, st.Put(storage.KeyRecentVaults, []byte("{not json")))

	refs, err := s.ListRecent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestForget(t *testing.T) {
	s, _, _ := newTestSelector(t, &fakeBackend{})
	ctx := context.Background()

	require.NoError(t, s.RecordAccess(ctx, "/a.db"))
	require.NoError(t, s.Forget(ctx, "/a.db"))

	refs, err := s.ListRecent(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestSelectForOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		s, _, _ := newTestSelector(t, &fakeBackend{valid: map[string]bool{"/v.db": true}})
		path, err := s.SelectForOpen(ctx, "/v.db")
		require.NoError(t, err)
		assert.Equal(t, "/v.db", path)
	})

	t.Run("not a vault", func(t *testing.T) {
		s, _, _ := newTestSelector(t, &fakeBackend{})
		_, err := s.SelectForOpen(ctx, "/notes.txt")
		assert.ErrorIs(t, err, vault.ErrInvalidVaultFile)
		assert.Equal(t, "Selected file is not a valid vault database", vault.UserMessage(err))
	})

	t.Run("backend error keeps message", func(t *testing.T) {
		be := &fakeBackend{validErr: vault.NewError(vault.ErrInvalidVaultFile, "unsupported vault version", nil)}
		s, _, _ := newTestSelector(t, be)
		_, err := s.SelectForOpen(ctx, "/v.db")
		assert.ErrorIs(t, err, vault.ErrInvalidVaultFile)
		assert.Equal(t, "unsupported vault version", vault.UserMessage(err))
	})

	t.Run("empty path", func(t *testing.T) {
		s, _, _ := newTestSelector(t, &fakeBackend{})
		_, err := s.SelectForOpen(ctx, "")
		assert.ErrorIs(t, err, vault.ErrInvalidVaultFile)
	})
}

func TestCreateNew(t *testing.T) {
	ctx := context.Background()

	t.Run("success records and sets current", func(t *testing.T) {
		s, _, _ := newTestSelector(t, &fakeBackend{newPath: "/vaults/vault-1234.db"})

		ref, err := s.CreateNew(ctx, []byte("pw"))
		require.NoError(t, err)
		assert.Equal(t, "/vaults/vault-1234.db", ref.Path)
		assert.Equal(t, "vault-1234.db", ref.DisplayName)

		cur, ok, err := s.Current(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ref.Path, cur)

		refs, err := s.ListRecent(ctx)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, ref.Path, refs[0].Path)
	})

	t.Run("failure", func(t *testing.T) {
		s, _, _ := newTestSelector(t, &fakeBackend{createErr: errors.New("disk full")})

		_, err := s.CreateNew(ctx, []byte("pw"))
		assert.ErrorIs(t, err, vault.ErrVaultCreationFailed)

		_, ok, err := s.Current(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCurrent_SetAndClear(t *testing.T) {
	s, _, _ := newTestSelector(t, &fakeBackend{})
	ctx := context.Background()

	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCurrent(ctx, "/v.db"))
	cur, ok, err := s.Current(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/v.db", cur)

	require.NoError(t, s.ClearCurrent(ctx))
	_, ok, err = s.Current(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "work.db", DisplayName("/home/me/work.db"))
	assert.Equal(t, unknownVaultName, DisplayName(""))
	assert.Equal(t, unknownVaultName, DisplayName("/"))
}
