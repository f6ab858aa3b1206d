package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/vaultguard/internal/storage"
)

func openState(t *testing.T) *storage.StateStore {
	t.Helper()
	st, err := storage.OpenState(filepath.Join(t.TempDir(), StateFileName))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLoadSettings_DefaultsWhenMissing(t *testing.T) {
	s, err := LoadSettings(openState(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, 5*time.Second, s.ClipboardTTL())
}

func TestLoadSettings_MissingKeysTakeDefaults(t *testing.T) {
	st := openState(t)
	require.NoError(t, st.Put(storage.KeySettings, []byte(`{"autoLockTimeoutMinutes": 15}`)))

	s, err := LoadSettings(st)
	require.NoError(t, err)
	assert.Equal(t, 15, s.AutoLockTimeoutMinutes)
	assert.Equal(t, DefaultClearClipboardTimeoutSeconds, s.ClearClipboardTimeoutSeconds)
}

func TestLoadSettings_Corrupt(t *testing.T) {
	st := openState(t)
	require.NoError(t, st.Put(storage.KeySettings, []byte(`{`)))

	s, err := LoadSettings(st)
	assert.Error(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	st := openState(t)
	want := Settings{AutoLockTimeoutMinutes: 0, ClearClipboardTimeoutSeconds: 30}

	require.NoError(t, SaveSettings(st, want))
	got, err := LoadSettings(st)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveSettings_RejectsNegative(t *testing.T) {
	err := SaveSettings(openState(t), Settings{AutoLockTimeoutMinutes: -1})
	assert.Error(t, err)
}

func TestSettings_GetSet(t *testing.T) {
	s := DefaultSettings()

	require.NoError(t, s.Set(SettingAutoLock, "10"))
	v, err := s.Get(SettingAutoLock)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	assert.Error(t, s.Set(SettingClipboard, "soon"))
	assert.Error(t, s.Set(SettingClipboard, "-3"))
	assert.Equal(t, DefaultClearClipboardTimeoutSeconds, s.ClearClipboardTimeoutSeconds)

	assert.Error(t, s.Set("theme", "dark"))
	_, err = s.Get("theme")
	assert.Error(t, err)
}
