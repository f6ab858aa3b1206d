package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/illarion/vaultguard/internal/storage"
)

// Settings defaults
const (
	DefaultAutoLockTimeoutMinutes       = 5
	DefaultClearClipboardTimeoutSeconds = 5
)

// Setting keys accepted by Get and Set
const (
	SettingAutoLock  = "autoLockTimeoutMinutes"
	SettingClipboard = "clearClipboardTimeoutSeconds"
)

// Settings are user preferences. A zero timeout disables the feature.
type Settings struct {
	AutoLockTimeoutMinutes       int `json:"autoLockTimeoutMinutes"`
	ClearClipboardTimeoutSeconds int `json:"clearClipboardTimeoutSeconds"`
}

func DefaultSettings() Settings {
	return Settings{
		AutoLockTimeoutMinutes:       DefaultAutoLockTimeoutMinutes,
		ClearClipboardTimeoutSeconds: DefaultClearClipboardTimeoutSeconds,
	}
}

func (s Settings) ClipboardTTL() time.Duration {
	return time.Duration(s.ClearClipboardTimeoutSeconds) * time.Second
}

func (s Settings) Validate() error {
	if s.AutoLockTimeoutMinutes < 0 {
		return fmt.Errorf("%s must not be negative", SettingAutoLock)
	}
	if s.ClearClipboardTimeoutSeconds < 0 {
		return fmt.Errorf("%s must not be negative", SettingClipboard)
	}
	return nil
}

// Get returns the value of the named setting.
func (s Settings) Get(key string) (int, error) {
	switch key {
	case SettingAutoLock:
		return s.AutoLockTimeoutMinutes, nil
	case SettingClipboard:
		return s.ClearClipboardTimeoutSeconds, nil
	default:
		return 0, fmt.Errorf("unknown setting %q", key)
	}
}

// Set parses value and assigns it to the named setting.
func (s *Settings) Set(key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", key, value)
	}

	next := *s
	switch key {
	case SettingAutoLock:
		next.AutoLockTimeoutMinutes = n
	case SettingClipboard:
		next.ClearClipboardTimeoutSeconds = n
	default:
		return fmt.Errorf("unknown setting %q", key)
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

// LoadSettings reads settings from the state store. Missing keys take their
// defaults. An unreadable blob yields the defaults together with an error.
func LoadSettings(kv storage.KV) (Settings, error) {
	s := DefaultSettings()

	data, ok, err := kv.Get(storage.KeySettings)
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}
	if !ok {
		return s, nil
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}

func SaveSettings(kv storage.KV, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := kv.Put(storage.KeySettings, data); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
