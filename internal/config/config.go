package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	AppName        = "vaultguard"
	ConfigFileName = "config.toml"
	StateFileName  = "state.db"
	vaultDirName   = "vaults"
)

// Token store backends
const (
	TokenStoreKeyring = "keyring"
	TokenStoreFile    = "file"
)

type Config struct {
	DataDir    string    `toml:"data_dir"`
	VaultDir   string    `toml:"vault_dir"`
	TokenStore string    `toml:"token_store"`
	Log        LogConfig `toml:"log"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// LoadDefaults populates c with defaults. VaultDir is left empty and
// derived from DataDir once all sources are applied.
func (c *Config) LoadDefaults() error {
	base, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("could not determine config directory: %w", err)
	}
	c.DataDir = filepath.Join(base, AppName)
	c.VaultDir = ""
	c.TokenStore = TokenStoreKeyring
	c.Log = LogConfig{Level: "warn", Format: "text"}
	return nil
}

// Flags carries command-line overrides. Empty fields are ignored.
type Flags struct {
	DataDir    string
	VaultDir   string
	TokenStore string
	LogLevel   string
	LogFormat  string
}

// Load builds a Config from defaults, the TOML file at path and the
// environment. An empty path means <data_dir>/config.toml, which may be
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, Flags{})
}

// LoadWithFlags is Load with flags applied last. A DataDir flag also moves
// the default config file.
func LoadWithFlags(path string, flags Flags) (*Config, error) {
	cfg := &Config{}
	if err := cfg.LoadDefaults(); err != nil {
		return nil, err
	}

	// VAULTGUARD_DATA_DIR decides where the default config file is looked up.
	if dir := os.Getenv("VAULTGUARD_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, ConfigFileName)
	}

	if err := LoadTOML(cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.applyFlags(flags)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFlags(f Flags) {
	overrides := []struct {
		dst *string
		v   string
	}{
		{&c.DataDir, f.DataDir},
		{&c.VaultDir, f.VaultDir},
		{&c.TokenStore, f.TokenStore},
		{&c.Log.Level, f.LogLevel},
		{&c.Log.Format, f.LogFormat},
	}
	for _, o := range overrides {
		if o.v != "" {
			*o.dst = o.v
		}
	}
}

// LoadTOML overlays the TOML file at path onto cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides applies:
//   - VAULTGUARD_DATA_DIR
//   - VAULTGUARD_VAULT_DIR
//   - VAULTGUARD_TOKEN_STORE
//   - VAULTGUARD_LOG_LEVEL
//   - VAULTGUARD_LOG_FORMAT
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("VAULTGUARD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VAULTGUARD_VAULT_DIR"); v != "" {
		c.VaultDir = v
	}
	if v := os.Getenv("VAULTGUARD_TOKEN_STORE"); v != "" {
		c.TokenStore = v
	}
	if v := os.Getenv("VAULTGUARD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VAULTGUARD_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// SetDefaults fills fields that depend on other fields.
func (c *Config) SetDefaults() {
	if c.VaultDir == "" {
		c.VaultDir = filepath.Join(c.DataDir, vaultDirName)
	}
	c.TokenStore = strings.ToLower(strings.TrimSpace(c.TokenStore))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	switch c.TokenStore {
	case TokenStoreKeyring, TokenStoreFile:
	default:
		errs = append(errs, fmt.Errorf("token_store must be %q or %q, got %q", TokenStoreKeyring, TokenStoreFile, c.TokenStore))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// StatePath is the local state database.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, StateFileName)
}
