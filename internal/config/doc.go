// Package config loads vaultguard configuration and user settings.
//
// Configuration (where files live, how the session token is stored, logging)
// comes from, in increasing precedence:
//   - built-in defaults under os.UserConfigDir()/vaultguard
//   - <data_dir>/config.toml, or the file given with --config
//   - VAULTGUARD_* environment variables
//   - command-line flags (applied by cmd)
//
// Settings (auto-lock and clipboard timeouts) are user preferences kept as
// JSON in the local state store; missing keys take their defaults.
package config
