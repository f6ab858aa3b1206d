// Package security holds filesystem safety checks for vault files: new
// vaults are confined to the configured vault directory, and paths opened by
// the user must name existing regular files.
package security
