package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/illarion/vaultguard/internal/core"
	"github.com/illarion/vaultguard/internal/security"
	"github.com/illarion/vaultguard/internal/selector"
	"github.com/illarion/vaultguard/internal/vault"
)

// NewPasswordEnv supplies the new master password for passwd
// non-interactively.
const NewPasswordEnv = "VAULTGUARD_NEW_PASSWORD"

// password retrieves the master password from the environment or prompts for it.
// The caller is responsible for calling crypto.ClearBytes on the result.
func (r *root) password(prompt string) ([]byte, error) {
	if password := core.PasswordFromEnv(); password != nil {
		return password, nil
	}

	password, err := r.env.prompt(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// newPassword reads a password to set, from envName or a confirmed prompt.
func (r *root) newPassword(envName string) ([]byte, error) {
	if v := os.Getenv(envName); v != "" {
		return []byte(v), nil
	}
	return core.ReadPasswordConfirm(r.env.prompt)
}

// describe turns an error into the line shown to the user and an optional hint.
func describe(err error) (msg, hint string) {
	switch {
	case errors.Is(err, errLocked):
		return "vault is locked", "Run 'vaultguard unlock' first"
	case errors.Is(err, vault.ErrNoCurrentVault):
		return vault.UserMessage(err), "Run 'vaultguard create' or 'vaultguard open <path>'"
	case errors.Is(err, vault.ErrSessionInvalid):
		return vault.UserMessage(err), "Run 'vaultguard unlock' to start a new session"
	case errors.Is(err, core.ErrPasswordMismatch):
		return err.Error(), ""
	case errors.Is(err, security.ErrEmptyPath), errors.Is(err, security.ErrNotRegular), errors.Is(err, os.ErrNotExist):
		return err.Error(), ""
	}

	var verr *vault.Error
	if errors.As(err, &verr) {
		return vault.UserMessage(err), ""
	}
	return err.Error(), ""
}

func vaultLabel(path string) string {
	if path == "" {
		return "(none)"
	}
	return fmt.Sprintf("%s (%s)", selector.DisplayName(path), path)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
