package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	VaultExt    = ".db"
	DirPermSafe = 0700
	FilePerm    = 0600
)

var (
	ErrPathEscapes  = errors.New("path escapes vault directory")
	ErrEmptyPath    = errors.New("empty path not allowed")
	ErrNotRegular   = errors.New("not a regular file")
	ErrBadExtension = errors.New("vault files must use the " + VaultExt + " extension")
)

// VaultDir confines vault file creation to a single directory using the
// os.Root API, so a crafted name can never place a vault elsewhere.
type VaultDir struct {
	root *os.Root
	path string
}

// OpenVaultDir creates the directory if needed and opens it as a root.
func OpenVaultDir(path string) (*VaultDir, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, DirPermSafe); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault directory: %w", err)
	}

	return &VaultDir{
		root: root,
		path: absPath,
	}, nil
}

// Close releases resources held by the VaultDir.
func (d *VaultDir) Close() error {
	if d.root != nil {
		return d.root.Close()
	}
	return nil
}

// Path returns the absolute directory path.
func (d *VaultDir) Path() string {
	return d.path
}

// ValidateName checks that name is a bare file name with the vault
// extension. It rejects:
// - Empty names
// - Names with directory components or parent references
// - Windows reserved names (CON, NUL, etc.)
// - Any extension other than .db
func (d *VaultDir) ValidateName(name string) error {
	if name == "" {
		return ErrEmptyPath
	}

	// filepath.IsLocal rejects absolute paths, escaping paths, reserved names
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	if !strings.EqualFold(filepath.Ext(name), VaultExt) {
		return fmt.Errorf("%w: %s", ErrBadExtension, name)
	}

	return nil
}

// Reserve exclusively creates an empty vault file inside the directory and
// returns its absolute path. It fails if the file already exists.
func (d *VaultDir) Reserve(name string) (string, error) {
	if err := d.ValidateName(name); err != nil {
		return "", fmt.Errorf("invalid vault name: %w", err)
	}

	f, err := d.root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, FilePerm)
	if err != nil {
		return "", fmt.Errorf("failed to create vault file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to create vault file: %w", err)
	}

	return filepath.Join(d.path, name), nil
}

// Remove deletes a file previously returned by Reserve.
func (d *VaultDir) Remove(name string) error {
	if err := d.ValidateName(name); err != nil {
		return fmt.Errorf("invalid vault name: %w", err)
	}
	return d.root.Remove(name)
}

// CleanVaultPath normalizes a user-supplied vault path to an absolute path
// and checks that it names an existing regular file.
func CleanVaultPath(userPath string) (string, error) {
	if strings.TrimSpace(userPath) == "" {
		return "", ErrEmptyPath
	}

	absPath, err := filepath.Abs(userPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, absPath)
	}

	return absPath, nil
}
