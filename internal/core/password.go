package core

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/illarion/vaultguard/internal/crypto"
)

// PasswordEnv names the environment variable that supplies the master
// password non-interactively.
const PasswordEnv = "VAULTGUARD_PASSWORD"

var ErrPasswordMismatch = errors.New("passwords do not match")

// PromptFunc shows prompt and reads one password without echo.
type PromptFunc func(prompt string) ([]byte, error)

// TerminalPrompt reads passwords from the terminal on fd, writing prompts to w.
func TerminalPrompt(w io.Writer, fd int) PromptFunc {
	return func(prompt string) ([]byte, error) {
		return ReadPassword(w, fd, prompt)
	}
}

// ReadPassword prints prompt to w and reads a password from the terminal
// on fd without echoing.
func ReadPassword(w io.Writer, fd int, prompt string) ([]byte, error) {
	fmt.Fprint(w, prompt)

	password, err := term.ReadPassword(fd)
	fmt.Fprintln(w) // New line after password

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(read PromptFunc) ([]byte, error) {
	password1, err := read("Enter master password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := read("Confirm master password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, ErrPasswordMismatch
	}

	// Return a copy of the password
	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// PasswordFromEnv reads the password from VAULTGUARD_PASSWORD
func PasswordFromEnv() []byte {
	password := os.Getenv(PasswordEnv)
	if password == "" {
		return nil
	}
	return []byte(password)
}

// StdinFD is the file descriptor of standard input.
func StdinFD() int {
	return int(os.Stdin.Fd())
}
