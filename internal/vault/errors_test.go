package vault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("open vault: %w", NewError(ErrAuthFailure, "Account temporarily locked", nil))

	assert.True(t, errors.Is(err, ErrAuthFailure))
	assert.False(t, errors.Is(err, ErrSessionInvalid))
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrVaultCreationFailed, "", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk full")
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"backend message wins", NewError(ErrAuthFailure, "Account temporarily locked due to too many failed attempts", nil), "Account temporarily locked due to too many failed attempts"},
		{"fallback for bare kind", ErrInvalidVaultFile, "Selected file is not a valid vault database"},
		{"fallback through wrapping", fmt.Errorf("login: %w", NewError(ErrAuthFailure, "", nil)), "Invalid master password. Please try again."},
		{"unknown error", errors.New("boom"), "An unexpected error occurred. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("keeps backend message", func(t *testing.T) {
		backendErr := NewError(ErrAuthFailure, "vault file is corrupted", nil)
		err := Classify(ErrInvalidVaultFile, backendErr)

		assert.ErrorIs(t, err, ErrInvalidVaultFile)
		assert.Equal(t, "vault file is corrupted", UserMessage(err))
	})

	t.Run("same kind passes through", func(t *testing.T) {
		in := NewError(ErrAuthFailure, "locked", nil)
		assert.Same(t, in, Classify(ErrAuthFailure, in))
	})

	t.Run("plain error gets fallback", func(t *testing.T) {
		err := Classify(ErrVaultCreationFailed, errors.New("permission denied"))
		assert.ErrorIs(t, err, ErrVaultCreationFailed)
		assert.Equal(t, "Failed to create vault. Please try again.", UserMessage(err))
	})
}
