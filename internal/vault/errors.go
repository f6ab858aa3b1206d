package vault

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidVaultFile     = errors.New("invalid vault file")
	ErrAuthFailure          = errors.New("authentication failed")
	ErrSessionInvalid       = errors.New("session invalid")
	ErrVaultCreationFailed  = errors.New("vault creation failed")
	ErrClipboardWriteFailed = errors.New("clipboard write failed")
	ErrNoCurrentVault       = errors.New("no current vault")
	ErrNotFound             = errors.New("record not found")
)

// Error carries a classified failure together with the message the backend
// produced for it, if any.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// NewError classifies err under kind, keeping msg as the user-facing text.
func NewError(kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

var fallbackMessages = []struct {
	kind error
	msg  string
}{
	{ErrInvalidVaultFile, "Selected file is not a valid vault database"},
	{ErrAuthFailure, "Invalid master password. Please try again."},
	{ErrSessionInvalid, "Your session has expired. Please unlock the vault again."},
	{ErrVaultCreationFailed, "Failed to create vault. Please try again."},
	{ErrClipboardWriteFailed, "Failed to copy to clipboard"},
	{ErrNoCurrentVault, "No vault selected. Create a new vault or open an existing one."},
	{ErrNotFound, "The requested item does not exist"},
}

// UserMessage returns the text to show inline for err: the backend message
// when one was attached, otherwise a generic line for its kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *Error
	if errors.As(err, &verr) && verr.Message != "" {
		return verr.Message
	}
	for _, f := range fallbackMessages {
		if errors.Is(err, f.kind) {
			return f.msg
		}
	}
	return "An unexpected error occurred. Please try again."
}

// MessageOf returns the backend message attached to err, if any.
func MessageOf(err error) string {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Message
	}
	return ""
}

// Classify returns err as a failure of the given kind. Errors already of that
// kind pass through; others are wrapped, keeping any backend message.
func Classify(kind, err error) error {
	if err == nil {
		return NewError(kind, "", nil)
	}
	if errors.Is(err, kind) {
		return err
	}
	return NewError(kind, MessageOf(err), err)
}
