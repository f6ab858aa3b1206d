// Package vault defines the contract between the lock/unlock core and the
// encrypted storage engine that actually holds credentials and notes.
//
// The core never talks to a vault file directly. It depends on Backend,
// which exposes:
//   - vault file validation and creation
//   - master password verification and store initialization
//   - session mint, validation and lock
//   - CRUD for credential and note records, authorized by a session token
//
// Errors returned across this boundary are classified with the sentinels
// in errors.go so callers can branch with errors.Is and render a form error
// with UserMessage.
package vault
