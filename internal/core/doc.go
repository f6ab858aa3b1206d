// Package core implements the local vault engine behind vault.Backend.
//
// A vault is a single bbolt file:
//   - config: format version, timestamps, PBKDF2 salt and iterations, the
//     failed attempt count and lock deadline, and the data key wrapped
//     under the key derived from the master password
//   - credentials, notes: records as JSON encrypted with the data key
//   - sessions: one entry per live session, keyed by the SHA-256 of its
//     token and holding the data key wrapped under a key derived from the
//     token
//
// Unlocking follows InitializeDatabaseWithPath, VerifyMasterPassword and
// CreateSession. After that, record operations need only the token, which
// also lets a restarted process keep using a session it persisted.
// Sessions expire after DefaultSessionTimeout of inactivity. Repeated
// wrong passwords lock a vault for DefaultLockoutDuration, and the lock is
// kept in the vault file so it holds across processes.
package core
