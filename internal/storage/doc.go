// Package storage provides the BBolt database layer for vaultguard.
//
// Two kinds of database live here.
//
// A vault file (Storage) uses four buckets:
//   - config: KDF parameters (salt, iterations), wrapped data key, timestamps
//   - credentials: encrypted credential records
//   - notes: encrypted note records
//   - sessions: session records keyed by SHA-256 of the token
//
// The local state database (StateStore) uses a single state bucket for the
// entries that must survive outside any vault: current vault path, recent
// vault list, settings and optionally the session token.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
// The file lock is what keeps two processes from opening the same vault.
package storage
