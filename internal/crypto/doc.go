// Package crypto provides cryptographic operations for vaultguard vault files.
//
// Key hierarchy:
//   - KEK: derived from the master password via PBKDF2-HMAC-SHA256
//     (32-byte random salt, 210,000 iterations)
//   - DEK: 32 random bytes, stored wrapped under the KEK; encrypts records
//   - Session key: derived from a session token via HKDF-SHA256; wraps the
//     DEK so an unlocked session can reach records without the password
//
// All wrapping and record encryption uses AES-256-GCM with a 12-byte random
// nonce prepended to the ciphertext.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
