// Package envelope wraps and unwraps payloads in self-describing
// encrypted envelopes.
//
// An envelope carries everything needed to decrypt it besides the key
// material itself: the algorithm, the key id (for symmetric keys), the
// nonce and the authentication tag. Four algorithms form a closed set:
//
//   - aes256gcm: symmetric AES-256-GCM keyed by a keyring key id
//   - x25519v2: ECDH over X25519 + HKDF + XChaCha20-Poly1305
//   - x25519legacy: ECDH over X25519 + AES-256-GCM (back-compat)
//   - argon2id: password-derived AES-256-GCM (trust-group codes)
//
// Every encryption uses a fresh random nonce; nonce reuse under the
// same key is a correctness violation, so nonces are always drawn from
// crypto/rand and never supplied by callers.
//
// Decryption failures are typed DecryptionError values distinguishing
// wrong-key, malformed-envelope, unsupported-algorithm and
// tampered-ciphertext. A tampered ciphertext is always fatal to the
// operation; plaintext is never returned on authentication failure.
//
// The package has no dependency on the rest of the core.
package envelope
