package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// HKDF info labels bind derived keys to one algorithm. A v2 envelope
// can never be opened with the legacy derivation even if the ECDH
// inputs match.
const (
	infoX25519V2     = "kinsaep/envelope/x25519/v2"
	infoX25519Legacy = "kinsaep/envelope/x25519/v1"
)

// Options selects the algorithm and supplies key material for one
// Encrypt or Decrypt call.
//
// Exactly one key source is consulted per algorithm:
//   - AlgAES256GCM: KeyID (empty means the keyring's active key)
//   - AlgX25519V2 / AlgX25519Legacy: LocalPrivate + RemotePublic
//   - AlgArgon2id: Code
type Options struct {
	Algorithm Algorithm

	// KeyID names a keyring key for the symmetric algorithm. On
	// encryption an empty KeyID selects the active key.
	KeyID string

	// LocalPrivate is our 32-byte X25519 scalar. ECDH is symmetric, so
	// the same options shape serves both directions.
	LocalPrivate []byte

	// RemotePublic is the peer's 32-byte X25519 public point.
	RemotePublic []byte

	// Code is the short human-entered trust-group code for the
	// password-derived algorithm.
	Code string
}

// Service is the single encrypt/decrypt entry point. Algorithm
// dispatch happens here, never at call sites.
type Service struct {
	keyring *Keyring
}

// NewService creates a Service backed by the given keyring. The
// keyring is only consulted for the symmetric algorithm.
func NewService(kr *Keyring) *Service {
	return &Service{keyring: kr}
}

// Encrypt wraps payload in an envelope using the selected algorithm.
// A fresh random nonce is drawn on every call.
func (s *Service) Encrypt(payload []byte, opts Options) (*Envelope, error) {
	switch opts.Algorithm {
	case AlgAES256GCM:
		keyID := opts.KeyID
		if keyID == "" {
			var err error
			keyID, err = s.keyring.ActiveKeyID()
			if err != nil {
				return nil, fmt.Errorf("encrypt: %w", err)
			}
		}
		key, err := s.keyring.EncryptionKey(keyID)
		if err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		env, err := sealAESGCM(key, payload)
		if err != nil {
			return nil, err
		}
		env.Algorithm = AlgAES256GCM
		env.KeyID = keyID
		return env, nil

	case AlgX25519V2:
		key, err := exchangeKey(opts, infoX25519V2)
		if err != nil {
			return nil, err
		}
		return sealXChaCha(key, payload)

	case AlgX25519Legacy:
		key, err := exchangeKey(opts, infoX25519Legacy)
		if err != nil {
			return nil, err
		}
		env, err := sealAESGCM(key, payload)
		if err != nil {
			return nil, err
		}
		env.Algorithm = AlgX25519Legacy
		return env, nil

	case AlgArgon2id:
		if opts.Code == "" {
			return nil, fmt.Errorf("encrypt: trust-group code is required")
		}
		env, err := sealAESGCM(DeriveGroupKey(opts.Code), payload)
		if err != nil {
			return nil, err
		}
		env.Algorithm = AlgArgon2id
		return env, nil

	default:
		return nil, fmt.Errorf("encrypt: unsupported algorithm %q", opts.Algorithm)
	}
}

// Decrypt opens an envelope. The envelope is self-describing: opts
// supplies key material only, the algorithm comes from the envelope.
// Failures are typed DecryptionError values.
func (s *Service) Decrypt(env *Envelope, opts Options) ([]byte, error) {
	if env == nil {
		return nil, &DecryptionError{Code: CodeMalformedEnvelope, Message: "nil envelope"}
	}
	if env.Version < 1 || env.Version > FormatVersion {
		return nil, &DecryptionError{
			Code:    CodeMalformedEnvelope,
			Message: fmt.Sprintf("unsupported envelope version %d", env.Version),
		}
	}

	switch env.Algorithm {
	case AlgAES256GCM:
		key, err := s.keyring.DecryptionKey(env.KeyID)
		if err != nil {
			return nil, err
		}
		return openAESGCM(key, env)

	case AlgX25519V2:
		key, err := exchangeKey(opts, infoX25519V2)
		if err != nil {
			return nil, &DecryptionError{Code: CodeWrongKey, Message: err.Error()}
		}
		return openXChaCha(key, env)

	case AlgX25519Legacy:
		key, err := exchangeKey(opts, infoX25519Legacy)
		if err != nil {
			return nil, &DecryptionError{Code: CodeWrongKey, Message: err.Error()}
		}
		return openAESGCM(key, env)

	case AlgArgon2id:
		if opts.Code == "" {
			return nil, &DecryptionError{Code: CodeWrongKey, Message: "trust-group code is required"}
		}
		return openAESGCM(DeriveGroupKey(opts.Code), env)

	default:
		return nil, &DecryptionError{
			Code:    CodeUnsupportedAlgorithm,
			Message: fmt.Sprintf("unknown algorithm %q", env.Algorithm),
		}
	}
}

// exchangeKey derives a 32-byte symmetric key from ECDH over X25519
// followed by HKDF-SHA256 expansion under an algorithm-specific label.
func exchangeKey(opts Options, info string) ([]byte, error) {
	if len(opts.LocalPrivate) != curve25519.ScalarSize {
		return nil, fmt.Errorf("local private key must be %d bytes", curve25519.ScalarSize)
	}
	if len(opts.RemotePublic) != curve25519.PointSize {
		return nil, fmt.Errorf("remote public key must be %d bytes", curve25519.PointSize)
	}
	shared, err := curve25519.X25519(opts.LocalPrivate, opts.RemotePublic)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, shared, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// sealAESGCM encrypts with AES-256-GCM under a fresh random nonce.
// The ciphertext and authentication tag are stored separately so the
// wire format stays explicit about both.
func sealAESGCM(key, plaintext []byte) (*Envelope, error) {
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm: %w", err)
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aes-gcm nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - gcm.Overhead()
	return &Envelope{
		Ciphertext: encode64(sealed[:split]),
		IV:         encode64(nonce),
		Tag:        encode64(sealed[split:]),
		Version:    FormatVersion,
	}, nil
}

// openAESGCM decrypts an AES-256-GCM envelope. Authentication failure
// maps to tampered-ciphertext and never yields plaintext.
func openAESGCM(key []byte, env *Envelope) ([]byte, error) {
	ct, err := decode64("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	nonce, err := decode64("iv", env.IV)
	if err != nil {
		return nil, err
	}
	tag, err := decode64("tag", env.Tag)
	if err != nil {
		return nil, err
	}

	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, &DecryptionError{Code: CodeWrongKey, Message: err.Error()}
	}
	gcm, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, &DecryptionError{Code: CodeMalformedEnvelope, Message: err.Error()}
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return nil, &DecryptionError{Code: CodeMalformedEnvelope, Message: "bad nonce or tag length"}
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, &DecryptionError{Code: CodeTamperedCiphertext, Message: "authentication failed"}
	}
	return plaintext, nil
}

// sealXChaCha encrypts with XChaCha20-Poly1305 under a fresh random
// 24-byte nonce.
func sealXChaCha(key, plaintext []byte) (*Envelope, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("xchacha nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - aead.Overhead()
	return &Envelope{
		Ciphertext: encode64(sealed[:split]),
		IV:         encode64(nonce),
		Tag:        encode64(sealed[split:]),
		Algorithm:  AlgX25519V2,
		Version:    FormatVersion,
	}, nil
}

// openXChaCha decrypts an XChaCha20-Poly1305 envelope.
func openXChaCha(key []byte, env *Envelope) ([]byte, error) {
	ct, err := decode64("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	nonce, err := decode64("iv", env.IV)
	if err != nil {
		return nil, err
	}
	tag, err := decode64("tag", env.Tag)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, &DecryptionError{Code: CodeWrongKey, Message: err.Error()}
	}
	if len(nonce) != aead.NonceSize() || len(tag) != aead.Overhead() {
		return nil, &DecryptionError{Code: CodeMalformedEnvelope, Message: "bad nonce or tag length"}
	}

	plaintext, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, &DecryptionError{Code: CodeTamperedCiphertext, Message: "authentication failed"}
	}
	return plaintext, nil
}
