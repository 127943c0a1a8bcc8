package envelope

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
)

// Argon2id parameters for trust-group key derivation. Tuned for
// interactive entry of short codes.
const (
	groupKeyMemory      uint32 = 64 * 1024
	groupKeyIterations  uint32 = 3
	groupKeyParallelism uint8  = 2
	groupKeyLength      uint32 = 32
)

// groupKeySalt is a fixed domain constant: the same code must yield the
// same key on every device, with no prior pairing.
var groupKeySalt = []byte("kinsaep/groupkey/v1")

// DeriveGroupKey deterministically derives a 32-byte symmetric key from
// a short human-entered trust-group code via Argon2id.
func DeriveGroupKey(code string) []byte {
	return argon2.IDKey([]byte(code), groupKeySalt,
		groupKeyIterations, groupKeyMemory, groupKeyParallelism, groupKeyLength)
}

// NewX25519KeyPair generates an X25519 key pair for the key-exchange
// algorithms.
func NewX25519KeyPair() (private, public []byte, err error) {
	private = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return nil, nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	return private, public, nil
}

// keyEntry is one symmetric key with its lifecycle state.
type keyEntry struct {
	Key []byte `json:"key"`

	// RetiredAt is zero while the key is active. After rotation it
	// records the rotation time; the key stays decrypt-only until
	// RetiredAt + grace window.
	RetiredAt time.Time `json:"retired_at,omitzero"`
}

// Keyring holds the device's symmetric keys. Exactly one key is active
// (used for new encryptions); rotated keys remain decrypt-only for a
// grace window so callers have time to re-encrypt old ciphertexts.
//
// Thread-safety: all methods are safe for concurrent use.
type Keyring struct {
	mu       sync.Mutex
	keys     map[string]*keyEntry
	activeID string
	grace    time.Duration
	now      func() time.Time
}

// NewKeyring creates a keyring with one freshly generated active key.
func NewKeyring(grace time.Duration) (*Keyring, error) {
	kr := &Keyring{
		keys:  make(map[string]*keyEntry),
		grace: grace,
		now:   time.Now,
	}
	if _, err := kr.addKey(); err != nil {
		return nil, err
	}
	return kr, nil
}

// ActiveKeyID returns the id of the key used for new encryptions.
func (kr *Keyring) ActiveKeyID() (string, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if kr.activeID == "" {
		return "", fmt.Errorf("keyring has no active key")
	}
	return kr.activeID, nil
}

// EncryptionKey returns the key material for keyID iff the key is
// still active. Rotated keys are decrypt-only.
func (kr *Keyring) EncryptionKey(keyID string) ([]byte, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	entry, ok := kr.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("unknown key %q", keyID)
	}
	if !entry.RetiredAt.IsZero() {
		return nil, fmt.Errorf("key %q is retired (decrypt-only)", keyID)
	}
	return entry.Key, nil
}

// DecryptionKey returns the key material for keyID. Retired keys stay
// usable until their grace deadline; past it, or for unknown ids, the
// result is a wrong-key DecryptionError.
func (kr *Keyring) DecryptionKey(keyID string) ([]byte, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	entry, ok := kr.keys[keyID]
	if !ok {
		return nil, &DecryptionError{
			Code:    CodeWrongKey,
			Message: fmt.Sprintf("unknown key %q", keyID),
		}
	}
	if !entry.RetiredAt.IsZero() && kr.now().After(entry.RetiredAt.Add(kr.grace)) {
		return nil, &DecryptionError{
			Code:    CodeWrongKey,
			Message: fmt.Sprintf("key %q grace window expired", keyID),
		}
	}
	return entry.Key, nil
}

// RotateKey retires oldKeyID (decrypt-only for the grace window) and
// generates a new active key, returning its id. Callers are
// responsible for re-encrypting ciphertexts still referencing the old
// key before the window closes.
func (kr *Keyring) RotateKey(oldKeyID string) (string, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	entry, ok := kr.keys[oldKeyID]
	if !ok {
		return "", fmt.Errorf("rotate key: unknown key %q", oldKeyID)
	}
	if entry.RetiredAt.IsZero() {
		entry.RetiredAt = kr.now()
	}

	newID, err := kr.addKey()
	if err != nil {
		return "", fmt.Errorf("rotate key: %w", err)
	}
	return newID, nil
}

// addKey generates a key, installs it as active, and returns its id.
// Caller must hold kr.mu (or be a constructor).
func (kr *Keyring) addKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	id := uuid.NewString()
	kr.keys[id] = &keyEntry{Key: key}
	kr.activeID = id
	return id, nil
}

// keyringFile is the on-disk representation.
type keyringFile struct {
	ActiveID string               `json:"active_id"`
	Keys     map[string]*keyEntry `json:"keys"`
}

// Save persists the keyring to path with owner-only permissions.
func (kr *Keyring) Save(path string) error {
	kr.mu.Lock()
	data, err := json.MarshalIndent(keyringFile{ActiveID: kr.activeID, Keys: kr.keys}, "", "  ")
	kr.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save keyring: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save keyring: %w", err)
	}
	return nil
}

// LoadKeyring restores a keyring from path.
func LoadKeyring(path string, grace time.Duration) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keyring: %w", err)
	}
	var f keyringFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("load keyring: %w", err)
	}
	if f.ActiveID == "" || f.Keys[f.ActiveID] == nil {
		return nil, fmt.Errorf("load keyring: no active key")
	}
	return &Keyring{
		keys:     f.Keys,
		activeID: f.ActiveID,
		grace:    grace,
		now:      time.Now,
	}, nil
}
