package event

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeyPair holds a device identity: an ed25519 key pair with the public
// half doubling as the event Author field (hex-encoded).
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NewKeyPair generates a fresh device identity.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// ParsePrivateKey reconstructs a KeyPair from a hex-encoded ed25519 seed.
func ParsePrivateKey(hexSeed string) (*KeyPair, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("parse private key: want %d-byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// AuthorID returns the hex public key used as the Author field.
func (kp *KeyPair) AuthorID() string {
	return hex.EncodeToString(kp.Public)
}

// Seed returns the hex-encoded private seed for persistence.
func (kp *KeyPair) Seed() string {
	return hex.EncodeToString(kp.Private.Seed())
}

// Sign computes the event's ID and signature in place. The Author field
// is set from the key pair; any existing ID/Sig values are overwritten.
func Sign(e *Event, kp *KeyPair) error {
	e.Author = kp.AuthorID()
	id, err := ComputeID(e)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	e.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("sign: decode id: %w", err)
	}
	sig := ed25519.Sign(kp.Private, idBytes)
	e.Sig = hex.EncodeToString(sig)
	return nil
}

// Verify checks that the event's ID matches its content and that Sig is
// a valid signature by Author over the ID. Returns a typed
// ValidationError or SignatureError; nil means the event is authentic.
func Verify(e *Event) error {
	id, err := ComputeID(e)
	if err != nil {
		return &ValidationError{Code: RejectMalformed, Message: err.Error()}
	}
	if id != e.ID {
		return &ValidationError{
			Code:    RejectIDMismatch,
			Field:   "id",
			Message: "id does not match event content",
		}
	}

	pub, err := hex.DecodeString(e.Author)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return &ValidationError{
			Code:    RejectMalformed,
			Field:   "author",
			Message: "author is not a hex ed25519 public key",
		}
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return &SignatureError{EventID: e.ID, Author: e.Author}
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return &ValidationError{
			Code:    RejectMalformed,
			Field:   "id",
			Message: "id is not hex",
		}
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), idBytes, sig) {
		return &SignatureError{EventID: e.ID, Author: e.Author}
	}
	return nil
}

// Validate performs full structural and cryptographic validation:
// shape checks first, then ID and signature verification.
func Validate(e *Event) error {
	if e == nil {
		return &ValidationError{Code: RejectMalformed, Message: "nil event"}
	}
	if e.Author == "" {
		return &ValidationError{Code: RejectMalformed, Field: "author", Message: "author is required"}
	}
	if e.Kind < 0 {
		return &ValidationError{Code: RejectMalformed, Field: "kind", Message: "kind must be non-negative"}
	}
	if e.CreatedAt <= 0 {
		return &ValidationError{Code: RejectMalformed, Field: "created_at", Message: "created_at must be positive"}
	}
	if e.ID == "" {
		return &ValidationError{Code: RejectMalformed, Field: "id", Message: "id is required"}
	}
	return Verify(e)
}
