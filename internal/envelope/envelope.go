package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Algorithm selects one member of the closed algorithm set.
type Algorithm string

const (
	// AlgAES256GCM is symmetric AES-256-GCM keyed by KeyID.
	AlgAES256GCM Algorithm = "aes256gcm"

	// AlgX25519V2 is ECDH over X25519 + HKDF-SHA256 +
	// XChaCha20-Poly1305. The preferred key-exchange algorithm.
	AlgX25519V2 Algorithm = "x25519v2"

	// AlgX25519Legacy is ECDH over X25519 + AES-256-GCM. Retained for
	// envelopes produced by older devices.
	AlgX25519Legacy Algorithm = "x25519legacy"

	// AlgArgon2id derives an AES-256-GCM key from a human-entered
	// code. Every device in a trust group derives the same key.
	AlgArgon2id Algorithm = "argon2id"
)

// FormatVersion is the current envelope wire-format version.
// Decrypt rejects envelopes claiming a newer version.
const FormatVersion = 1

// Envelope is the versioned wire and on-disk representation of an
// encrypted payload. It round-trips byte-for-byte through
// Marshal/Parse and through Encrypt/Decrypt.
type Envelope struct {
	Ciphertext string    `json:"ciphertext"`
	IV         string    `json:"iv,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Algorithm  Algorithm `json:"algorithm"`
	KeyID      string    `json:"keyId,omitempty"`
	Version    int       `json:"version"`
}

// Marshal serializes the envelope to its JSON wire form.
func (e *Envelope) Marshal() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// Parse deserializes an envelope from its JSON wire form.
// Returns a malformed-envelope DecryptionError on bad input.
func Parse(data string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, &DecryptionError{Code: CodeMalformedEnvelope, Message: err.Error()}
	}
	if e.Algorithm == "" || e.Ciphertext == "" {
		return nil, &DecryptionError{Code: CodeMalformedEnvelope, Message: "missing algorithm or ciphertext"}
	}
	return &e, nil
}

// IsEnvelope reports whether content looks like a serialized envelope.
// Used by the sync engine to decide whether a pulled event needs
// decryption before application.
func IsEnvelope(content string) bool {
	e, err := Parse(content)
	return err == nil && e.Version > 0
}

// decode64 decodes a base64 field, mapping failures to
// malformed-envelope.
func decode64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecryptionError{
			Code:    CodeMalformedEnvelope,
			Message: fmt.Sprintf("field %s is not base64", field),
		}
	}
	return b, nil
}

func encode64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
