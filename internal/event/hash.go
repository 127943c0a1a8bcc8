package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEvent is the domain prefix for event identity.
// Version suffix enables future algorithm migration.
const DomainEvent = "kinsaep/event/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeID returns the content-addressed ID for an event. The ID is
// stable across devices and restarts given the same hashable fields;
// ID and Sig are excluded from the hash input.
func ComputeID(e *Event) (string, error) {
	canonical, err := canonicalForm(e)
	if err != nil {
		return "", fmt.Errorf("ComputeID: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustComputeID is like ComputeID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustComputeID(e *Event) string {
	id, err := ComputeID(e)
	if err != nil {
		panic(err)
	}
	return id
}
