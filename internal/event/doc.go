// Package event defines the atomic unit of state for the sync core.
//
// An Event is a signed, content-addressed record authored by one device:
//   - ID: SHA-256 over the canonical JSON form (see hash.go)
//   - Author: hex-encoded ed25519 public key of the writer
//   - Kind: integer business classification; kind ranges select the
//     persistence contract (regular, replaceable, ephemeral)
//   - Discriminator: scopes a replaceable event to one logical entity
//   - CreatedAt: writer-supplied timestamp, the replaceable tie-breaker
//
// # Critical Patterns
//
// CP-1: Content-Addressed Identity
//   - IDs are computed from canonical JSON with domain separation
//   - The same logical event produces the same ID on every device
//
// CP-2: Deterministic Supersession
//   - For replaceable kinds, (CreatedAt, ID) is a total order
//   - Supersedes() is the ONLY comparison used anywhere in the system
//
// All validation happens before any store mutation; a malformed or
// signature-invalid event is rejected as a typed error, never applied
// partially.
package event
