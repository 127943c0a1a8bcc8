package syncer

import "github.com/tay1862/kinsaep-core/internal/envelope"

// Policy decides which kinds are enveloped before leaving the device,
// and with which algorithm. The mapping is configuration: nothing in
// the engine hard-codes an entity type.
//
// Only algorithms the engine can key from its own material are valid
// targets: aes256gcm (device keyring) and argon2id (group code). The
// key-exchange algorithms need a per-recipient public key, which a
// kind-keyed mapping cannot name; Write rejects them.
type Policy struct {
	// Sensitive maps kind -> envelope algorithm. Kinds absent from the
	// map travel as plaintext.
	Sensitive map[int]envelope.Algorithm
}

// AlgorithmFor returns the envelope algorithm for a kind, or ok=false
// for plaintext kinds.
func (p Policy) AlgorithmFor(kind int) (envelope.Algorithm, bool) {
	alg, ok := p.Sensitive[kind]
	return alg, ok
}
