package event

// Tag is an ordered (name, value) pair attached to an event.
// Tags are used for filtering and cross-referencing, e.g. linking an
// order event to the session it belongs to.
type Tag [2]string

// Name returns the tag name (first element).
func (t Tag) Name() string { return t[0] }

// Value returns the tag value (second element).
func (t Tag) Value() string { return t[1] }

// Event is the atomic unit of state.
//
// For replaceable kinds, exactly one event per (Author, Kind,
// Discriminator) is "current" at any time; the rest are retained as
// history. Which one is current is decided by Supersedes, never by
// arrival order.
type Event struct {
	// ID is the content-derived identifier, hex SHA-256.
	// Immutable once assigned; computed by ComputeID.
	ID string `json:"id"`

	// Author is the hex-encoded ed25519 public key of the writer.
	Author string `json:"author"`

	// Kind classifies the record's business meaning. The kind range
	// (not the individual kind) selects the persistence contract.
	Kind int `json:"kind"`

	// Discriminator scopes a replaceable event to one logical entity,
	// e.g. one product id. Empty for non-replaceable kinds.
	Discriminator string `json:"d"`

	// CreatedAt is the writer-supplied unix timestamp (seconds).
	// It is the primary tie-breaker for replaceable supersession.
	CreatedAt int64 `json:"created_at"`

	// Tags is an ordered list of (name, value) pairs.
	Tags []Tag `json:"tags"`

	// Content is the opaque payload: plaintext JSON, or a serialized
	// envelope.Envelope for sensitive kinds.
	Content string `json:"content"`

	// Sig is the hex ed25519 signature over the ID.
	// The ID already commits to every other field, so signing the ID
	// binds authorship to the full event content.
	Sig string `json:"sig"`
}

// Key identifies the logical entity a replaceable event belongs to.
type Key struct {
	Author        string
	Kind          int
	Discriminator string
}

// EntityKey returns the (author, kind, discriminator) key for the event.
func (e *Event) EntityKey() Key {
	return Key{Author: e.Author, Kind: e.Kind, Discriminator: e.Discriminator}
}

// TagValue returns the value of the first tag with the given name,
// and whether such a tag exists.
func (e *Event) TagValue(name string) (string, bool) {
	for _, t := range e.Tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

// TagValues returns every value carried by tags with the given name,
// preserving tag order.
func (e *Event) TagValues(name string) []string {
	var vals []string
	for _, t := range e.Tags {
		if t.Name() == name {
			vals = append(vals, t.Value())
		}
	}
	return vals
}

// Supersedes reports whether e replaces other under the deterministic
// last-write-wins order: strictly greater CreatedAt wins; on equal
// CreatedAt the lexicographically greater ID wins.
//
// This comparison is a strict total order over distinct events, which
// makes replaceable merges commutative and idempotent: any two devices
// observing the same pair of events in either order agree on the winner.
func (e *Event) Supersedes(other *Event) bool {
	if e.CreatedAt != other.CreatedAt {
		return e.CreatedAt > other.CreatedAt
	}
	return e.ID > other.ID
}
