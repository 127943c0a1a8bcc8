// Package syncer reconciles the local event store with external sinks.
//
// A sink is anything satisfying the Sink contract: a relay network, a
// relational server, an in-memory test double. Sink failures are
// isolated per sink - a relay outage never blocks pushes to the
// relational sink - and each sink keeps its own pull cursor and its
// own per-item delivery acknowledgements.
//
// # Push
//
// PushOnce drains the outbox and publishes each item to every
// registered sink. An item is confirmed (and leaves the queue) only
// when every sink has acknowledged it; transient sink errors reschedule
// the item with backoff, permanent rejections dead-letter it for
// operator review.
//
// # Pull
//
// PullOnce queries a sink for events newer than the sink's cursor and
// applies each one through store.Put. The store's deterministic merge
// makes application idempotent and commutative, so the engine performs
// no additional dedup regardless of delivery order or duplication.
//
// # Encryption Policy
//
// Write is the single local write path: events of sensitive kinds are
// enveloped before they are signed, so the ciphertext is what the ID
// and signature commit to and what every sink and every peer store
// sees. Consumers read sensitive payloads through OpenContent.
//
// The engine embeds no timers: the caller drives PushOnce/PullOnce on
// its own schedule (CLI ticker, store change notification).
package syncer
