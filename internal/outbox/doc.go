// Package outbox provides the durable queue of locally-created events
// awaiting confirmation from every sync sink.
//
// The queue shares the event store's SQLite database. Items are
// drained in FIFO order (by insertion seq), retried with capped
// exponential backoff, and dead-lettered after a maximum attempt
// count so one poisoned item never starves the rest of the queue.
//
// # Crash Durability
//
// Delivery is at-least-once, never at-most-once: an item is deleted
// only on MarkConfirmed, and any item left in the sending state by an
// abrupt restart is flipped back to pending on Open. A crash between a
// sink ack and the confirmation write re-delivers the event; the event
// store's idempotent merge absorbs the duplicate on the remote side.
package outbox
