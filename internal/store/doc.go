// Package store provides the SQLite-backed canonical local cache of
// versioned business records.
//
// The store is the single source of truth for "current" state: every
// mutation path (local write, remote pull) funnels through Put, which
// is the sole serialization point for conflict resolution.
//
// # Critical Patterns
//
// CP-1: Reject Before Mutation
//   - Validation and signature checks run before any write
//   - A rejected event leaves the store byte-identical
//
// CP-2: Deterministic Replaceable Merge
//   - One current row per (author, kind, discriminator)
//   - Incoming wins iff event.Supersedes(current); losers and demoted
//     rows are retained as history (superseded=1) for audit
//   - The merge is commutative and idempotent: any delivery order or
//     duplication converges to the same state
//
// CP-3: Deterministic Query Results
//   - All queries ORDER BY created_at ASC, id ASC COLLATE BINARY
//
// Every successful Put emits a change notification keyed by
// (kind, discriminator) so dependent subsystems react without polling.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
