package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tay1862/kinsaep-core/internal/event"
)

// Status reports how Put handled an event.
type Status int

const (
	// StatusApplied: the event was stored and is current (or is a
	// regular/ephemeral event that was accepted).
	StatusApplied Status = iota

	// StatusNoop: the event lost the deterministic tie-break against
	// the stored current event. Not an error; the loser is retained
	// as history.
	StatusNoop

	// StatusDuplicate: an event with this ID was already stored.
	// The store state is unchanged (idempotent application).
	StatusDuplicate
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusNoop:
		return "noop"
	case StatusDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result is the outcome of a successful (non-rejected) Put.
type Result struct {
	Event  *event.Event
	Status Status
}

// Put validates and applies an event.
//
// Validation runs before any mutation: a signature-invalid or
// schema-invalid event returns a typed rejection and the store is
// untouched. Accepted events dispatch on the kind's class:
//
//   - ephemeral: notify subscribers, persist nothing
//   - regular: idempotent insert; duplicates are silently absorbed
//   - replaceable: one transaction comparing (created_at, id) against
//     the stored current row; incoming wins iff Supersedes reports so
//
// The merge is commutative and idempotent, so Put is safe under
// arbitrary delivery order and duplication.
func (s *Store) Put(ctx context.Context, ev *event.Event) (Result, error) {
	if err := event.Validate(ev); err != nil {
		return Result{}, err
	}

	switch s.ranges.ClassOf(ev.Kind) {
	case event.ClassEphemeral:
		s.notifier.publish(Change{Kind: ev.Kind, Discriminator: ev.Discriminator, EventID: ev.ID})
		return Result{Event: ev, Status: StatusApplied}, nil

	case event.ClassReplaceable:
		return s.putReplaceable(ctx, ev)

	default:
		return s.putRegular(ctx, ev)
	}
}

// putRegular inserts an immutable fact. ON CONFLICT(id) DO NOTHING
// keeps duplicate delivery idempotent.
func (s *Store) putRegular(ctx context.Context, ev *event.Event) (Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("put regular: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	inserted, err := insertEvent(ctx, tx, ev, false)
	if err != nil {
		return Result{}, fmt.Errorf("put regular: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("put regular: commit: %w", err)
	}

	if !inserted {
		return Result{Event: ev, Status: StatusDuplicate}, nil
	}
	s.notifier.publish(Change{Kind: ev.Kind, Discriminator: ev.Discriminator, EventID: ev.ID})
	return Result{Event: ev, Status: StatusApplied}, nil
}

// putReplaceable applies the deterministic last-write-wins merge for
// one (author, kind, discriminator) entity.
func (s *Store) putReplaceable(ctx context.Context, ev *event.Event) (Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("put replaceable: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Duplicate ID: already absorbed, regardless of current/history.
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE id = ?`, ev.ID).Scan(&exists)
	if err != nil {
		return Result{}, fmt.Errorf("put replaceable: check duplicate: %w", err)
	}
	if exists > 0 {
		return Result{Event: ev, Status: StatusDuplicate}, nil
	}

	current, err := scanCurrent(ctx, tx, ev.EntityKey())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Result{}, fmt.Errorf("put replaceable: load current: %w", err)
	}

	if current != nil && !ev.Supersedes(current) {
		// Incoming loses the tie-break: retain as history, leave the
		// current row untouched.
		if _, err := insertEvent(ctx, tx, ev, true); err != nil {
			return Result{}, fmt.Errorf("put replaceable: retain loser: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Result{}, fmt.Errorf("put replaceable: commit: %w", err)
		}
		return Result{Event: ev, Status: StatusNoop}, nil
	}

	// Incoming wins: demote the previous current row, insert as current.
	if current != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE events SET superseded = 1 WHERE id = ?`, current.ID)
		if err != nil {
			return Result{}, fmt.Errorf("put replaceable: demote current: %w", err)
		}
	}
	if _, err := insertEvent(ctx, tx, ev, false); err != nil {
		return Result{}, fmt.Errorf("put replaceable: insert winner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("put replaceable: commit: %w", err)
	}

	s.notifier.publish(Change{Kind: ev.Kind, Discriminator: ev.Discriminator, EventID: ev.ID})
	return Result{Event: ev, Status: StatusApplied}, nil
}

// insertEvent writes the event row and its tag index entries.
// Returns whether a new row was actually inserted.
func insertEvent(ctx context.Context, tx *sql.Tx, ev *event.Event, superseded bool) (bool, error) {
	tagsJSON, err := marshalTags(ev.Tags)
	if err != nil {
		return false, err
	}

	flag := 0
	if superseded {
		flag = 1
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO events
		(id, author, kind, discriminator, created_at, tags, content, sig, superseded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		ev.Author,
		ev.Kind,
		ev.Discriminator,
		ev.CreatedAt,
		tagsJSON,
		ev.Content,
		ev.Sig,
		flag,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	for _, t := range ev.Tags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_tags (event_id, name, value) VALUES (?, ?, ?)
		`, ev.ID, t.Name(), t.Value())
		if err != nil {
			return false, fmt.Errorf("insert event tag: %w", err)
		}
	}

	return true, nil
}
