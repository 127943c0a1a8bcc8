package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tay1862/kinsaep-core/internal/event"
)

// ErrNotFound is returned by Get when no current event exists for the
// requested entity key.
var ErrNotFound = errors.New("event not found")

// Filter selects events for Query. Zero-value fields are unconstrained.
type Filter struct {
	// Kinds restricts to the listed kinds.
	Kinds []int

	// Authors restricts to the listed author public keys.
	Authors []string

	// Tags requires every listed (name, value) pair to be present.
	Tags []event.Tag

	// Since/Until bound CreatedAt inclusively. Zero means unbounded.
	Since int64
	Until int64

	// Limit caps the result count. Zero means unlimited.
	Limit int

	// IncludeHistory also returns superseded replaceable rows,
	// which are otherwise excluded.
	IncludeHistory bool
}

// Get returns the current event for (author, kind, discriminator), or
// ErrNotFound.
func (s *Store) Get(ctx context.Context, author string, kind int, discriminator string) (*event.Event, error) {
	ev, err := scanCurrent(ctx, s.db, event.Key{Author: author, Kind: kind, Discriminator: discriminator})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// GetByID returns the event with the given id, current or superseded,
// or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, author, kind, discriminator, created_at, tags, content, sig
		FROM events
		WHERE id = ?
	`, id)
	ev, err := scanEventRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event by id: %w", err)
	}
	return ev, nil
}

// Query returns all events matching the filter with deterministic
// ordering: created_at ASC, id ASC COLLATE BINARY. A fresh call
// always re-scans from the current snapshot.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Query(ctx context.Context, f Filter) ([]*event.Event, error) {
	query, args := buildQuery(f)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []*event.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// buildQuery assembles the SQL for a Filter.
func buildQuery(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if !f.IncludeHistory {
		conds = append(conds, "superseded = 0")
	}
	if len(f.Kinds) > 0 {
		conds = append(conds, "kind IN ("+placeholders(len(f.Kinds))+")")
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if len(f.Authors) > 0 {
		conds = append(conds, "author IN ("+placeholders(len(f.Authors))+")")
		for _, a := range f.Authors {
			args = append(args, a)
		}
	}
	for _, t := range f.Tags {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM event_tags
			WHERE event_tags.event_id = events.id
			  AND event_tags.name = ? AND event_tags.value = ?)`)
		args = append(args, t.Name(), t.Value())
	}
	if f.Since > 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.Until)
	}

	query := `SELECT id, author, kind, discriminator, created_at, tags, content, sig FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// CP-3: deterministic ordering
	query += " ORDER BY created_at ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	return query, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanCurrent fetches the current (non-superseded) row for an entity
// key. Returns sql.ErrNoRows through the scan when absent.
func scanCurrent(ctx context.Context, q querier, key event.Key) (*event.Event, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, author, kind, discriminator, created_at, tags, content, sig
		FROM events
		WHERE author = ? AND kind = ? AND discriminator = ? AND superseded = 0
	`, key.Author, key.Kind, key.Discriminator)
	return scanEventRow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventInto(sc rowScanner) (*event.Event, error) {
	var (
		ev       event.Event
		tagsJSON string
	)
	err := sc.Scan(&ev.ID, &ev.Author, &ev.Kind, &ev.Discriminator,
		&ev.CreatedAt, &tagsJSON, &ev.Content, &ev.Sig)
	if err != nil {
		return nil, err
	}
	ev.Tags, err = unmarshalTags(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("scan event %s: %w", ev.ID, err)
	}
	return &ev, nil
}

func scanEvent(rows *sql.Rows) (*event.Event, error) {
	ev, err := scanEventInto(rows)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return ev, nil
}

func scanEventRow(row *sql.Row) (*event.Event, error) {
	return scanEventInto(row)
}
