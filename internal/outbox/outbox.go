package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tay1862/kinsaep-core/internal/event"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	// StatusPending: eligible for delivery once NextRetryAt passes.
	StatusPending Status = "pending"

	// StatusSending: handed to a drain; flipped back to pending on
	// restart if the process dies mid-delivery.
	StatusSending Status = "sending"

	// StatusFailed: last attempt failed; becomes eligible again at
	// NextRetryAt.
	StatusFailed Status = "failed"

	// StatusDead: exceeded the attempt budget or permanently rejected
	// by a sink. Terminal; surfaced to an operator, never retried
	// automatically.
	StatusDead Status = "dead"
)

// Item is one queued event with its delivery state.
type Item struct {
	ID            string
	Seq           int64
	Event         *event.Event
	Status        Status
	Attempts      int
	LastAttemptAt time.Time
	NextRetryAt   time.Time
	LastError     string
}

// Backoff tunes the retry schedule: delay = Base * 2^(attempts-1),
// capped at Cap. Items reaching MaxAttempts go dead.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff mirrors the configured defaults: 2s base, 5m cap,
// 5 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Cap: 5 * time.Minute, MaxAttempts: 5}
}

// Delay returns the wait after the given (1-based) attempt count.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS outbox (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    event_id        TEXT NOT NULL,
    payload         TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_attempt_at INTEGER NOT NULL DEFAULT 0,
    next_retry_at   INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, next_retry_at, seq);
`

// Queue is the durable outbox. It attaches to an existing SQLite
// handle (normally the event store's) and owns only its own tables.
type Queue struct {
	db *sql.DB
	bo Backoff
}

// New applies the outbox schema and recovers items stuck in sending
// from a previous run. Safe to call on every start.
func New(db *sql.DB, bo Backoff) (*Queue, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("outbox schema: %w", err)
	}
	q := &Queue{db: db, bo: bo}
	if err := q.recoverStuck(); err != nil {
		return nil, err
	}
	return q, nil
}

// recoverStuck flips sending items back to pending. Items mid-flight
// at crash time are re-delivered (at-least-once).
func (q *Queue) recoverStuck() error {
	_, err := q.db.Exec(
		`UPDATE outbox SET status = ? WHERE status = ?`,
		StatusPending, StatusSending,
	)
	if err != nil {
		return fmt.Errorf("outbox recover: %w", err)
	}
	return nil
}

// Enqueue appends an event to the queue. Duplicate event ids are
// absorbed: re-enqueueing an event already queued is a no-op, which
// keeps local write paths idempotent.
func (q *Queue) Enqueue(ctx context.Context, ev *event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("enqueue: marshal event: %w", err)
	}

	var n int
	err = q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_id = ? AND status != ?`,
		ev.ID, StatusDead).Scan(&n)
	if err != nil {
		return fmt.Errorf("enqueue: check duplicate: %w", err)
	}
	if n > 0 {
		return nil
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO outbox (id, event_id, payload) VALUES (?, ?, ?)
	`, uuid.NewString(), ev.ID, string(payload))
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Drain returns every item eligible for delivery at now, in FIFO
// order, and atomically marks them sending. The caller must resolve
// each item with MarkConfirmed, MarkFailed or MarkDead; unresolved
// items are recovered as pending on the next Open.
func (q *Queue) Drain(ctx context.Context, now time.Time) ([]Item, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("drain: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, id, payload, status, attempts, last_attempt_at, next_retry_at, last_error
		FROM outbox
		WHERE status IN (?, ?) AND next_retry_at <= ?
		ORDER BY seq ASC
	`, StatusPending, StatusFailed, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("drain: query: %w", err)
	}

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("drain: iterate: %w", err)
	}
	rows.Close()

	for i := range items {
		_, err := tx.ExecContext(ctx,
			`UPDATE outbox SET status = ? WHERE id = ?`, StatusSending, items[i].ID)
		if err != nil {
			return nil, fmt.Errorf("drain: mark sending: %w", err)
		}
		items[i].Status = StatusSending
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("drain: commit: %w", err)
	}
	return items, nil
}

// MarkConfirmed removes a fully-delivered item. This is the ONLY way
// an item leaves the queue.
func (q *Queue) MarkConfirmed(ctx context.Context, itemID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("mark confirmed: %w", err)
	}
	return nil
}

// MarkFailed records a transient delivery failure: attempts is
// incremented, the next eligible retry time follows the capped
// exponential backoff, and items exceeding the attempt budget go dead.
func (q *Queue) MarkFailed(ctx context.Context, itemID string, cause error, now time.Time) error {
	var attempts int
	err := q.db.QueryRowContext(ctx,
		`SELECT attempts FROM outbox WHERE id = ?`, itemID).Scan(&attempts)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	attempts++
	status := StatusFailed
	if attempts >= q.bo.MaxAttempts {
		status = StatusDead
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = ?, attempts = ?, last_attempt_at = ?, next_retry_at = ?, last_error = ?
		WHERE id = ?
	`, status, attempts, now.Unix(), now.Add(q.bo.Delay(attempts)).Unix(), msg, itemID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Release returns a sending item to pending without consuming an
// attempt. Used when delivery was cancelled (caller timeout) rather
// than refused: a cancelled publish is never confirmed, so the item
// must stay eligible for retry.
func (q *Queue) Release(ctx context.Context, itemID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE id = ? AND status = ?`,
		StatusPending, itemID, StatusSending)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

// MarkDead moves an item straight to the terminal dead state,
// bypassing the retry budget. Used for permanent sink rejections.
func (q *Queue) MarkDead(ctx context.Context, itemID string, cause error, now time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = ?, attempts = attempts + 1, last_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, StatusDead, now.Unix(), msg, itemID)
	if err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	return nil
}

// Dead lists dead items for operator intervention.
func (q *Queue) Dead(ctx context.Context) ([]Item, error) {
	return q.listByStatus(ctx, StatusDead)
}

// List returns every item in the queue in FIFO order, regardless of
// status. Used by the operator CLI.
func (q *Queue) List(ctx context.Context) ([]Item, error) {
	return q.list(ctx, `SELECT seq, id, payload, status, attempts, last_attempt_at, next_retry_at, last_error
		FROM outbox ORDER BY seq ASC`)
}

// PendingCount returns the number of items not yet confirmed or dead.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE status != ?`, StatusDead).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outbox pending count: %w", err)
	}
	return n, nil
}

// Requeue resets a dead item to pending with a clean attempt budget.
// An operator action, taken after the underlying cause is fixed.
func (q *Queue) Requeue(ctx context.Context, itemID string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = ?, attempts = 0, next_retry_at = 0, last_error = ''
		WHERE id = ? AND status = ?
	`, StatusPending, itemID, StatusDead)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("requeue: item %q is not dead or does not exist", itemID)
	}
	return nil
}

func (q *Queue) listByStatus(ctx context.Context, status Status) ([]Item, error) {
	return q.list(ctx, `SELECT seq, id, payload, status, attempts, last_attempt_at, next_retry_at, last_error
		FROM outbox WHERE status = ? ORDER BY seq ASC`, status)
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox list: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox list: iterate: %w", err)
	}
	return items, nil
}

func scanItem(rows *sql.Rows) (Item, error) {
	var (
		item        Item
		payload     string
		lastAttempt int64
		nextRetry   int64
	)
	err := rows.Scan(&item.Seq, &item.ID, &payload, &item.Status,
		&item.Attempts, &lastAttempt, &nextRetry, &item.LastError)
	if err != nil {
		return Item{}, fmt.Errorf("scan outbox item: %w", err)
	}

	var ev event.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Item{}, fmt.Errorf("scan outbox item %s: %w", item.ID, err)
	}
	item.Event = &ev
	if lastAttempt > 0 {
		item.LastAttemptAt = time.Unix(lastAttempt, 0)
	}
	if nextRetry > 0 {
		item.NextRetryAt = time.Unix(nextRetry, 0)
	}
	return item, nil
}
