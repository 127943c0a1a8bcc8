package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tay1862/kinsaep-core/internal/envelope"
	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/outbox"
	"github.com/tay1862/kinsaep-core/internal/store"
)

const engineSchemaSQL = `
CREATE TABLE IF NOT EXISTS sink_cursors (
    sink      TEXT PRIMARY KEY,
    last_seen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sink_acks (
    item_id TEXT NOT NULL,
    sink    TEXT NOT NULL,
    PRIMARY KEY (item_id, sink)
);
`

// Engine orchestrates push (local -> sinks) and pull (sinks -> local).
// It embeds no timers or goroutines: callers drive PushOnce/PullOnce
// on their own schedule.
type Engine struct {
	store  *store.Store
	queue  *outbox.Queue
	svc    *envelope.Service
	policy Policy
	keys   *event.KeyPair

	// groupCode supplies key material for argon2id policy kinds.
	groupCode string

	sinks []Sink
	db    *sql.DB
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGroupCode sets the trust-group code used for argon2id policy
// kinds.
func WithGroupCode(code string) Option {
	return func(e *Engine) { e.groupCode = code }
}

// WithClock overrides the wall clock. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the store's database. The per-sink cursor
// and acknowledgement tables are created if missing.
func New(s *store.Store, q *outbox.Queue, svc *envelope.Service, policy Policy, keys *event.KeyPair, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:  s,
		queue:  q,
		svc:    svc,
		policy: policy,
		keys:   keys,
		db:     s.DB(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := e.db.Exec(engineSchemaSQL); err != nil {
		return nil, fmt.Errorf("syncer schema: %w", err)
	}
	return e, nil
}

// AddSink registers a sink. Sinks must be registered before the first
// PushOnce so acknowledgements stay complete.
func (e *Engine) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// Sinks returns the registered sink names.
func (e *Engine) Sinks() []string {
	names := make([]string, len(e.sinks))
	for i, s := range e.sinks {
		names[i] = s.Name()
	}
	return names
}

// Draft is a local write before encryption, signing and id assignment.
type Draft struct {
	Kind          int
	Discriminator string
	Tags          []event.Tag
	Payload       []byte

	// CreatedAt defaults to the engine clock when zero.
	CreatedAt int64
}

// Write is the single local write path: applies the encryption policy,
// signs, applies to the store, and enqueues for sync.
//
// Sensitive kinds are enveloped BEFORE signing, so the ID and
// signature commit to the ciphertext and every sink and peer store
// sees the same bytes. Local writes always succeed into the store and
// queue even while every sink is unreachable.
func (e *Engine) Write(ctx context.Context, d Draft) (*event.Event, error) {
	content := string(d.Payload)
	if alg, ok := e.policy.AlgorithmFor(d.Kind); ok {
		if alg != envelope.AlgAES256GCM && alg != envelope.AlgArgon2id {
			return nil, fmt.Errorf("write: policy algorithm %q needs a recipient key the engine does not hold", alg)
		}
		env, err := e.svc.Encrypt(d.Payload, e.envelopeOptions(alg))
		if err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		content, err = env.Marshal()
		if err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
	}

	createdAt := d.CreatedAt
	if createdAt == 0 {
		createdAt = e.now().Unix()
	}
	ev := &event.Event{
		Kind:          d.Kind,
		Discriminator: d.Discriminator,
		CreatedAt:     createdAt,
		Tags:          d.Tags,
		Content:       content,
	}
	if err := event.Sign(ev, e.keys); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	res, err := e.store.Put(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	if res.Status == store.StatusNoop {
		return nil, fmt.Errorf("write: event lost the merge against a newer local state")
	}

	// Ephemeral kinds still travel to sinks; everything else is
	// already durable locally before the enqueue.
	if err := e.queue.Enqueue(ctx, ev); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	return ev, nil
}

// OpenContent returns an event's payload, decrypting the envelope for
// sensitive kinds. Plaintext content passes through untouched.
func (e *Engine) OpenContent(ev *event.Event) ([]byte, error) {
	if !envelope.IsEnvelope(ev.Content) {
		return []byte(ev.Content), nil
	}
	env, err := envelope.Parse(ev.Content)
	if err != nil {
		return nil, err
	}
	return e.svc.Decrypt(env, e.envelopeOptions(env.Algorithm))
}

func (e *Engine) envelopeOptions(alg envelope.Algorithm) envelope.Options {
	return envelope.Options{Algorithm: alg, Code: e.groupCode}
}

// Author returns the device's author public key.
func (e *Engine) Author() string {
	return e.keys.AuthorID()
}

// Store exposes the underlying event store for read paths.
func (e *Engine) Store() *store.Store {
	return e.store
}

// PushReport summarizes one PushOnce pass.
type PushReport struct {
	Confirmed int
	Retried   int
	Dead      int
}

// PushOnce drains the outbox and publishes each item to every sink.
//
// Per-sink acknowledgements make sink failures independent: a sink
// that already acked an item is never re-published on retry, so a
// relay outage cannot block or duplicate deliveries to the relational
// sink. An item is confirmed only when every registered sink acked it.
//
// A context cancellation mid-publish releases the item back to pending
// without consuming a retry attempt: a cancelled publish is never
// confirmed, so at-least-once delivery holds.
func (e *Engine) PushOnce(ctx context.Context) (PushReport, error) {
	var report PushReport

	items, err := e.queue.Drain(ctx, e.now())
	if err != nil {
		return report, fmt.Errorf("push: %w", err)
	}

	for _, item := range items {
		var firstFailure error
		dead := false

		for _, sink := range e.sinks {
			acked, err := e.acked(ctx, item.ID, sink.Name())
			if err != nil {
				return report, fmt.Errorf("push: %w", err)
			}
			if acked {
				continue
			}

			pubErr := sink.Publish(ctx, item.Event)
			if pubErr == nil {
				if err := e.setAck(ctx, item.ID, sink.Name()); err != nil {
					return report, fmt.Errorf("push: %w", err)
				}
				continue
			}
			if ctx.Err() != nil {
				// Cancelled mid-flight: the item stays pending. The
				// release uses a fresh context because the caller's
				// is already dead.
				if err := e.queue.Release(context.Background(), item.ID); err != nil {
					return report, fmt.Errorf("push: %w", err)
				}
				return report, ctx.Err()
			}
			if IsPermanent(pubErr) {
				if err := e.queue.MarkDead(ctx, item.ID, pubErr, e.now()); err != nil {
					return report, fmt.Errorf("push: %w", err)
				}
				if err := e.clearAcks(ctx, item.ID); err != nil {
					return report, fmt.Errorf("push: %w", err)
				}
				report.Dead++
				dead = true
				break
			}
			if firstFailure == nil {
				firstFailure = pubErr
			}
		}

		if dead {
			continue
		}
		if firstFailure != nil {
			if err := e.queue.MarkFailed(ctx, item.ID, firstFailure, e.now()); err != nil {
				return report, fmt.Errorf("push: %w", err)
			}
			report.Retried++
			continue
		}
		if err := e.queue.MarkConfirmed(ctx, item.ID); err != nil {
			return report, fmt.Errorf("push: %w", err)
		}
		if err := e.clearAcks(ctx, item.ID); err != nil {
			return report, fmt.Errorf("push: %w", err)
		}
		report.Confirmed++
	}

	return report, nil
}

// PullOnce fetches candidate events from one sink, starting at the
// sink's cursor, and applies each through store.Put. The cursor is
// inclusive, so the boundary second is re-fetched; the store's
// idempotent merge absorbs the duplicates.
//
// Returns the number of events newly applied.
func (e *Engine) PullOnce(ctx context.Context, sinkName string) (int, error) {
	sink := e.sink(sinkName)
	if sink == nil {
		return 0, fmt.Errorf("pull: unknown sink %q", sinkName)
	}

	cursor, err := e.cursor(ctx, sinkName)
	if err != nil {
		return 0, err
	}

	events, err := sink.Query(ctx, store.Filter{Since: cursor})
	if err != nil {
		return 0, fmt.Errorf("pull from %s: %w", sinkName, err)
	}

	applied := 0
	maxSeen := cursor
	for _, ev := range events {
		res, err := e.store.Put(ctx, ev)
		if err != nil {
			// Invalid remote events are dropped, not fatal: one bad
			// peer must not stall the pull cursor.
			continue
		}
		if res.Status == store.StatusApplied {
			applied++
		}
		if ev.CreatedAt > maxSeen {
			maxSeen = ev.CreatedAt
		}
	}

	if maxSeen > cursor {
		if err := e.setCursor(ctx, sinkName, maxSeen); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// PullStream applies events from a sink subscription until ctx is done
// or the stream closes. Used for push-based delivery notifications.
func (e *Engine) PullStream(ctx context.Context, sinkName string, f store.Filter) error {
	sink := e.sink(sinkName)
	if sink == nil {
		return fmt.Errorf("pull stream: unknown sink %q", sinkName)
	}

	stream, err := sink.Subscribe(ctx, f)
	if err != nil {
		return fmt.Errorf("pull stream from %s: %w", sinkName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return nil
			}
			// Same drop-invalid policy as PullOnce.
			if _, err := e.store.Put(ctx, ev); err != nil {
				continue
			}
		}
	}
}

func (e *Engine) sink(name string) Sink {
	for _, s := range e.sinks {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (e *Engine) cursor(ctx context.Context, sink string) (int64, error) {
	var last int64
	err := e.db.QueryRowContext(ctx,
		`SELECT last_seen FROM sink_cursors WHERE sink = ?`, sink).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cursor for %s: %w", sink, err)
	}
	return last, nil
}

func (e *Engine) setCursor(ctx context.Context, sink string, lastSeen int64) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO sink_cursors (sink, last_seen) VALUES (?, ?)
		ON CONFLICT(sink) DO UPDATE SET last_seen = excluded.last_seen
	`, sink, lastSeen)
	if err != nil {
		return fmt.Errorf("set cursor for %s: %w", sink, err)
	}
	return nil
}

func (e *Engine) acked(ctx context.Context, itemID, sink string) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sink_acks WHERE item_id = ? AND sink = ?`,
		itemID, sink).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check ack: %w", err)
	}
	return n > 0, nil
}

func (e *Engine) setAck(ctx context.Context, itemID, sink string) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO sink_acks (item_id, sink) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, itemID, sink)
	if err != nil {
		return fmt.Errorf("set ack: %w", err)
	}
	return nil
}

func (e *Engine) clearAcks(ctx context.Context, itemID string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM sink_acks WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("clear acks: %w", err)
	}
	return nil
}
