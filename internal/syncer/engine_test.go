package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tay1862/kinsaep-core/internal/envelope"
	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/outbox"
	"github.com/tay1862/kinsaep-core/internal/store"
	"github.com/tay1862/kinsaep-core/internal/testutil"
)

const (
	kindPlain     = 1100
	kindSensitive = 30700
)

func newTestEngine(t *testing.T, sinks ...Sink) (*Engine, *store.Store, *outbox.Queue) {
	eng, s, q, _ := newTestEngineClock(t, sinks...)
	return eng, s, q
}

func newTestEngineClock(t *testing.T, sinks ...Sink) (*Engine, *store.Store, *outbox.Queue, *testutil.Clock) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"), event.DefaultRanges())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q, err := outbox.New(s.DB(), outbox.Backoff{
		Base:        time.Millisecond,
		Cap:         time.Second,
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	kr, err := envelope.NewKeyring(time.Hour)
	require.NoError(t, err)
	svc := envelope.NewService(kr)

	kp, err := event.NewKeyPair()
	require.NoError(t, err)

	policy := Policy{Sensitive: map[int]envelope.Algorithm{
		kindSensitive: envelope.AlgAES256GCM,
	}}

	clk := testutil.NewClock(time.Unix(1756800000, 0))
	eng, err := New(s, q, svc, policy, kp,
		WithGroupCode("test-group"), WithClock(clk.Now))
	require.NoError(t, err)
	for _, sink := range sinks {
		eng.AddSink(sink)
	}
	return eng, s, q, clk
}

func TestWriteStoresAndEnqueues(t *testing.T) {
	ctx := context.Background()
	eng, s, q := newTestEngine(t)

	ev, err := eng.Write(ctx, Draft{
		Kind:    kindPlain,
		Payload: []byte(`{"sku":"coffee"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"sku":"coffee"}`, ev.Content)
	require.NoError(t, event.Validate(ev))

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriteEnvelopesSensitiveKinds(t *testing.T) {
	ctx := context.Background()
	eng, s, _ := newTestEngine(t)

	payload := []byte(`{"card_last4":"4242","total":158000}`)
	ev, err := eng.Write(ctx, Draft{
		Kind:          kindSensitive,
		Discriminator: "receipt-1",
		Payload:       payload,
	})
	require.NoError(t, err)

	// The stored content is ciphertext; the signature commits to it.
	assert.True(t, envelope.IsEnvelope(ev.Content))
	assert.NotContains(t, ev.Content, "4242")
	require.NoError(t, event.Validate(ev))

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	opened, err := eng.OpenContent(got)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
}

func TestOpenContentPassthrough(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	got, err := eng.OpenContent(&event.Event{Content: `{"plain":true}`})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"plain":true}`), got)
}

func TestPushConfirmsWhenAllSinksAck(t *testing.T) {
	ctx := context.Background()
	a := NewMemorySink("relay-a")
	b := NewMemorySink("relay-b")
	eng, _, q := newTestEngine(t, a, b)

	ev, err := eng.Write(ctx, Draft{Kind: kindPlain, Payload: []byte(`{}`)})
	require.NoError(t, err)

	report, err := eng.PushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushReport{Confirmed: 1}, report)
	assert.True(t, a.Has(ev.ID))
	assert.True(t, b.Has(ev.ID))

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPushSinkFailureIsolated(t *testing.T) {
	ctx := context.Background()
	healthy := NewMemorySink("relay-healthy")
	broken := NewMemorySink("relay-broken")
	broken.SetPublishError(errors.New("connection refused"))
	eng, _, q, clk := newTestEngineClock(t, healthy, broken)

	ev, err := eng.Write(ctx, Draft{Kind: kindPlain, Payload: []byte(`{}`)})
	require.NoError(t, err)

	report, err := eng.PushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushReport{Retried: 1}, report)
	assert.True(t, healthy.Has(ev.ID), "healthy sink delivery must not wait on the broken one")

	// The healthy sink acked; the retry must republish only to the
	// broken sink.
	before := healthy.Publishes()
	broken.SetPublishError(nil)
	clk.Advance(10 * time.Millisecond)

	report, err = eng.PushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushReport{Confirmed: 1}, report)
	assert.True(t, broken.Has(ev.ID))
	assert.Equal(t, before, healthy.Publishes())

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPushPermanentErrorDeadLetters(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink("relay")
	sink.SetPublishError(NewPermanentError("relay", errors.New("event too large")))
	eng, _, q := newTestEngine(t, sink)

	_, err := eng.Write(ctx, Draft{Kind: kindPlain, Payload: []byte(`{}`)})
	require.NoError(t, err)

	report, err := eng.PushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushReport{Dead: 1}, report)

	dead, err := q.Dead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].LastError, "event too large")
}

// cancellingSink cancels the push context during Publish, simulating a
// shutdown racing an in-flight delivery.
type cancellingSink struct {
	*MemorySink
	cancel context.CancelFunc
}

func (c *cancellingSink) Publish(ctx context.Context, ev *event.Event) error {
	c.cancel()
	return NewTransientError(c.Name(), context.Canceled)
}

func TestPushCancellationLeavesItemPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancellingSink{MemorySink: NewMemorySink("relay"), cancel: cancel}
	eng, _, q := newTestEngine(t, sink)

	_, err := eng.Write(ctx, Draft{Kind: kindPlain, Payload: []byte(`{}`)})
	require.NoError(t, err)

	_, err = eng.PushOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The item returned to pending without burning an attempt.
	items, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, outbox.StatusPending, items[0].Status)
	assert.Zero(t, items[0].Attempts)
}

func TestPullAppliesRemoteEvents(t *testing.T) {
	ctx := context.Background()
	remote := NewMemorySink("relay")
	eng, s, _ := newTestEngine(t, remote)

	peer, err := event.NewKeyPair()
	require.NoError(t, err)
	ev := &event.Event{
		Kind:      kindPlain,
		CreatedAt: time.Now().Unix(),
		Content:   `{"from":"peer"}`,
	}
	require.NoError(t, event.Sign(ev, peer))
	remote.Seed(ev)

	applied, err := eng.PullOnce(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, peer.AuthorID(), got.Author)

	// Replaying the same window applies nothing new.
	applied, err = eng.PullOnce(ctx, "relay")
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestPullSkipsInvalidRemoteEvents(t *testing.T) {
	ctx := context.Background()
	remote := NewMemorySink("relay")
	eng, _, _ := newTestEngine(t, remote)

	peer, err := event.NewKeyPair()
	require.NoError(t, err)
	good := &event.Event{Kind: kindPlain, CreatedAt: 100, Content: `{}`}
	require.NoError(t, event.Sign(good, peer))

	forged := &event.Event{Kind: kindPlain, CreatedAt: 50, Content: `{}`}
	require.NoError(t, event.Sign(forged, peer))
	forged.Content = `{"tampered":true}`
	remote.Seed(good, forged)

	applied, err := eng.PullOnce(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, 1, applied, "one bad peer event must not stall the pull")
}

func TestPullRemoteUpdateSupersedesLocal(t *testing.T) {
	ctx := context.Background()
	remote := NewMemorySink("relay")
	eng, s, _ := newTestEngine(t, remote)

	local, err := eng.Write(ctx, Draft{
		Kind:          kindSensitive,
		Discriminator: "table-5",
		Payload:       []byte(`{"status":"active"}`),
		CreatedAt:     1000,
	})
	require.NoError(t, err)

	peer, err := event.NewKeyPair()
	require.NoError(t, err)
	newer := &event.Event{
		Kind:          kindSensitive,
		Discriminator: "table-5",
		CreatedAt:     2000,
		Content:       `{"status":"closed"}`,
	}
	require.NoError(t, event.Sign(newer, peer))
	remote.Seed(newer)

	applied, err := eng.PullOnce(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	current, err := s.Query(ctx, store.Filter{Kinds: []int{kindSensitive}})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, newer.ID, current[0].ID)
	assert.NotEqual(t, local.ID, current[0].ID)
}

func TestWriteUnreachableSinksStillDurable(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink("relay")
	sink.SetPublishError(errors.New("network down"))
	eng, s, q := newTestEngine(t, sink)

	var ids []string
	for i := 0; i < 3; i++ {
		ev, err := eng.Write(ctx, Draft{
			Kind:      kindPlain,
			Payload:   []byte(`{}`),
			CreatedAt: int64(1000 + i),
		})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}

	_, err := eng.PushOnce(ctx)
	require.NoError(t, err)

	for _, id := range ids {
		_, err := s.GetByID(ctx, id)
		assert.NoError(t, err)
	}
	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSinkErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")

	transient := NewTransientError("relay", cause)
	assert.False(t, IsPermanent(transient))
	assert.ErrorIs(t, transient, cause)
	assert.Equal(t, "sink relay: transient error: connection refused", transient.Error())

	permanent := NewPermanentError("relay", errors.New("event too large"))
	assert.True(t, IsPermanent(permanent))
	assert.Contains(t, permanent.Error(), "permanent error: event too large")

	assert.False(t, IsPermanent(errors.New("unclassified")), "unclassified errors default to transient")
}

func TestWriteRejectsKeyExchangePolicy(t *testing.T) {
	ctx := context.Background()
	eng, s, _ := newTestEngine(t)
	eng.policy = Policy{Sensitive: map[int]envelope.Algorithm{
		kindSensitive: envelope.AlgX25519V2,
	}}

	_, err := eng.Write(ctx, Draft{
		Kind:    kindSensitive,
		Payload: []byte(`{"total":4200}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient key")

	evs, err := s.Query(ctx, store.Filter{Kinds: []int{kindSensitive}})
	require.NoError(t, err)
	assert.Empty(t, evs, "rejected write must not reach the store")
}

func TestPullStreamAppliesSubscribedEvents(t *testing.T) {
	remote := NewMemorySink("relay")
	eng, s, _ := newTestEngine(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- eng.PullStream(ctx, "relay", store.Filter{Kinds: []int{kindPlain}})
	}()
	require.Eventually(t, func() bool {
		return remote.Subscribers() == 1
	}, 2*time.Second, time.Millisecond, "stream must register its subscription")

	peer, err := event.NewKeyPair()
	require.NoError(t, err)
	ev := &event.Event{
		Kind:      kindPlain,
		CreatedAt: time.Now().Unix(),
		Content:   `{"from":"peer"}`,
	}
	require.NoError(t, event.Sign(ev, peer))
	require.NoError(t, remote.Publish(context.Background(), ev))

	require.Eventually(t, func() bool {
		_, err := s.GetByID(context.Background(), ev.ID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	got, err := s.GetByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, peer.AuthorID(), got.Author)
}
