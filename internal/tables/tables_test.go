package tables

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tay1862/kinsaep-core/internal/envelope"
	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/outbox"
	"github.com/tay1862/kinsaep-core/internal/store"
	"github.com/tay1862/kinsaep-core/internal/syncer"
	"github.com/tay1862/kinsaep-core/internal/testutil"
)

const fixedNow = int64(1756800000)

func newTestManager(t *testing.T) (*Manager, *syncer.Engine) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"), event.DefaultRanges())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q, err := outbox.New(s.DB(), outbox.DefaultBackoff())
	require.NoError(t, err)

	kr, err := envelope.NewKeyring(time.Hour)
	require.NoError(t, err)
	svc := envelope.NewService(kr)

	kp, err := event.NewKeyPair()
	require.NoError(t, err)

	kinds := DefaultKinds()
	policy := syncer.Policy{Sensitive: map[int]envelope.Algorithm{
		kinds.Session: envelope.AlgAES256GCM,
		kinds.Order:   envelope.AlgAES256GCM,
		kinds.Receipt: envelope.AlgAES256GCM,
	}}

	eng, err := syncer.New(s, q, svc, policy, kp)
	require.NoError(t, err)

	seq := 0
	clk := testutil.NewClock(time.Unix(fixedNow, 0))
	m := NewManager(eng, kinds,
		WithManagerClock(clk.Now),
		WithIDSource(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	return m, eng
}

func attachRecorded(t *testing.T, m *Manager, sessionID, orderID string, items []LineItem, total int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.RecordOrder(ctx, &Order{OrderID: orderID, Items: items, Total: total}))
	_, err := m.AttachOrder(ctx, sessionID, orderID, total)
	require.NoError(t, err)
}

func TestOpenCreatesActiveSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Empty(t, s.Orders)

	got, err := m.Session(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "T5", got.TableID)
	assert.Equal(t, StatusActive, got.Status)
}

func TestSessionNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Session(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAttachOrderAccumulates(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	attachRecorded(t, m, s.SessionID, "ord-1", nil, 58000)
	attachRecorded(t, m, s.SessionID, "ord-2", nil, 50000)

	got, err := m.Session(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1", "ord-2"}, got.Orders)
	assert.Equal(t, int64(108000), got.TotalAmount)
}

func TestAttachOrderIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	attachRecorded(t, m, s.SessionID, "ord-1", nil, 58000)

	// A second terminal attaching the same order changes nothing.
	_, err = m.AttachOrder(ctx, s.SessionID, "ord-1", 58000)
	require.NoError(t, err)

	got, err := m.Session(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1"}, got.Orders)
	assert.Equal(t, int64(58000), got.TotalAmount)
}

func TestNoPathBackward(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	attachRecorded(t, m, s.SessionID, "ord-1", nil, 58000)

	_, err = m.RequestBill(ctx, s.SessionID)
	require.NoError(t, err)

	// Attach after requesting the bill is rejected.
	_, err = m.AttachOrder(ctx, s.SessionID, "ord-2", 50000)
	require.True(t, IsTransitionError(err))
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusRequestingBill, te.From)

	// Requesting the bill twice is rejected.
	_, err = m.RequestBill(ctx, s.SessionID)
	require.True(t, IsTransitionError(err))

	// Settle, then every operation on the closed session is rejected.
	_, err = m.Settle(ctx, s.SessionID, "cash")
	require.NoError(t, err)
	_, err = m.Settle(ctx, s.SessionID, "cash")
	require.True(t, IsTransitionError(err))
	_, err = m.AttachOrder(ctx, s.SessionID, "ord-3", 1000)
	require.True(t, IsTransitionError(err))
}

func TestSettleRequiresBillRequest(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	_, err = m.Settle(ctx, s.SessionID, "cash")
	require.True(t, IsTransitionError(err))
}

func TestConsolidatedSettlement(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	attachRecorded(t, m, s.SessionID, "ord-1", nil, 58000)
	attachRecorded(t, m, s.SessionID, "ord-2", nil, 50000)
	attachRecorded(t, m, s.SessionID, "ord-3", nil, 50000)

	_, err = m.RequestBill(ctx, s.SessionID)
	require.NoError(t, err)
	r, err := m.Settle(ctx, s.SessionID, "cash")
	require.NoError(t, err)

	assert.Equal(t, int64(158000), r.Total)
	require.Len(t, r.Orders, 3)

	got, err := m.Session(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
}

func TestSettleRecomputesAfterVoid(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	attachRecorded(t, m, s.SessionID, "ord-1", nil, 58000)
	attachRecorded(t, m, s.SessionID, "ord-2", nil, 50000)
	attachRecorded(t, m, s.SessionID, "ord-3", nil, 50000)

	// Void ord-3 after attach: the running total still says 158000,
	// but settlement must read the order's current value.
	require.NoError(t, m.RecordOrder(ctx, &Order{OrderID: "ord-3", Total: 0}))

	cached, err := m.Session(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(158000), cached.TotalAmount)

	_, err = m.RequestBill(ctx, s.SessionID)
	require.NoError(t, err)
	r, err := m.Settle(ctx, s.SessionID, "cash")
	require.NoError(t, err)

	assert.Equal(t, int64(108000), r.Total)
	require.Len(t, r.Orders, 3)
	assert.Equal(t, int64(0), r.Orders[2].Total)
}

func TestSettleReadsRemoteOrderVersion(t *testing.T) {
	ctx := context.Background()
	m, eng := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	attachRecorded(t, m, s.SessionID, "ord-1", nil, 50000)

	// Another terminal discounts the order; its event arrives through
	// sync with a later timestamp and a different author.
	peer, err := event.NewKeyPair()
	require.NoError(t, err)
	discounted := &event.Event{
		Kind:          DefaultKinds().Order,
		Discriminator: "ord-1",
		CreatedAt:     fixedNow + 100,
		Content:       `{"order_id":"ord-1","total":40000}`,
	}
	require.NoError(t, event.Sign(discounted, peer))
	res, err := eng.Store().Put(ctx, discounted)
	require.NoError(t, err)
	require.Equal(t, store.StatusApplied, res.Status)

	_, err = m.RequestBill(ctx, s.SessionID)
	require.NoError(t, err)
	r, err := m.Settle(ctx, s.SessionID, "card")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), r.Total)
}

func TestConsolidatedReceiptGolden(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	s, err := m.Open(ctx, "T5")
	require.NoError(t, err)
	attachRecorded(t, m, s.SessionID, "ord-1",
		[]LineItem{{Name: "Grilled Fish", Quantity: 1, Price: 58000}}, 58000)
	attachRecorded(t, m, s.SessionID, "ord-2",
		[]LineItem{
			{Name: "Beer Lao", Quantity: 2, Price: 15000},
			{Name: "Sticky Rice", Quantity: 2, Price: 10000},
		}, 50000)
	attachRecorded(t, m, s.SessionID, "ord-3",
		[]LineItem{{Name: "Papaya Salad", Quantity: 2, Price: 25000}}, 50000)

	_, err = m.RequestBill(ctx, s.SessionID)
	require.NoError(t, err)
	r, err := m.Settle(ctx, s.SessionID, "cash")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "consolidated_receipt", []byte(RenderReceipt(r)))
}
