// Package tables consolidates the orders of one seating into a single
// bill. A table session is a replaceable event carrying order id
// references only; orders are independent replaceable events, so each
// order reads and syncs on its own and a post-attach void flows into
// the settlement total.
//
// Entities in the store are keyed per author. Terminals collaborating
// on one session therefore each hold their own current row; the
// manager resolves "the" current session or order at read time by
// taking the event that supersedes all others across authors, the
// same rule the store applies within one author.
package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/store"
	"github.com/tay1862/kinsaep-core/internal/syncer"
)

// Status is a table session's lifecycle state.
type Status string

const (
	StatusActive         Status = "active"
	StatusRequestingBill Status = "requesting_bill"
	StatusClosed         Status = "closed"
)

// Kinds maps the session manager's record types to event kinds.
type Kinds struct {
	// Session and Order must fall in a replaceable range.
	Session int
	Order   int

	// BillRequest is the staff-facing prompt. Ephemeral: it carries
	// no monetary authority and is never persisted.
	BillRequest int

	// Receipt is the consolidated settlement record. Regular: an
	// immutable fact, never replaced.
	Receipt int
}

// DefaultKinds returns the kind assignments used when the
// configuration does not override them.
func DefaultKinds() Kinds {
	return Kinds{
		Session:     30500,
		Order:       30501,
		BillRequest: 20500,
		Receipt:     1500,
	}
}

// Session is the decoded payload of a session event.
type Session struct {
	SessionID string   `json:"session_id"`
	TableID   string   `json:"table_id"`
	StartTime int64    `json:"start_time"`
	Status    Status   `json:"status"`
	Orders    []string `json:"orders"`

	// TotalAmount is the running total recorded at attach time. It is
	// advisory: settlement recomputes from the orders themselves.
	TotalAmount int64 `json:"total_amount"`
}

// LineItem is one priced line on an order.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// Order is the decoded payload of an order event.
type Order struct {
	OrderID string     `json:"order_id"`
	Items   []LineItem `json:"items"`
	Total   int64      `json:"total"`
}

// BillRequest is the staff notification payload emitted by
// RequestBill. A prompt, not a charge.
type BillRequest struct {
	SessionID   string `json:"session_id"`
	TableID     string `json:"table_id"`
	OrderCount  int    `json:"order_count"`
	TotalAmount int64  `json:"total_amount"`
}

// Manager reads and writes session, order and receipt events through
// the sync engine, so the encryption policy and outbox apply to every
// write.
type Manager struct {
	engine *syncer.Engine
	kinds  Kinds
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	lastStamp int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the wall clock. Used in tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithIDSource overrides session/receipt id generation. Used in tests.
func WithIDSource(newID func() string) ManagerOption {
	return func(m *Manager) { m.newID = newID }
}

// NewManager creates a Manager using the given kind assignments.
func NewManager(engine *syncer.Engine, kinds Kinds, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine: engine,
		kinds:  kinds,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// stamp returns a strictly increasing created_at for this manager's
// writes. Timestamps carry second resolution, so two updates to the
// same entity inside one second would otherwise tie and resolve by
// hash, letting the older state win.
func (m *Manager) stamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now().Unix()
	if t <= m.lastStamp {
		t = m.lastStamp + 1
	}
	m.lastStamp = t
	return t
}

// stampAfter is stamp, additionally guaranteed to exceed the entity's
// current created_at. Replacing an event written by another process
// in the same second must still supersede it.
func (m *Manager) stampAfter(ctx context.Context, kind int, discriminator string) (int64, error) {
	cur, err := m.currentEvent(ctx, kind, discriminator)
	if err != nil {
		return 0, err
	}
	t := m.stamp()
	if cur != nil && t <= cur.CreatedAt {
		m.mu.Lock()
		t = cur.CreatedAt + 1
		if t > m.lastStamp {
			m.lastStamp = t
		}
		m.mu.Unlock()
	}
	return t, nil
}

// Open starts a new active session for a table and returns it.
func (m *Manager) Open(ctx context.Context, tableID string) (*Session, error) {
	s := &Session{
		SessionID: m.newID(),
		TableID:   tableID,
		StartTime: m.now().Unix(),
		Status:    StatusActive,
		Orders:    []string{},
	}
	if err := m.writeSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Session returns the current state of a session.
func (m *Manager) Session(ctx context.Context, sessionID string) (*Session, error) {
	ev, err := m.currentEvent(ctx, m.kinds.Session, sessionID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return m.decodeSession(ev)
}

// RecordOrder writes or replaces an order event. Recording an existing
// order id with a new total is how voids and discounts happen: the
// replaceable merge keeps the newest version, and settlement reads
// that version.
func (m *Manager) RecordOrder(ctx context.Context, o *Order) error {
	if o.OrderID == "" {
		o.OrderID = m.newID()
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	createdAt, err := m.stampAfter(ctx, m.kinds.Order, o.OrderID)
	if err != nil {
		return err
	}
	_, err = m.engine.Write(ctx, syncer.Draft{
		Kind:          m.kinds.Order,
		Discriminator: o.OrderID,
		Tags:          []event.Tag{{"order", o.OrderID}},
		Payload:       payload,
		CreatedAt:     createdAt,
	})
	return err
}

// Order returns the current state of an order.
func (m *Manager) Order(ctx context.Context, orderID string) (*Order, error) {
	ev, err := m.currentEvent(ctx, m.kinds.Order, orderID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	return m.decodeOrder(ev)
}

// AttachOrder appends an order reference to an active session and
// bumps the advisory running total. Valid only while active.
func (m *Manager) AttachOrder(ctx context.Context, sessionID, orderID string, orderTotal int64) (*Session, error) {
	s, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, &TransitionError{SessionID: sessionID, From: s.Status, Op: "attach order"}
	}
	for _, id := range s.Orders {
		if id == orderID {
			// Re-attach is a no-op: concurrent terminals may both
			// attach the same order.
			return s, nil
		}
	}
	s.Orders = append(s.Orders, orderID)
	s.TotalAmount += orderTotal
	if err := m.writeSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// RequestBill moves an active session to requesting_bill and emits
// the staff notification event.
func (m *Manager) RequestBill(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, &TransitionError{SessionID: sessionID, From: s.Status, Op: "request bill"}
	}
	s.Status = StatusRequestingBill
	if err := m.writeSession(ctx, s); err != nil {
		return nil, err
	}

	note, err := json.Marshal(&BillRequest{
		SessionID:   s.SessionID,
		TableID:     s.TableID,
		OrderCount:  len(s.Orders),
		TotalAmount: s.TotalAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("encode bill request: %w", err)
	}
	if _, err := m.engine.Write(ctx, syncer.Draft{
		Kind:      m.kinds.BillRequest,
		Tags:      []event.Tag{{"session", s.SessionID}, {"table", s.TableID}},
		Payload:   note,
		CreatedAt: m.stamp(),
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Settle produces the single consolidated receipt for a session in
// requesting_bill and closes it.
//
// The receipt total is recomputed from each attached order's current
// event, never taken from the session's running total: an order
// voided or discounted after attach settles at its current value.
func (m *Manager) Settle(ctx context.Context, sessionID, paymentRef string) (*Receipt, error) {
	s, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusRequestingBill {
		return nil, &TransitionError{SessionID: sessionID, From: s.Status, Op: "settle"}
	}

	r := &Receipt{
		ReceiptID:  m.newID(),
		SessionID:  s.SessionID,
		TableID:    s.TableID,
		SettledAt:  m.stamp(),
		PaymentRef: paymentRef,
	}
	for _, orderID := range s.Orders {
		o, err := m.Order(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("settle %s: %w", sessionID, err)
		}
		r.Orders = append(r.Orders, ReceiptOrder{OrderID: o.OrderID, Total: o.Total})
		r.Lines = append(r.Lines, o.Items...)
		r.Total += o.Total
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	tags := []event.Tag{{"session", s.SessionID}, {"table", s.TableID}}
	for _, ro := range r.Orders {
		tags = append(tags, event.Tag{"order", ro.OrderID})
	}
	if _, err := m.engine.Write(ctx, syncer.Draft{
		Kind:      m.kinds.Receipt,
		Tags:      tags,
		Payload:   payload,
		CreatedAt: r.SettledAt,
	}); err != nil {
		return nil, err
	}

	s.Status = StatusClosed
	if err := m.writeSession(ctx, s); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Manager) writeSession(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	createdAt, err := m.stampAfter(ctx, m.kinds.Session, s.SessionID)
	if err != nil {
		return err
	}
	_, err = m.engine.Write(ctx, syncer.Draft{
		Kind:          m.kinds.Session,
		Discriminator: s.SessionID,
		Tags:          []event.Tag{{"table", s.TableID}},
		Payload:       payload,
		CreatedAt:     createdAt,
	})
	return err
}

// currentEvent resolves the winning event for (kind, discriminator)
// across all authors. Returns nil when no event matches.
func (m *Manager) currentEvent(ctx context.Context, kind int, discriminator string) (*event.Event, error) {
	candidates, err := m.engine.Store().Query(ctx, store.Filter{Kinds: []int{kind}})
	if err != nil {
		return nil, err
	}
	var current *event.Event
	for _, ev := range candidates {
		if ev.Discriminator != discriminator {
			continue
		}
		if current == nil || ev.Supersedes(current) {
			current = ev
		}
	}
	return current, nil
}

func (m *Manager) decodeSession(ev *event.Event) (*Session, error) {
	data, err := m.engine.OpenContent(ev)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", ev.Discriminator, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", ev.Discriminator, err)
	}
	return &s, nil
}

func (m *Manager) decodeOrder(ev *event.Event) (*Order, error) {
	data, err := m.engine.OpenContent(ev)
	if err != nil {
		return nil, fmt.Errorf("open order %s: %w", ev.Discriminator, err)
	}
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", ev.Discriminator, err)
	}
	return &o, nil
}
