package syncer

import (
	"context"
	"sort"
	"sync"

	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/store"
)

// MemorySink is an in-process sink. It backs tests and single-device
// deployments where no relay is configured.
type MemorySink struct {
	name string

	mu     sync.Mutex
	events map[string]*event.Event

	// publishErr, when set, is returned by Publish. Tests use it to
	// simulate sink outages.
	publishErr error

	subs []chan *event.Event
}

// NewMemorySink creates an empty in-memory sink with the given name.
func NewMemorySink(name string) *MemorySink {
	return &MemorySink{
		name:   name,
		events: make(map[string]*event.Event),
	}
}

// Name implements Sink.
func (m *MemorySink) Name() string { return m.name }

// SetPublishError makes subsequent Publish calls fail with err. Pass
// nil to heal the sink.
func (m *MemorySink) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Publish implements Sink. Duplicate IDs are absorbed.
func (m *MemorySink) Publish(ctx context.Context, ev *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	_, seen := m.events[ev.ID]
	m.events[ev.ID] = ev
	subs := make([]chan *event.Event, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !seen {
		for _, ch := range subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Publishes returns how many distinct events the sink holds.
func (m *MemorySink) Publishes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Has reports whether the sink holds the event id.
func (m *MemorySink) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[id]
	return ok
}

// Seed inserts events directly, bypassing Publish. Tests use it to
// stage remote state for pulls.
func (m *MemorySink) Seed(events ...*event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events[ev.ID] = ev
	}
}

// Query implements Sink. Results come back in the store's canonical
// order: created_at ascending, id ascending.
func (m *MemorySink) Query(ctx context.Context, f store.Filter) ([]*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*event.Event, 0)
	for _, ev := range m.events {
		if !matchesFilter(ev, f) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Subscribe implements Sink. The channel closes when ctx is done.
func (m *MemorySink) Subscribe(ctx context.Context, f store.Filter) (<-chan *event.Event, error) {
	ch := make(chan *event.Event, 64)

	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions. Tests use it
// to wait for a Subscribe registration before publishing.
func (m *MemorySink) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func matchesFilter(ev *event.Event, f store.Filter) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Authors) > 0 {
		found := false
		for _, a := range f.Authors {
			if ev.Author == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && ev.CreatedAt > f.Until {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, v := range ev.TagValues(want[0]) {
			if v == want[1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
