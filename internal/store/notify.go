package store

import "sync"

// Change is emitted after every successful Put, keyed by the entity the
// event belongs to.
type Change struct {
	Kind          int
	Discriminator string
	EventID       string
}

// Subscription receives change notifications from the store.
type Subscription struct {
	n  *notifier
	ch chan Change
}

// C returns the notification channel. The channel is closed when the
// subscription (or the store) is closed.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.n.unsubscribe(s)
}

// notifier fans out changes to subscribers without blocking the write
// path: a subscriber that falls more than subscriberBuffer changes
// behind loses the oldest notifications. Consumers needing a complete
// view re-query the store; notifications are a wake-up, not a log.
type notifier struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

const subscriberBuffer = 64

func newNotifier() *notifier {
	return &notifier{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new change subscriber.
func (s *Store) Subscribe() *Subscription {
	return s.notifier.subscribe()
}

func (n *notifier) subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &Subscription{n: n, ch: make(chan Change, subscriberBuffer)}
	if n.closed {
		close(sub.ch)
		return sub
	}
	n.subs[sub] = struct{}{}
	return sub
}

func (n *notifier) unsubscribe(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[sub]; !ok {
		return
	}
	delete(n.subs, sub)
	close(sub.ch)
}

func (n *notifier) publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for sub := range n.subs {
		select {
		case sub.ch <- c:
		default:
			// Slow subscriber: drop the oldest, keep the newest.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- c:
			default:
			}
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for sub := range n.subs {
		delete(n.subs, sub)
		close(sub.ch)
	}
}
