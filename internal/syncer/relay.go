package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tay1862/kinsaep-core/internal/event"
	"github.com/tay1862/kinsaep-core/internal/store"
)

const (
	relayDialTimeout  = 10 * time.Second
	relayWriteTimeout = 10 * time.Second
	relayReadTimeout  = 30 * time.Second
)

// RelaySink publishes and queries events over a websocket relay using
// JSON array frames: ["EVENT", event], ["REQ", sub, filter],
// ["OK", id, accepted, message], ["EOSE", sub], ["CLOSE", sub].
//
// Publish and Query share one serialized connection; each Subscribe
// opens its own so streams never interleave with request frames.
type RelaySink struct {
	name string
	url  string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRelaySink creates a sink for the relay at url (ws:// or wss://).
// The connection is dialed lazily on first use.
func NewRelaySink(name, url string) *RelaySink {
	return &RelaySink{name: name, url: url}
}

// Name implements Sink.
func (r *RelaySink) Name() string { return r.name }

// URL returns the relay address.
func (r *RelaySink) URL() string { return r.url }

// Close tears down the shared connection. Safe to call when never
// dialed.
func (r *RelaySink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// connect returns the shared connection, dialing if needed. Caller
// must hold r.mu.
func (r *RelaySink) connect(ctx context.Context) (*websocket.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: relayDialTimeout}
	conn, _, err := dialer.DialContext(ctx, r.url, http.Header{})
	if err != nil {
		return nil, NewTransientError(r.name, fmt.Errorf("dial %s: %w", r.url, err))
	}
	r.conn = conn
	return conn, nil
}

// drop discards the shared connection after a transport error so the
// next call redials. Caller must hold r.mu.
func (r *RelaySink) drop() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Publish implements Sink. The relay's OK frame decides the outcome:
// a rejection message is a permanent error (retrying the same bytes
// cannot succeed), everything transport-shaped is transient.
func (r *RelaySink) Publish(ctx context.Context, ev *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connect(ctx)
	if err != nil {
		return err
	}

	frame, err := json.Marshal([]any{"EVENT", ev})
	if err != nil {
		return NewPermanentError(r.name, fmt.Errorf("encode event: %w", err))
	}
	conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		r.drop()
		return NewTransientError(r.name, fmt.Errorf("write: %w", err))
	}

	for {
		conn.SetReadDeadline(time.Now().Add(relayReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.drop()
			return NewTransientError(r.name, fmt.Errorf("await ok: %w", err))
		}
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 1 {
			continue
		}
		var typ string
		if err := json.Unmarshal(raw[0], &typ); err != nil || typ != "OK" || len(raw) < 3 {
			continue
		}
		var id string
		var accepted bool
		json.Unmarshal(raw[1], &id)
		json.Unmarshal(raw[2], &accepted)
		if id != ev.ID {
			continue
		}
		if accepted {
			return nil
		}
		msg := "rejected by relay"
		if len(raw) > 3 {
			var s string
			if json.Unmarshal(raw[3], &s) == nil && s != "" {
				msg = s
			}
		}
		return NewPermanentError(r.name, fmt.Errorf("relay rejected %s: %s", ev.ID, msg))
	}
}

// relayFilter is what relays accept on REQ frames.
type relayFilter struct {
	Kinds   []int             `json:"kinds,omitempty"`
	Authors []string          `json:"authors,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
	Since   int64             `json:"since,omitempty"`
	Until   int64             `json:"until,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

func toRelayFilter(f store.Filter) relayFilter {
	rf := relayFilter{
		Kinds:   f.Kinds,
		Authors: f.Authors,
		Since:   f.Since,
		Until:   f.Until,
		Limit:   f.Limit,
	}
	if len(f.Tags) > 0 {
		rf.Tags = make(map[string]string, len(f.Tags))
		for _, t := range f.Tags {
			rf.Tags[t[0]] = t[1]
		}
	}
	return rf
}

// Query implements Sink. Sends a REQ, collects EVENT frames until
// EOSE, then closes the subscription.
func (r *RelaySink) Query(ctx context.Context, f store.Filter) ([]*event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	subID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	frame, err := json.Marshal([]any{"REQ", subID, toRelayFilter(f)})
	if err != nil {
		return nil, NewPermanentError(r.name, fmt.Errorf("encode req: %w", err))
	}
	conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		r.drop()
		return nil, NewTransientError(r.name, fmt.Errorf("write req: %w", err))
	}

	var out []*event.Event
	for {
		if err := ctx.Err(); err != nil {
			r.drop()
			return nil, err
		}
		conn.SetReadDeadline(time.Now().Add(relayReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.drop()
			return nil, NewTransientError(r.name, fmt.Errorf("read: %w", err))
		}
		typ, sub, payload, ok := parseFrame(data)
		if !ok || sub != subID {
			continue
		}
		switch typ {
		case "EVENT":
			var ev event.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			out = append(out, &ev)
		case "EOSE":
			closeFrame, _ := json.Marshal([]any{"CLOSE", subID})
			conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
			conn.WriteMessage(websocket.TextMessage, closeFrame)
			return out, nil
		}
	}
}

// Subscribe implements Sink. Opens a dedicated connection; the
// returned channel closes when ctx is done or the relay hangs up.
func (r *RelaySink) Subscribe(ctx context.Context, f store.Filter) (<-chan *event.Event, error) {
	dialer := websocket.Dialer{HandshakeTimeout: relayDialTimeout}
	conn, _, err := dialer.DialContext(ctx, r.url, http.Header{})
	if err != nil {
		return nil, NewTransientError(r.name, fmt.Errorf("dial %s: %w", r.url, err))
	}

	subID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	frame, err := json.Marshal([]any{"REQ", subID, toRelayFilter(f)})
	if err != nil {
		conn.Close()
		return nil, NewPermanentError(r.name, fmt.Errorf("encode req: %w", err))
	}
	conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		conn.Close()
		return nil, NewTransientError(r.name, fmt.Errorf("write req: %w", err))
	}

	ch := make(chan *event.Event, 64)
	go func() {
		defer close(ch)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			typ, sub, payload, ok := parseFrame(data)
			if !ok || sub != subID || typ != "EVENT" {
				continue
			}
			var ev event.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			select {
			case ch <- &ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// parseFrame splits a relay frame into its type, subscription id, and
// payload (the third element, if present).
func parseFrame(data []byte) (typ, sub string, payload json.RawMessage, ok bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		return "", "", nil, false
	}
	if err := json.Unmarshal(raw[0], &typ); err != nil {
		return "", "", nil, false
	}
	if err := json.Unmarshal(raw[1], &sub); err != nil {
		return "", "", nil, false
	}
	if len(raw) > 2 {
		payload = raw[2]
	}
	return typ, sub, payload, true
}
