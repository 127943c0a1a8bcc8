package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tay1862/kinsaep-core/internal/event"
)

// Kind assignments used across store tests. The classes come from the
// default ranges: regular below 20000, ephemeral [20000,30000),
// replaceable [30000,40000).
const (
	kindRegular     = 1100
	kindEphemeral   = 20100
	kindReplaceable = 30100
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"), event.DefaultRanges())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testKeyPair(t *testing.T) *event.KeyPair {
	t.Helper()
	kp, err := event.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair() failed: %v", err)
	}
	return kp
}

func signedEvent(t *testing.T, kp *event.KeyPair, kind int, discriminator string, createdAt int64, content string, tags ...event.Tag) *event.Event {
	t.Helper()
	ev := &event.Event{
		Kind:          kind,
		Discriminator: discriminator,
		CreatedAt:     createdAt,
		Content:       content,
		Tags:          tags,
	}
	if err := event.Sign(ev, kp); err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	return ev
}

func mustPut(t *testing.T, s *Store, ev *event.Event) {
	t.Helper()
	res, err := s.Put(context.Background(), ev)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if res.Status != StatusApplied {
		t.Fatalf("Put() status = %v, want applied", res.Status)
	}
}
