package view

import (
	"context"
	"testing"
	"time"

	"github.com/eirikhals/slot-reservation/internal/feed"
	"github.com/eirikhals/slot-reservation/internal/model"
)

// stubSource returns a fixed snapshot per seed, advancing through the
// configured generations on successive reseeds.
type stubSource struct {
	snapshots [][]model.Slot
	calls     int
}

func (s *stubSource) ListBetween(context.Context, time.Time, time.Time) ([]model.Slot, error) {
	snap := s.snapshots[s.calls]
	if s.calls < len(s.snapshots)-1 {
		s.calls++
	}
	return snap, nil
}

// startSession runs a session whose feed is driven manually by the
// test instead of a broker connection.
func startSession(t *testing.T, source SnapshotSource) (*Session, context.CancelFunc) {
	t.Helper()
	s := NewSession(source, "amqp://unused", window("10:00", "16:00"))
	s.runner = func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	return s, cancel
}

func nextUpdate(t *testing.T, s *Session) Update {
	t.Helper()
	select {
	case up := <-s.Updates():
		return up
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session update")
		return Update{}
	}
}

func TestSession_SeedThenEvents(t *testing.T) {
	source := &stubSource{snapshots: [][]model.Slot{{slot(1, "11:00")}}}
	s, cancel := startSession(t, source)
	defer cancel()

	if err := s.reseed(context.Background()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	up := nextUpdate(t, s)
	if got := ids(up.Slots); len(got) != 1 || got[0] != 1 {
		t.Fatalf("seeded projection ids = %v, want [1]", got)
	}

	s.onEvent(feed.Inserted(slot(2, "12:00")))
	up = nextUpdate(t, s)
	if got := ids(up.Slots); len(got) != 2 || got[1] != 2 {
		t.Fatalf("projection ids after event = %v, want [1 2]", got)
	}
}

func TestSession_ReseedReplacesProjection(t *testing.T) {
	source := &stubSource{snapshots: [][]model.Slot{
		{slot(1, "11:00")},
		{slot(3, "13:00")}, // post-outage truth
	}}
	s, cancel := startSession(t, source)
	defer cancel()

	_ = s.reseed(context.Background())
	nextUpdate(t, s)
	s.onEvent(feed.Inserted(slot(2, "12:00")))
	nextUpdate(t, s)

	// Reconnect: the fresh snapshot is authoritative, rows that
	// vanished during the outage must not linger.
	_ = s.reseed(context.Background())
	up := nextUpdate(t, s)
	if got := ids(up.Slots); len(got) != 1 || got[0] != 3 {
		t.Fatalf("projection ids after reseed = %v, want [3]", got)
	}
}

func TestSession_SlowViewerGetsLatest(t *testing.T) {
	source := &stubSource{snapshots: [][]model.Slot{nil}}
	s, cancel := startSession(t, source)
	defer cancel()

	_ = s.reseed(context.Background())
	s.onEvent(feed.Inserted(slot(1, "11:00")))
	s.onEvent(feed.Inserted(slot(2, "12:00")))
	s.onEvent(feed.Inserted(slot(3, "13:00")))

	// Nobody read the intermediate updates; eventually the pending
	// one must contain all three rows.
	deadline := time.Now().Add(2 * time.Second)
	for {
		up := nextUpdate(t, s)
		if len(up.Slots) == 3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("latest update has %d slots, want 3", len(up.Slots))
		}
	}
}

func TestSession_CancellationUnblocksBusyFeed(t *testing.T) {
	// A cancelled session must still come down when the feed
	// goroutine has a burst of events in flight: the pending sends
	// have to drain or the subscription would leak with them.
	source := &stubSource{snapshots: [][]model.Slot{nil}}
	s := NewSession(source, "amqp://unused", window("10:00", "16:00"))
	s.runner = func(ctx context.Context) error {
		<-ctx.Done()
		// More events than the command buffer holds, so the sends
		// block unless Run keeps draining during teardown.
		for i := 0; i < 200; i++ {
			s.onEvent(feed.Inserted(slot(uint64(i+1), "11:00")))
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation with a busy feed goroutine")
	}
}

func TestSession_FeedStateSurfaced(t *testing.T) {
	source := &stubSource{snapshots: [][]model.Slot{nil}}
	s, cancel := startSession(t, source)
	defer cancel()

	s.onState(feed.StateOpen)
	if got := s.FeedState(); got != feed.StateOpen {
		t.Fatalf("FeedState = %v, want %v", got, feed.StateOpen)
	}
	up := nextUpdate(t, s)
	if up.Feed != "OPEN" {
		t.Fatalf("update feed state = %q, want OPEN", up.Feed)
	}
}
