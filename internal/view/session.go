package view

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/eirikhals/slot-reservation/internal/feed"
	"github.com/eirikhals/slot-reservation/internal/model"
)

// SnapshotSource is the read side of the slot store a session seeds
// from.  *repository.SlotRepo satisfies it.
type SnapshotSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]model.Slot, error)
}

// Update is one published view of a session: the current projection
// plus the feed connection state, so a viewer can render both.
type Update struct {
	Feed  string       `json:"feed"`
	Slots []model.Slot `json:"slots"`
}

type cmdKind int

const (
	cmdSeed cmdKind = iota
	cmdEvent
	cmdState
)

type command struct {
	kind     cmdKind
	snapshot []model.Slot
	event    feed.Event
	state    feed.State
}

// Session ties one reconciler to one feed subscription for the
// lifetime of a viewer connection.  All projection mutations funnel
// through a single command channel consumed by one goroutine, which
// preserves per-row event order and keeps the reconciler lock-free.
// The session owns its projection exclusively; it is never shared
// between viewers.
type Session struct {
	window Window
	source SnapshotSource
	client *feed.Client
	rec    *Reconciler

	cmds    chan command
	updates chan Update
	state   atomic.Int32

	// runner drives the feed subscription; tests substitute it to
	// feed commands in without a broker.
	runner func(context.Context) error
}

// NewSession builds a session over the given snapshot source and
// broker URL.  The window is fixed for the session's lifetime.
func NewSession(source SnapshotSource, brokerURL string, w Window) *Session {
	s := &Session{
		window:  w,
		source:  source,
		rec:     NewReconciler(w),
		cmds:    make(chan command, 64),
		updates: make(chan Update, 1),
	}
	s.client = feed.NewClient(brokerURL, feed.Hooks{
		Event:  s.onEvent,
		Reseed: s.reseed,
		State:  s.onState,
	})
	s.runner = s.client.Run
	return s
}

// Updates returns the channel the session publishes on.  The channel
// holds only the latest update: when the viewer is slow, stale
// projections are dropped rather than blocking event application.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// FeedState returns the last observed connection state.
func (s *Session) FeedState() feed.State {
	return feed.State(s.state.Load())
}

// Run blocks until ctx is cancelled, driving the feed subscription and
// the single-writer apply loop.  Cancelling ctx tears down the
// subscription; Run always returns nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.runner(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			// The feed goroutine may be mid-send on cmds; keep
			// draining so it can observe cancellation and exit,
			// otherwise the subscription would never be torn down.
			for {
				select {
				case <-done:
					return nil
				case <-s.cmds:
				}
			}
		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdSeed:
				s.rec.Seed(cmd.snapshot)
				s.publish()
			case cmdEvent:
				if s.rec.Apply(cmd.event) {
					s.publish()
				}
			case cmdState:
				s.publish()
			}
		}
	}
}

// reseed runs on the feed client's goroutine after every (re)connect.
// The snapshot read is the blocking suspension point of the session;
// the result is handed to the apply loop so the projection swap still
// happens on the single writer.
func (s *Session) reseed(ctx context.Context) error {
	snapshot, err := s.source.ListBetween(ctx, s.window.From, s.window.To)
	if err != nil {
		return err
	}
	select {
	case s.cmds <- command{kind: cmdSeed, snapshot: snapshot}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onEvent(ev feed.Event) {
	s.cmds <- command{kind: cmdEvent, event: ev}
}

func (s *Session) onState(st feed.State) {
	s.state.Store(int32(st))
	select {
	case s.cmds <- command{kind: cmdState, state: st}:
	default: // apply loop is busy; FeedState still reflects the change
	}
}

// publish replaces whatever update is pending with the current one.
func (s *Session) publish() {
	up := Update{Feed: s.FeedState().String(), Slots: s.rec.Projection()}
	for {
		select {
		case s.updates <- up:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
