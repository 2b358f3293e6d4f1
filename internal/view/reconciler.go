// Package view maintains the client-side projection of slots inside a
// viewing window.  A projection is seeded from a snapshot read and
// then kept consistent by replaying change events from the feed; the
// combination reconstructs current state without any gap-free sequence
// numbering from the broker.
package view

import (
	"log"
	"sort"
	"time"

	"github.com/eirikhals/slot-reservation/internal/feed"
	"github.com/eirikhals/slot-reservation/internal/model"
)

// Window is the [From, To] instant range a session cares about.  Its
// bounds are fixed when the session starts and never shift with
// wall-clock time while the session lives.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether a slot starting at t belongs in the window.
// Both bounds are inclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Phase tracks how far a reconciler has progressed.
type Phase int

const (
	PhaseUninitialized Phase = iota // no snapshot applied yet
	PhaseSeeded                     // snapshot applied, no event yet
	PhaseLive                       // snapshot applied, events flowing
)

// Reconciler holds the ordered projection for one session.  It is
// deliberately lock-free: the session applies every seed and event
// from a single goroutine, so no two mutations ever run concurrently.
// Callers on other goroutines must go through the session, never touch
// the reconciler directly.
type Reconciler struct {
	window Window
	phase  Phase
	slots  []model.Slot
}

// NewReconciler returns an empty reconciler for the given window.
func NewReconciler(w Window) *Reconciler {
	return &Reconciler{window: w}
}

// Phase returns the current lifecycle phase.
func (r *Reconciler) Phase() Phase { return r.phase }

// Seed replaces the projection with a fresh snapshot.  It is called
// once at session start and again after every feed reconnect, since
// events missed during an outage cannot be replayed.  Rows outside the
// window are dropped even if the snapshot source returned them.
func (r *Reconciler) Seed(snapshot []model.Slot) {
	r.slots = r.slots[:0]
	for _, s := range snapshot {
		if r.window.Contains(s.StartsAt) {
			r.slots = append(r.slots, s)
		}
	}
	r.resort()
	r.phase = PhaseSeeded
}

// Apply folds one change event into the projection and reports whether
// the projection changed.  Window membership is re-evaluated on every
// event: an update that moves a row's starts_at out of the window
// evicts it, and one that moves it back re-inserts it.  Unknown kinds
// are logged and ignored, never fatal.
func (r *Reconciler) Apply(ev feed.Event) bool {
	if r.phase == PhaseUninitialized {
		log.Printf("view: event before seed ignored (kind=%s)", ev.Kind)
		return false
	}
	r.phase = PhaseLive

	switch ev.Kind {
	case feed.KindInsert, feed.KindUpdate:
		if ev.New == nil {
			log.Printf("view: %s event without new row ignored", ev.Kind)
			return false
		}
		if !r.window.Contains(ev.New.StartsAt) {
			// An insert outside the window is irrelevant; an update
			// outside it means the row left the window and must go.
			if ev.Kind == feed.KindUpdate {
				return r.remove(ev.New.ID)
			}
			return false
		}
		r.upsert(*ev.New)
		return true
	case feed.KindDelete:
		id, ok := ev.RowID()
		if !ok {
			log.Printf("view: delete event without row id ignored")
			return false
		}
		return r.remove(id)
	default:
		log.Printf("view: unknown event kind %q ignored", ev.Kind)
		return false
	}
}

// Projection returns a copy of the ordered projection.  The copy is
// safe to hand to another goroutine; the reconciler keeps ownership of
// its internal slice.
func (r *Reconciler) Projection() []model.Slot {
	out := make([]model.Slot, len(r.slots))
	copy(out, r.slots)
	return out
}

// upsert replaces the row with the same id or appends it, then
// re-sorts.  Replacing on insert guards against duplicate delivery and
// insert-after-missed-update anomalies.
func (r *Reconciler) upsert(row model.Slot) {
	for i := range r.slots {
		if r.slots[i].ID == row.ID {
			r.slots[i] = row
			r.resort()
			return
		}
	}
	r.slots = append(r.slots, row)
	r.resort()
}

func (r *Reconciler) remove(id uint64) bool {
	for i := range r.slots {
		if r.slots[i].ID == id {
			r.slots = append(r.slots[:i], r.slots[i+1:]...)
			return true
		}
	}
	return false
}

// resort is always a full deterministic sort, never an incremental
// positional patch, so out-of-order delivery cannot cause order drift.
// Ties on starts_at break on id ascending.
func (r *Reconciler) resort() {
	sort.Slice(r.slots, func(i, j int) bool {
		a, b := r.slots[i], r.slots[j]
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.ID < b.ID
	})
}
