// Package feed defines the change events exchanged over the message
// broker and the process-scoped publisher and subscriber that carry
// them.  One event is published per committed mutation of a slot row;
// viewers reconstruct state from an initial snapshot plus replay of the
// events that follow it.
package feed

import "github.com/eirikhals/slot-reservation/internal/model"

// Kind identifies the mutation a change event describes.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is the payload carried on the slots.changes exchange.  New is
// the row after the mutation (nil for deletes), Old the row before it
// (nil for inserts).  Events for a given row are published in commit
// order; events for different rows may interleave arbitrarily.
type Event struct {
	Kind Kind        `json:"kind"`
	New  *model.Slot `json:"new,omitempty"`
	Old  *model.Slot `json:"old,omitempty"`
}

// Inserted builds the event for a newly created row.
func Inserted(row model.Slot) Event {
	return Event{Kind: KindInsert, New: &row}
}

// Updated builds the event for a committed in-place mutation.
func Updated(before, after model.Slot) Event {
	return Event{Kind: KindUpdate, New: &after, Old: &before}
}

// Deleted builds the event for a removed row.
func Deleted(row model.Slot) Event {
	return Event{Kind: KindDelete, Old: &row}
}

// RowID returns the id of the row the event concerns, preferring the
// old image so deletes resolve even when the new image is absent.
// ok is false when neither image is present.
func (e Event) RowID() (id uint64, ok bool) {
	if e.Old != nil {
		return e.Old.ID, true
	}
	if e.New != nil {
		return e.New.ID, true
	}
	return 0, false
}
