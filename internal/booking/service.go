// Package booking implements the reservation flow: a capacity-checked,
// compare-and-swap seat increment that stays correct under concurrent
// callers across processes.  The row condition in the store is the
// only concurrency control; no in-process lock would survive multiple
// server instances sharing one database.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/eirikhals/slot-reservation/internal/feed"
	"github.com/eirikhals/slot-reservation/internal/model"
)

// ErrSlotFull means the slot's capacity is exhausted.  Terminal; the
// caller should not retry.
var ErrSlotFull = errors.New("no seats available")

// ErrContention means every compare-and-swap attempt lost its race
// within the attempt budget.  Transient; the caller may retry.
var ErrContention = errors.New("booking contention, try again")

// DefaultMaxAttempts bounds the local CAS retry loop.
const DefaultMaxAttempts = 3

// SeatStore is the slice of the slot store the service needs.  GetByID
// must return repository.ErrSlotNotFound (or an error wrapping it) for
// unknown ids.  IncrementSeatsTaken must add exactly one seat iff
// seats_taken still equals expectedTaken, reporting false when the
// condition failed.  *repository.SlotRepo satisfies the interface.
type SeatStore interface {
	GetByID(ctx context.Context, id uint64) (model.Slot, error)
	IncrementSeatsTaken(ctx context.Context, id uint64, expectedTaken uint32) (bool, error)
}

// EventSink receives the change event for each committed booking.
// *feed.Publisher satisfies it.
type EventSink interface {
	Publish(ctx context.Context, ev feed.Event) error
}

// Service books seats on slots.
type Service struct {
	store       SeatStore
	sink        EventSink
	locks       *feed.RowLock
	maxAttempts int
}

// NewService constructs the reservation service.  sink may be nil when
// no feed is configured.  locks serializes commit+publish per row and
// should be the same instance every other writer in the process uses
// (a nil value gets a private one); maxAttempts <= 0 falls back to the
// default.
func NewService(store SeatStore, sink EventSink, locks *feed.RowLock, maxAttempts int) *Service {
	if store == nil {
		panic("nil store passed to NewService")
	}
	if locks == nil {
		locks = feed.NewRowLock()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{store: store, sink: sink, locks: locks, maxAttempts: maxAttempts}
}

// Book reserves one seat on the slot.  It returns nil on success,
// repository.ErrSlotNotFound (wrapped) for unknown ids, ErrSlotFull
// when capacity is exhausted, ErrContention when the attempt budget is
// spent losing races, and the underlying error for store failures.
//
// Each attempt re-reads the row and conditions the increment on the
// value it read.  A plain read-then-write without the condition would
// let two callers who both read seats_taken = N-1 book the same final
// seat, so the unconditional variant is deliberately not offered.
//
// The response never carries a recalculated availability for display;
// viewers learn the new count from the change event.
func (s *Service) Book(ctx context.Context, id uint64) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		slot, err := s.store.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("read slot: %w", err)
		}
		if slot.SeatsTaken >= slot.SeatsTotal {
			return ErrSlotFull
		}
		// The row lock spans the increment and its publish so two
		// in-process winners cannot emit their events in the wrong
		// order; the reconciler's upsert would otherwise regress to
		// the stale image until the next event.
		unlock := s.locks.Lock(id)
		ok, err := s.store.IncrementSeatsTaken(ctx, id, slot.SeatsTaken)
		if err != nil {
			unlock()
			return fmt.Errorf("increment seats: %w", err)
		}
		if !ok {
			unlock()
			continue // lost the race; re-read and try again
		}
		after := slot
		after.SeatsTaken++
		s.announce(ctx, slot, after)
		unlock()
		return nil
	}
	return ErrContention
}

// announce publishes the booking's change event.  Publish failures are
// logged and swallowed: the seat is already committed and projection
// repair happens through snapshot re-seeding, so a broker problem must
// never fail the booking itself.
func (s *Service) announce(ctx context.Context, before, after model.Slot) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, feed.Updated(before, after)); err != nil {
		log.Printf("booking: change event publish failed for slot %d: %v", after.ID, err)
	}
}
