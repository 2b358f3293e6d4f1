// Package repository contains data access logic for the time_slots
// table.  The repository is the only code that writes slot rows; every
// mutation it commits is expected to be followed by exactly one change
// event on the feed so that viewer projections stay consistent.
package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"errors"       // errors for sentinel definitions
	"time"         // time bounds for windowed queries

	"github.com/eirikhals/slot-reservation/internal/model"
)

// ErrSlotNotFound indicates that a slot was not located in the DB.
var ErrSlotNotFound = errors.New("slot not found")

// ErrCapacityExceeded indicates a write would leave seats_taken above
// seats_total, violating the capacity invariant.
var ErrCapacityExceeded = errors.New("seats_taken exceeds seats_total")

// SlotRepo manages persistence for time slots.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo constructs a SlotRepo with the given DB handle.
func NewSlotRepo(db *sql.DB) *SlotRepo {
	return &SlotRepo{db: db}
}

const slotColumns = `id, venue, starts_at, ends_at, seats_total, seats_taken`

func scanSlot(row interface{ Scan(...any) error }, s *model.Slot) error {
	return row.Scan(&s.ID, &s.Venue, &s.StartsAt, &s.EndsAt, &s.SeatsTotal, &s.SeatsTaken)
}

// GetByID performs a point read of a single slot.  It returns
// ErrSlotNotFound when no row exists for the given id.
func (r *SlotRepo) GetByID(ctx context.Context, id uint64) (model.Slot, error) {
	const q = `SELECT ` + slotColumns + ` FROM time_slots WHERE id = ?`
	var s model.Slot
	if err := scanSlot(r.db.QueryRowContext(ctx, q, id), &s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Slot{}, ErrSlotNotFound
		}
		return model.Slot{}, err
	}
	return s, nil
}

// ListBetween returns the snapshot of slots whose starts_at falls
// inside [from, to], ordered ascending by starts_at with id as the
// tie-breaker.  The same ordering is used by the in-memory projection
// so a snapshot and a reconciled view compare byte-for-byte.
func (r *SlotRepo) ListBetween(ctx context.Context, from, to time.Time) ([]model.Slot, error) {
	const q = `SELECT ` + slotColumns + ` FROM time_slots
               WHERE starts_at BETWEEN ? AND ?
               ORDER BY starts_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	slots := make([]model.Slot, 0)
	for rows.Next() {
		var s model.Slot
		if err := scanSlot(rows, &s); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// IncrementSeatsTaken performs the conditional seat increment.  The
// UPDATE only commits when seats_taken still equals the value the
// caller read, so two racing callers can never both consume the same
// seat: the loser matches zero rows and must re-read.  It returns true
// when the row was updated and false when the condition failed.
func (r *SlotRepo) IncrementSeatsTaken(ctx context.Context, id uint64, expectedTaken uint32) (bool, error) {
	const q = `UPDATE time_slots
               SET seats_taken = seats_taken + 1
               WHERE id = ? AND seats_taken = ? AND seats_taken < seats_total`
	res, err := r.db.ExecContext(ctx, q, id, expectedTaken)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Create inserts a new slot and assigns the generated ID back to the
// struct.  The caller must provide venue, starts_at, ends_at and
// seats_total; seats_taken starts at the provided value (normally 0).
func (r *SlotRepo) Create(ctx context.Context, s *model.Slot) error {
	if s.SeatsTaken > s.SeatsTotal {
		return ErrCapacityExceeded
	}
	const q = `INSERT INTO time_slots (venue, starts_at, ends_at, seats_total, seats_taken)
               VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.Venue, s.StartsAt.UTC(), s.EndsAt.UTC(), s.SeatsTotal, s.SeatsTaken)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// Overwrite applies an authoritative administrative correction to a
// slot.  Unlike the booking path it is unconditional: admin state wins
// over whatever the row currently holds, including lowering
// seats_taken.  seats_total is immutable and never part of the SET
// list.  Returns ErrSlotNotFound when the row does not exist.
func (r *SlotRepo) Overwrite(ctx context.Context, s model.Slot) error {
	cur, err := r.GetByID(ctx, s.ID)
	if err != nil {
		return err
	}
	if s.SeatsTaken > cur.SeatsTotal {
		return ErrCapacityExceeded
	}
	const q = `UPDATE time_slots
               SET venue = ?, starts_at = ?, ends_at = ?, seats_taken = ?
               WHERE id = ?`
	_, err = r.db.ExecContext(ctx, q, s.Venue, s.StartsAt.UTC(), s.EndsAt.UTC(), s.SeatsTaken, s.ID)
	return err
}

// Delete removes a slot row.  Returns ErrSlotNotFound when nothing was
// deleted so callers do not publish a delete event for a ghost row.
func (r *SlotRepo) Delete(ctx context.Context, id uint64) error {
	const q = `DELETE FROM time_slots WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSlotNotFound
	}
	return nil
}
