package model

import (
	"encoding/json"
	"time"
)

// Slot represents a bookable time window at a venue with a finite
// seat capacity.  Slots are created and corrected by administrative
// processes and mutated by the booking flow, which only ever moves
// SeatsTaken upward by one under a compare-and-swap condition.
//
// ID doubles as the deterministic tie-breaker when two slots start at
// the same instant. StartsAt drives window membership and EndsAt must
// come after it. SeatsTotal is immutable after creation and SeatsTaken
// never exceeds it.
type Slot struct {
	ID         uint64    `json:"id"`          // time_slots.id
	Venue      string    `json:"venue"`       // time_slots.venue
	StartsAt   time.Time `json:"starts_at"`   // time_slots.starts_at
	EndsAt     time.Time `json:"ends_at"`     // time_slots.ends_at
	SeatsTotal uint32    `json:"seats_total"` // time_slots.seats_total
	SeatsTaken uint32    `json:"seats_taken"` // time_slots.seats_taken
}

// Available reports how many seats remain on the slot.  It is always
// computed from SeatsTotal and SeatsTaken; the value is never stored,
// so it cannot drift from the two authoritative columns.
func (s Slot) Available() uint32 {
	if s.SeatsTaken >= s.SeatsTotal {
		return 0
	}
	return s.SeatsTotal - s.SeatsTaken
}

// MarshalJSON includes the derived "available" field in the wire
// representation so clients never recompute or cache it themselves.
func (s Slot) MarshalJSON() ([]byte, error) {
	type alias Slot // avoid recursing into MarshalJSON
	return json.Marshal(struct {
		alias
		Available uint32 `json:"available"`
	}{alias(s), s.Available()})
}
