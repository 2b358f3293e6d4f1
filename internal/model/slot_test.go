package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAvailable(t *testing.T) {
	cases := []struct {
		name  string
		total uint32
		taken uint32
		want  uint32
	}{
		{"empty slot", 4, 0, 4},
		{"partially taken", 4, 3, 1},
		{"full", 4, 4, 0},
		{"over-taken row still reads zero", 4, 7, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Slot{SeatsTotal: tc.total, SeatsTaken: tc.taken}
			if got := s.Available(); got != tc.want {
				t.Fatalf("Available() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMarshalJSON_IncludesDerivedAvailable(t *testing.T) {
	s := Slot{
		ID:         7,
		Venue:      "north terrace",
		StartsAt:   time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
		EndsAt:     time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		SeatsTotal: 4,
		SeatsTaken: 1,
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, ok := m["available"]; !ok || got != float64(3) {
		t.Fatalf("available = %v, want 3", got)
	}
	if got := m["seats_taken"]; got != float64(1) {
		t.Fatalf("seats_taken = %v, want 1", got)
	}
}
