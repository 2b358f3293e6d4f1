package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eirikhals/slot-reservation/internal/feed"
	"github.com/eirikhals/slot-reservation/internal/model"
	"github.com/eirikhals/slot-reservation/internal/repository"
)

// EventSink receives the change event for each committed admin
// mutation.  *feed.Publisher satisfies it.
type EventSink interface {
	Publish(ctx context.Context, ev feed.Event) error
}

// AdminHandler serves the administrative slot mutations.  Admin writes
// are authoritative overwrites: they win over whatever the row holds,
// including lowering seats_taken or moving a slot out of every
// viewer's window.  Each committed mutation publishes exactly one
// change event, same as the booking path.
type AdminHandler struct {
	Repo  *repository.SlotRepo
	Feed  EventSink
	Locks *feed.RowLock
}

// NewAdminHandler constructs an AdminHandler.  repo must be non-nil;
// sink may be nil when no feed is configured.  locks must be the same
// instance the booking service uses so admin and booking events for
// one row cannot cross; a nil value gets a private one.
func NewAdminHandler(repo *repository.SlotRepo, sink EventSink, locks *feed.RowLock) *AdminHandler {
	if repo == nil {
		panic("nil repository passed to NewAdminHandler")
	}
	if locks == nil {
		locks = feed.NewRowLock()
	}
	return &AdminHandler{Repo: repo, Feed: sink, Locks: locks}
}

// slotBody is the JSON shape shared by create and overwrite requests.
// Timestamps are RFC3339 strings.
type slotBody struct {
	Venue      string `json:"venue"`
	StartsAt   string `json:"starts_at"`
	EndsAt     string `json:"ends_at"`
	SeatsTotal uint32 `json:"seats_total"`
	SeatsTaken uint32 `json:"seats_taken"`
}

func (b slotBody) times() (starts, ends time.Time, err error) {
	starts, err = time.Parse(time.RFC3339, b.StartsAt)
	if err != nil {
		return
	}
	ends, err = time.Parse(time.RFC3339, b.EndsAt)
	if err != nil {
		return
	}
	if !starts.Before(ends) {
		err = errors.New("starts_at must be before ends_at")
	}
	return starts.UTC(), ends.UTC(), err
}

// CreateSlot handles POST /v1/admin/slots.  Returns 201 with the
// created row; the insert event follows on the feed.
func (h *AdminHandler) CreateSlot(c echo.Context) error {
	var body slotBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Venue == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "venue is required"})
	}
	if body.SeatsTotal == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats_total must be positive"})
	}
	if body.SeatsTaken > body.SeatsTotal {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats_taken exceeds seats_total"})
	}
	starts, ends, err := body.times()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	s := model.Slot{
		Venue:      body.Venue,
		StartsAt:   starts,
		EndsAt:     ends,
		SeatsTotal: body.SeatsTotal,
		SeatsTaken: body.SeatsTaken,
	}
	if err := h.Repo.Create(c.Request().Context(), &s); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create slot"})
	}
	// The id exists only after the insert commits, so the insert
	// event cannot be fenced against a writer in another process that
	// races us to the fresh row; the reconciler's insert-as-upsert is
	// the guard for that case.
	unlock := h.Locks.Lock(s.ID)
	h.announce(c, feed.Inserted(s))
	unlock()
	return c.JSON(http.StatusCreated, echo.Map{"item": s})
}

// OverwriteSlot handles PUT /v1/admin/slots/:id.  seats_total is
// immutable and absent from the request; every other field is replaced
// wholesale.  Moving starts_at is how a slot leaves (or re-enters) a
// viewer's window, so the update event must carry the new row even
// when it no longer matches any window.
func (h *AdminHandler) OverwriteSlot(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body slotBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	starts, ends, err := body.times()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx := c.Request().Context()
	before, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	after := before
	after.Venue = body.Venue
	after.StartsAt = starts
	after.EndsAt = ends
	after.SeatsTaken = body.SeatsTaken

	unlock := h.Locks.Lock(id)
	if err := h.Repo.Overwrite(ctx, after); err != nil {
		unlock()
		switch {
		case errors.Is(err, repository.ErrSlotNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
		case errors.Is(err, repository.ErrCapacityExceeded):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats_taken exceeds seats_total"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update slot"})
		}
	}
	h.announce(c, feed.Updated(before, after))
	unlock()
	return c.JSON(http.StatusOK, echo.Map{"item": after})
}

// DeleteSlot handles DELETE /v1/admin/slots/:id.  The booking flow
// never deletes; this is the only producer of delete events.
func (h *AdminHandler) DeleteSlot(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	ctx := c.Request().Context()
	before, err := h.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	unlock := h.Locks.Lock(id)
	if err := h.Repo.Delete(ctx, id); err != nil {
		unlock()
		if errors.Is(err, repository.ErrSlotNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete slot"})
	}
	h.announce(c, feed.Deleted(before))
	unlock()
	return c.NoContent(http.StatusNoContent)
}

// announce publishes the mutation's change event; failures are logged
// only, the write itself already committed.
func (h *AdminHandler) announce(c echo.Context, ev feed.Event) {
	if h.Feed == nil {
		return
	}
	if err := h.Feed.Publish(c.Request().Context(), ev); err != nil {
		log.Printf("admin: change event publish failed: %v", err)
	}
}
