package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eirikhals/slot-reservation/internal/booking"
	"github.com/eirikhals/slot-reservation/internal/repository"
)

// BookingHandler serves POST /v1/book.
type BookingHandler struct {
	Service *booking.Service
}

// NewBookingHandler constructs a BookingHandler.  svc must be non-nil.
func NewBookingHandler(svc *booking.Service) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Service: svc}
}

// Book books one seat on the slot named in the request body.  The
// response only confirms accept or reject; the updated seat count
// reaches viewers through the change feed, not through this payload.
//
// Status mapping: 200 success, 400 missing id or unknown slot, 409 no
// seats available, 500 store failure or exhausted contention retries
// (the latter is transient and worth a client retry).
func (h *BookingHandler) Book(c echo.Context) error {
	var body struct {
		ID uint64 `json:"id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing id"})
	}

	err := h.Service.Book(c.Request().Context(), body.ID)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"ok": true})
	case errors.Is(err, repository.ErrSlotNotFound):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slot not found"})
	case errors.Is(err, booking.ErrSlotFull):
		return c.JSON(http.StatusConflict, echo.Map{"error": "no seats available"})
	case errors.Is(err, booking.ErrContention):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking contention, try again"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "store failure"})
	}
}
