// Package handler exposes the HTTP surface of the slot service: the
// health check, the windowed snapshot query, the live projection
// stream, the booking endpoint and the admin mutations.  Rendering is
// a client concern; every response here is plain JSON.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eirikhals/slot-reservation/internal/repository"
	"github.com/eirikhals/slot-reservation/internal/view"
)

// SlotHandler serves the snapshot query and the live stream.  Each
// stream connection gets its own session (snapshot seed + feed
// subscription + reconciler); sessions share nothing but the store.
type SlotHandler struct {
	Repo      *repository.SlotRepo // snapshot reads
	BrokerURL string               // change feed broker for stream sessions
	Window    time.Duration        // default forward-looking window size
}

// NewSlotHandler constructs a SlotHandler.  repo must be non-nil.
func NewSlotHandler(repo *repository.SlotRepo, brokerURL string, window time.Duration) *SlotHandler {
	if repo == nil {
		panic("nil repository passed to NewSlotHandler")
	}
	return &SlotHandler{Repo: repo, BrokerURL: brokerURL, Window: window}
}

// requestWindow resolves the viewing window for a request.  Optional
// RFC3339 "from"/"to" query params override the default
// [now, now+Window] range.  The bounds are fixed here and reused for
// the whole session; they never slide while a stream is open.
func (h *SlotHandler) requestWindow(c echo.Context) (view.Window, error) {
	now := time.Now().UTC()
	w := view.Window{From: now, To: now.Add(h.Window)}
	if q := c.QueryParam("from"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return view.Window{}, fmt.Errorf("invalid from: %w", err)
		}
		w.From = t.UTC()
	}
	if q := c.QueryParam("to"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return view.Window{}, fmt.Errorf("invalid to: %w", err)
		}
		w.To = t.UTC()
	}
	if w.To.Before(w.From) {
		return view.Window{}, fmt.Errorf("window ends before it starts")
	}
	return w, nil
}

// GetSlots handles GET /v1/slots.  It returns the snapshot of slots
// whose starts_at falls inside the window, ordered by starts_at with
// id as tie-breaker, together with the window bounds so the client can
// reuse them when opening a stream.
func (h *SlotHandler) GetSlots(c echo.Context) error {
	w, err := h.requestWindow(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	items, err := h.Repo.ListBetween(c.Request().Context(), w.From, w.To)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items": items,
		"from":  w.From.Format(time.RFC3339),
		"to":    w.To.Format(time.RFC3339),
	})
}

// StreamSlots handles GET /v1/slots/stream.  It runs one reconciler
// session for the lifetime of the connection and pushes the projection
// as a server-sent event whenever it changes.  Closing the connection
// cancels the request context, which tears down the session and its
// feed subscription.
func (h *SlotHandler) StreamSlots(c echo.Context) error {
	w, err := h.requestWindow(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	session := view.NewSession(h.Repo, h.BrokerURL, w)
	go func() { _ = session.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-session.Updates():
			body, err := json.Marshal(up)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", body); err != nil {
				return nil // client went away
			}
			res.Flush()
		}
	}
}
