package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/eirikhals/slot-reservation/internal/handler" // handlers implementing the endpoints
)

// RegisterRoutes registers routes that carry no middleware.  Currently
// it exposes only a health check, used by load balancers and
// monitoring systems to verify that the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterSlots registers the viewer-facing endpoints: the windowed
// snapshot query and the live projection stream.  The cache middleware
// applies only to the snapshot; a stream must never be served from
// cache.
func RegisterSlots(e *echo.Echo, s *handler.SlotHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/slots", s.GetSlots, cache)
	e.GET("/v1/slots/stream", s.StreamSlots)
}

// RegisterBooking registers the booking endpoint behind the rate
// limiter.  Booking is the only write path exposed to ordinary
// clients.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, limit echo.MiddlewareFunc) {
	e.POST("/v1/book", b.Book, limit)
}

// RegisterAdmin registers the administrative slot mutations under
// /v1/admin.  Deployment is expected to fence these off at the network
// layer; authentication is out of scope for this service.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler) {
	g := e.Group("/v1/admin")
	g.POST("/slots", a.CreateSlot)
	g.PUT("/slots/:id", a.OverwriteSlot)
	g.DELETE("/slots/:id", a.DeleteSlot)
}
