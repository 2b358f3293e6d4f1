package main // Entry point package

import (
	"log" // Logging library

	"github.com/joho/godotenv"    // Optional .env loading for local runs
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/eirikhals/slot-reservation/internal/booking"
	"github.com/eirikhals/slot-reservation/internal/config"
	"github.com/eirikhals/slot-reservation/internal/database"
	"github.com/eirikhals/slot-reservation/internal/feed"
	"github.com/eirikhals/slot-reservation/internal/handler"
	"github.com/eirikhals/slot-reservation/internal/middleware"
	"github.com/eirikhals/slot-reservation/internal/repository"
	"github.com/eirikhals/slot-reservation/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	publisher := feed.NewPublisher(cfg.BrokerURL)
	defer publisher.Close()

	slotRepo := repository.NewSlotRepo(db)

	// Booking and admin share one lock set so the events either path
	// publishes for a given row leave in commit order.
	rowLocks := feed.NewRowLock()
	bookSvc := booking.NewService(slotRepo, publisher, rowLocks, cfg.BookMaxAttempts)

	// Redis is best-effort: a nil client disables rate limiting and
	// snapshot caching without touching the booking or stream paths.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting and snapshot cache disabled")
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewSnapshotCache(config.LoadCacheConfig(), rdb)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterSlots(e, handler.NewSlotHandler(slotRepo, cfg.BrokerURL, cfg.WindowDuration), cache)
	router.RegisterBooking(e, handler.NewBookingHandler(bookSvc), limiter)
	router.RegisterAdmin(e, handler.NewAdminHandler(slotRepo, publisher, rowLocks))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, window=%s)", addr, cfg.Env, cfg.WindowDuration)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
