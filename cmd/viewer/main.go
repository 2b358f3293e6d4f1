// Command viewer runs a single reconciler session in the terminal.  It
// seeds from the store, follows the change feed, and reprints the
// projection every time it changes.  Mostly useful for watching the
// feed during development without a browser.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eirikhals/slot-reservation/internal/config"
	"github.com/eirikhals/slot-reservation/internal/database"
	"github.com/eirikhals/slot-reservation/internal/repository"
	"github.com/eirikhals/slot-reservation/internal/view"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	window := view.Window{From: now, To: now.Add(cfg.WindowDuration)}
	session := view.NewSession(repository.NewSlotRepo(db), cfg.BrokerURL, window)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() { _ = session.Run(ctx) }()

	log.Printf("watching slots from %s to %s", window.From.Format(time.RFC3339), window.To.Format(time.RFC3339))
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-session.Updates():
			fmt.Printf("\n[feed: %s] %d slot(s)\n", up.Feed, len(up.Slots))
			for _, s := range up.Slots {
				fmt.Printf("  %6d  %-20s %s-%s  %d/%d taken, %d free\n",
					s.ID, s.Venue,
					s.StartsAt.Format("15:04"), s.EndsAt.Format("15:04"),
					s.SeatsTaken, s.SeatsTotal, s.Available())
			}
		}
	}
}
