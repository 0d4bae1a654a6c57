/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the time-entry tracking server.

STARTUP SEQUENCE:
  1. Parse configuration from the environment
  2. Open the SQLite ledger (base schema only)
  3. Reconcile surplus open entries, then activate the open-entry
     uniqueness constraint
  4. Wire notifier hub, lifecycle controller, and HTTP router
  5. Serve with graceful shutdown

ENVIRONMENT:
  TIMECLOCK_ADDR          listen address (default :8080)
  TIMECLOCK_DB            SQLite database path (default timeclock.db;
                          use ":memory:" for an in-memory database)
  TIMECLOCK_CORS_ORIGINS  comma-separated allowed origins

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  active requests, close the database, exit.
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/warp/track-engine/api"
	"github.com/warp/track-engine/notify"
	"github.com/warp/track-engine/store/sqlite"
	"github.com/warp/track-engine/timeclock"
)

type config struct {
	Addr        string   `env:"TIMECLOCK_ADDR" envDefault:":8080"`
	DBPath      string   `env:"TIMECLOCK_DB" envDefault:"timeclock.db"`
	CORSOrigins []string `env:"TIMECLOCK_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to parse configuration: %v", err)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Repair pre-constraint data before the uniqueness guarantee is
	// switched on; Reconcile activates the constraint itself.
	if _, err := timeclock.Reconcile(context.Background(), store, log.Default()); err != nil {
		log.Fatalf("Failed to reconcile open entries: %v", err)
	}

	hub := notify.NewHub()
	controller := timeclock.NewController(store, hub)
	handler := api.NewHandler(controller, store, hub)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
