/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock tracking server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Build the ledger engine, reconciler, and fulfillment services
  4. Register watcher jobs and start the scheduler
  5. Start HTTP server with graceful shutdown

CONFIGURATION:
  Flags take their defaults from the environment, so either works:
  -port / PORT          HTTP server port (default: 8080)
  -db / DB_PATH         SQLite database path (default: stock.db)
                        Use ":memory:" for an in-memory database
  -policy / POLICY      Consumption policy: fifo or lowest_quality
                        (default: fifo)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and wait for in-flight jobs
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - scheduler/watchers.go: Background jobs
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/moeketsims/stocktracking-sub001/alert"
	"github.com/moeketsims/stocktracking-sub001/api"
	"github.com/moeketsims/stocktracking-sub001/fulfillment"
	"github.com/moeketsims/stocktracking-sub001/scheduler"
	"github.com/moeketsims/stocktracking-sub001/stock"
	"github.com/moeketsims/stocktracking-sub001/store/sqlite"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "stock.db"), "SQLite database path")
	policy := flag.String("policy", envStr("POLICY", string(stock.PolicyFIFO)),
		"consumption policy: fifo or lowest_quality")
	flag.Parse()

	if *policy != string(stock.PolicyFIFO) && *policy != string(stock.PolicyLowestQuality) {
		log.Fatalf("Unknown consumption policy %q", *policy)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Domain wiring
	engine := stock.NewEngine(store, stock.ConsumptionPolicy(*policy))
	reconciler := stock.NewReconciler(store)
	requests := fulfillment.NewRequestService(store, engine)
	loans := fulfillment.NewLoanService(store, engine)
	alerts := alert.NewMemorySink(0)

	// Background jobs
	sched := scheduler.New()
	watchers := &scheduler.Watchers{
		Stock:        store,
		Requests:     requests,
		RequestStore: store,
		Loans:        loans,
		LoanStore:    store,
		Thresholds:   store,
		Items:        store,
		Sink:         alerts,
	}
	watchers.RegisterAll(sched)
	sched.Register(scheduler.Job{
		ID:      "reconcile",
		Trigger: scheduler.DailyAt(3, 0),
		Run: func(ctx context.Context) error {
			_, err := reconciler.Check(ctx)
			return err
		},
	})
	sched.Start()
	defer sched.Stop()

	// HTTP layer
	handler := &api.Handler{
		Engine:       engine,
		Reconciler:   reconciler,
		Stock:        store,
		Requests:     requests,
		RequestStore: store,
		Loans:        loans,
		LoanStore:    store,
		Alerts:       alerts,
		Scheduler:    sched,
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d (policy=%s, db=%s)", *port, *policy, *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
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

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
