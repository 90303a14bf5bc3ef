/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the club activity engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store
  3. Load scoring config (weights, targets, tiers)
  4. Choose distribution gateway and event publisher
  5. Create workflow, API handler and router
  6. Start the recalculation scheduler (optional)
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. WALLET_URL selects the remote wallet service,
  otherwise rewards are credited to the local ledger. KAFKA_BROKERS enables
  approval events.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Kafka writers and database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/clubs.db"

  # Run with in-memory database and the scheduler on
  SCHEDULER_ENABLED=true ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - engine/workflow.go: Report state machine
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/club-activity-engine/api"
	"github.com/warp/club-activity-engine/config"
	"github.com/warp/club-activity-engine/engine"
	"github.com/warp/club-activity-engine/events"
	"github.com/warp/club-activity-engine/factory"
	"github.com/warp/club-activity-engine/gateway"
	"github.com/warp/club-activity-engine/rewards"
	"github.com/warp/club-activity-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags override the environment
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Initialize store
	if *dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Scoring config
	scoring, err := factory.NewPolicyFactory().LoadScoringConfig(cfg.ScoringConfigPath, rewards.DefaultScoringConfig())
	if err != nil {
		log.Fatalf("Failed to load scoring config: %v", err)
	}
	calc, err := engine.NewCalculator(scoring)
	if err != nil {
		log.Fatalf("Invalid scoring config: %v", err)
	}

	// Distribution gateway
	wallets := engine.NewLedger(store)
	var gw engine.DistributionGateway = gateway.NewLedger(wallets)
	if cfg.WalletURL != "" {
		gw = gateway.NewHTTP(cfg.WalletURL, cfg.WalletTimeout)
		log.Printf("[Server] Distributing rewards via %s", cfg.WalletURL)
	} else {
		log.Println("[Server] Distributing rewards to the local ledger")
	}

	// Approval events
	var publisher engine.EventPublisher = engine.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher = events.NewPublisher(producer, cfg.KafkaTopic)
		log.Printf("[Server] Publishing approvals to %s on %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	}

	workflow := &engine.Workflow{
		Policies:    store,
		Records:     store,
		Metrics:     store,
		Events:      store,
		Gateway:     gw,
		Publisher:   publisher,
		Audit:       store.AuditLog(),
		Calculator:  calc,
		Concurrency: cfg.RecalcConcurrency,
		Now:         time.Now,
	}

	handler := api.NewHandler(store, workflow, wallets)

	// Scheduler
	var scheduler *api.RecalculationScheduler
	if cfg.SchedulerEnabled {
		scheduler = api.NewRecalculationScheduler(workflow)
		scheduler.CheckInterval = cfg.SchedulerInterval
		handler.Scheduler = scheduler
		scheduler.Start()
	}

	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Server] Starting on http://localhost:%s", *port)
		log.Printf("[Server] API available at http://localhost:%s/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := shutdown(ctx, server, scheduler); err != nil {
		log.Printf("[Server] Forced to shutdown: %v", err)
	}

	log.Println("[Server] Stopped")
}

// shutdown stops the scheduler before draining the server, so no scheduled
// pass starts while requests finish.
func shutdown(ctx context.Context, server *http.Server, scheduler *api.RecalculationScheduler) error {
	if scheduler != nil {
		scheduler.Stop()
	}
	return server.Shutdown(ctx)
}
