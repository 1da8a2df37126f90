/*
main.go - HTTP server entry point

PURPOSE:
  Initializes and starts the common-expense engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Initialize structured logging
  3. Open SQLite store (auto-migrates schema)
  4. Wire domain services and balance cache
  5. Start server with graceful shutdown

CONFIGURATION:
  PORT, DB_PATH, LOG_LEVEL, CARRY_FORWARD_POLICY, BALANCE_CACHE_TTL.
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  DB_PATH="./data/expenses.db" ./server

  # Run with in-memory database
  DB_PATH=":memory:" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oikos/expense-engine/api"
	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/config"
	"github.com/oikos/expense-engine/engine"
	"github.com/oikos/expense-engine/logger"
	"github.com/oikos/expense-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.L.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	clock := engine.SystemClock{}
	cache := building.NewBalanceCache(building.NewReconstructor(store), clock, cfg.BalanceCacheTTL)
	handler := api.NewHandler(store, cfg.CarryForwardPolicy, cache, clock)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.L.Info("server starting",
			"port", cfg.Port, "db", cfg.DBPath,
			"carry_forward_policy", string(cfg.CarryForwardPolicy))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.L.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.L.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.L.Info("server stopped")
}
