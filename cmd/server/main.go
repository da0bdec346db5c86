package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pharmatrace/batchcore/internal/anomaly"
	"github.com/pharmatrace/batchcore/internal/api"
	"github.com/pharmatrace/batchcore/internal/audit"
	"github.com/pharmatrace/batchcore/internal/authenticity"
	"github.com/pharmatrace/batchcore/internal/config"
	"github.com/pharmatrace/batchcore/internal/db"
	"github.com/pharmatrace/batchcore/internal/ledger"
	"github.com/pharmatrace/batchcore/internal/lifecycle"
	"github.com/pharmatrace/batchcore/internal/middleware"
	"github.com/pharmatrace/batchcore/internal/registry"
	"github.com/pharmatrace/batchcore/internal/repository"

	"github.com/rs/cors"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	batchRepo := repository.NewBatchRepository(conn.Pool)
	anomalyRepo := repository.NewAnomalyRepository(conn.Pool)

	// Create collaborators and services
	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL, ledger.WithRequestTimeout(cfg.Ledger.Timeout))
	verifier := authenticity.NewVerifier(ledgerClient, authenticity.WithTimeout(cfg.Ledger.Timeout))

	sink := audit.NewLogSink(cfg.Audit.Buffer)
	defer sink.Close()

	machine := lifecycle.NewMachine(batchRepo, sink)
	engine := anomaly.NewEngine(cfg.Anomaly)
	aggregator := anomaly.NewAggregator(engine, sink)
	registrySvc := registry.NewService(batchRepo, ledgerClient)

	apiHandler := api.NewHTTPHandler(registrySvc, machine, verifier, aggregator, engine, batchRepo, anomalyRepo,
		api.WithActionHashWindow(cfg.Ledger.ActionHashWindow))

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := middleware.LoggingMiddleware(
		middleware.ActorMiddleware(
			middleware.DataLoaderMiddleware(batchRepo)(apiHandler),
		),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", corsHandler.Handler(handler))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting batch lifecycle server on %s", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
