package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mpesa-token-bridge/internal/api_gateway"
	"github.com/mpesa-token-bridge/internal/api_gateway/service"
	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/data/memory"
	"github.com/mpesa-token-bridge/internal/data/mongo"
	"github.com/mpesa-token-bridge/internal/data/postgres"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/logger"
	"github.com/mpesa-token-bridge/internal/platform/messaging/producers"
	"github.com/mpesa-token-bridge/internal/platform/persistence"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	// Initialize the durable store
	store, closeStore, err := openStore(appCtx, log, cfg)
	if err != nil {
		log.Error("Failed to initialize transaction store", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}
	eventRepo := mongo.NewWorkflowEventRepository(log, mongoDB.Database())

	// Purchases and relayed callbacks go to separate topics
	purchaseProducer, err := producers.NewMessageProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.PurchaseTopic)
	if err != nil {
		log.Error("Failed to initialize purchase Kafka producer", "error", err)
		os.Exit(1)
	}
	settlementProducer, err := producers.NewMessageProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.SettlementTopic)
	if err != nil {
		log.Error("Failed to initialize settlement Kafka producer", "error", err)
		os.Exit(1)
	}

	// Initialize services
	purchaseService := service.NewPurchaseService(log, store, eventRepo, purchaseProducer)
	callbackService := service.NewCallbackService(log, store, settlementProducer)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, purchaseService, callbackService)
	log.Info("REST server initialized", "store", cfg.StoreDriver)

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before the stores and producers go away
	var shutdownErr error
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
		shutdownErr = err
	}

	if err := purchaseProducer.Close(); err != nil {
		log.Error("Error closing purchase Kafka producer", "error", err)
		shutdownErr = err
	}
	if err := settlementProducer.Close(); err != nil {
		log.Error("Error closing settlement Kafka producer", "error", err)
		shutdownErr = err
	}

	closeStore()

	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
		shutdownErr = err
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if shutdownErr != nil {
		log.Error("Server shutdown completed with errors")
		os.Exit(1)
	}
	log.Info("Server shutdown completed successfully")
}

// openStore returns the configured transaction store and its close function
func openStore(ctx context.Context, log *slog.Logger, cfg *config.Config) (payment.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Using in-memory transaction store, records are lost on restart")
		return memory.NewTransactionRepository(), func() {}, nil
	}

	postgresDB, err := persistence.NewPostgresDB(ctx, log, &cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewTransactionRepository(log, postgresDB), postgresDB.Close, nil
}
