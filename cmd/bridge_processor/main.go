package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mpesa-token-bridge/internal/bridge_processor/components"
	"github.com/mpesa-token-bridge/internal/bridge_processor/consumer"
	"github.com/mpesa-token-bridge/internal/bridge_processor/reconciler"
	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/data/memory"
	"github.com/mpesa-token-bridge/internal/data/mongo"
	"github.com/mpesa-token-bridge/internal/data/postgres"
	"github.com/mpesa-token-bridge/internal/data/rediscache"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/logger"
	"github.com/mpesa-token-bridge/internal/platform/chain"
	"github.com/mpesa-token-bridge/internal/platform/messaging/consumers"
	"github.com/mpesa-token-bridge/internal/platform/messaging/producers"
	"github.com/mpesa-token-bridge/internal/platform/mpesa"
	"github.com/mpesa-token-bridge/internal/platform/persistence"
	"github.com/mpesa-token-bridge/internal/platform/whatsapp"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("bridge_processor")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Bridge Processor",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

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
	if err := eventRepo.EnsureIndexes(appCtx); err != nil {
		log.Warn("Failed to ensure workflow event indexes", "error", err)
	}

	// Access tokens are shared through Redis when it is configured
	var tokens mpesa.TokenCache
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = persistence.NewRedisClient(appCtx, log, &cfg.Redis)
		if err != nil {
			log.Error("Failed to initialize Redis", "error", err)
			os.Exit(1)
		}
		tokens = rediscache.NewTokenCache(redisClient)
	}

	// Initialize external collaborators
	gateway := mpesa.NewClient(log.With("component", "mpesa"), &cfg.Mpesa, tokens)
	notifier := whatsapp.NewClient(log.With("component", "whatsapp"), &cfg.WhatsApp)
	transferer, err := chain.Dial(appCtx, log.With("component", "chain"), &cfg.Chain)
	if err != nil {
		log.Error("Failed to initialize chain transferer", "error", err)
		os.Exit(1)
	}

	processor := components.CreateProcessor(
		store,
		eventRepo,
		components.Collaborators{
			Gateway:   gateway,
			Notifier:  notifier,
			Transfers: transferer,
		},
		log,
		cfg,
	)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka, cfg.Application.Name)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// A nil producer must reach the handlers as a nil interface
	var deadLetters producers.DeadLetterPublisher
	if dlqProducer != nil {
		deadLetters = dlqProducer
	}

	purchaseHandler := consumer.NewPurchaseEventHandler(log, processor.Service, deadLetters)
	settlementHandler := consumer.NewSettlementEventHandler(log, processor.Service, deadLetters)

	purchaseConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka, cfg.Kafka.PurchaseTopic)
	settlementConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka, cfg.Kafka.SettlementTopic)

	recon := reconciler.NewReconciler(
		&cfg.Reconciler,
		cfg.Workflow.SettlementTimeout,
		store,
		gateway,
		processor.Orchestrator,
		log.With("component", "reconciler"),
	)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	subscribe := func(c *consumers.KafkaConsumer, topic string, handler consumers.MessageHandler) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("Starting Kafka consumer", "topic", topic, "group", cfg.Kafka.ConsumerGroup)
			if err := c.Subscribe(appCtx, topic, cfg.Kafka.ConsumerGroup, handler); err != nil {
				errChan <- fmt.Errorf("kafka consumer error on %s: %w", topic, err)
			}
		}()
	}
	subscribe(purchaseConsumer, cfg.Kafka.PurchaseTopic, purchaseHandler.HandleMessage)
	subscribe(settlementConsumer, cfg.Kafka.SettlementTopic, settlementHandler.HandleMessage)

	// Start reconciler in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		recon.Start(appCtx)
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Wait for consumers and the reconciler to stop
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Sessions are cancelled; their records stay pending for the reconciler
	var shutdownErr error
	if err := processor.Orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error("Error draining settlement sessions", "error", err)
		shutdownErr = err
	}
	if processor.Pool != nil {
		processor.Pool.Shutdown()
	}

	if dlqProducer != nil {
		if err := dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
			shutdownErr = err
		}
	}
	if err := purchaseConsumer.Close(); err != nil {
		log.Error("Error closing purchase Kafka consumer", "error", err)
		shutdownErr = err
	}
	if err := settlementConsumer.Close(); err != nil {
		log.Error("Error closing settlement Kafka consumer", "error", err)
		shutdownErr = err
	}

	transferer.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", "error", err)
			shutdownErr = err
		}
	}

	closeStore()

	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
		shutdownErr = err
	}

	// Final status
	if serviceErr != nil {
		log.Error("Bridge Processor shutdown with errors", "error", serviceErr)
	}
	if shutdownErr != nil {
		log.Error("Bridge Processor shutdown completed with errors")
		os.Exit(1)
	}
	log.Info("Bridge Processor shutdown completed successfully")
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
