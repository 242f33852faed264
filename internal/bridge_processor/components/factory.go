package components

import (
	"log/slog"

	"github.com/mpesa-token-bridge/internal/bridge_processor/orchestrator"
	"github.com/mpesa-token-bridge/internal/bridge_processor/service"
	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

// Collaborators groups the external clients the workflow depends on
type Collaborators struct {
	Gateway   orchestrator.PaymentGateway
	Notifier  orchestrator.Notifier
	Transfers orchestrator.ValueTransferer
}

// Processor bundles the wired processing pipeline
type Processor struct {
	Orchestrator *orchestrator.Orchestrator
	Service      service.ProcessingService
	Pool         *service.WorkerPool // nil when sessions run on plain goroutines
}

// CreateProcessor wires the orchestrator, its worker pool and the processing service
func CreateProcessor(
	store payment.Repository,
	eventRepo workflow.EventRepository,
	clients Collaborators,
	logger *slog.Logger,
	cfg *config.Config,
) *Processor {
	audit := NewAuditRecorder(eventRepo, logger.With("component", "audit"))
	opts := []orchestrator.Option{orchestrator.WithAuditRecorder(audit)}

	pool, err := service.NewWorkerPool(
		service.WorkerPoolConfig{
			Size: cfg.WorkerPool.Size,
		},
		logger.With("component", "worker_pool"),
	)
	if err != nil {
		logger.Error("Failed to create worker pool, sessions will run on plain goroutines", "error", err)
		pool = nil
	} else {
		logger.Info("Created worker pool", "pool_size", pool.Capacity())
		opts = append(opts, orchestrator.WithRunner(pool))
	}

	orch := orchestrator.NewOrchestrator(
		logger.With("component", "orchestrator"),
		&cfg.Workflow,
		clients.Gateway,
		store,
		clients.Notifier,
		clients.Transfers,
		opts...,
	)

	validator := NewPurchaseValidator(store, logger)
	svc := service.NewProcessingService(validator, orch, audit, logger)

	return &Processor{
		Orchestrator: orch,
		Service:      svc,
		Pool:         pool,
	}
}
