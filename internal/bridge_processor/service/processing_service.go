package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpesa-token-bridge/internal/bridge_processor/orchestrator"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

type ProcessingServiceImpl struct {
	validator PurchaseValidator
	workflow  Workflow
	audit     orchestrator.AuditRecorder
	logger    *slog.Logger
}

func NewProcessingService(
	validator PurchaseValidator,
	wf Workflow,
	audit orchestrator.AuditRecorder,
	logger *slog.Logger,
) ProcessingService {
	return &ProcessingServiceImpl{
		validator: validator,
		workflow:  wf,
		audit:     audit,
		logger:    logger,
	}
}

// ProcessPurchase starts a settlement workflow for the request. Returning nil
// acknowledges the message; only transient failures are returned for redelivery.
func (s *ProcessingServiceImpl) ProcessPurchase(ctx context.Context, request *shared.PurchaseRequest) error {
	logger := s.logger.With("reference", request.Reference)
	if request.CorrelationID != "" {
		logger = logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Processing purchase", "amount", request.Amount, "destination", request.DestinationAccountID)

	// 1. Validate the request
	req, err := s.validator.Validate(ctx, request)
	if err != nil {
		logger.Error("Purchase validation failed", "error", err)
		s.audit.Record(ctx, workflow.NewEvent("", request.Reference, workflow.StateRejected, err.Error()))
		return nil // Permanent, acknowledge the message
	}

	// 2. Check idempotency
	skip, err := s.validator.CheckIdempotency(ctx, request)
	if err != nil {
		return err // Let Kafka retry
	}
	if skip {
		return nil
	}

	// 3. Start the workflow
	session, err := s.workflow.Start(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrGatewayRejected), errors.Is(err, payment.ErrInvalidRequest):
			logger.Warn("Purchase rejected", "error", err)
			return nil
		case errors.Is(err, payment.ErrDuplicateReference):
			logger.Info("Purchase already started by another consumer")
			return nil
		}
		logger.Error("Failed to start settlement workflow", "error", err)
		return fmt.Errorf("failed to start workflow for %s: %w", request.Reference, err)
	}

	logger.Info("Settlement workflow started", "request_id", session.RequestID(), "deadline", session.Deadline())
	return nil
}

// ProcessSettlement applies a relayed provider callback
func (s *ProcessingServiceImpl) ProcessSettlement(ctx context.Context, event *shared.SettlementEvent) error {
	logger := s.logger.With("request_id", event.RequestID)
	if event.CorrelationID != "" {
		logger = logger.With("correlation_id", event.CorrelationID)
	}

	if event.RequestID == "" {
		logger.Error("Settlement event without request id dropped")
		return nil
	}

	logger.Info("Processing settlement", "result_code", event.ResultCode, "receipt_id", event.ReceiptID)

	update := payment.NewSettlementUpdate(event.ResultCode, event.ResultDescription, event.ReceiptID)
	if err := s.workflow.HandleCallback(ctx, event.RequestID, update); err != nil {
		return fmt.Errorf("failed to apply settlement %s: %w", event.RequestID, err)
	}
	return nil
}
