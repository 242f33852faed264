package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
	"github.com/mpesa-token-bridge/internal/platform/messaging/producers"
)

// PurchaseServiceImpl implements the PurchaseService interface
type PurchaseServiceImpl struct {
	store    payment.Repository
	events   workflow.EventRepository
	producer producers.MessagePublisher
	logger   *slog.Logger
}

// NewPurchaseService creates a new purchase service; events may be nil
func NewPurchaseService(
	logger *slog.Logger,
	store payment.Repository,
	events workflow.EventRepository,
	producer producers.MessagePublisher,
) PurchaseService {
	return &PurchaseServiceImpl{
		store:    store,
		events:   events,
		producer: producer,
		logger:   logger,
	}
}

// SubmitPurchase publishes the request keyed by reference, so redeliveries of one
// purchase land on the same partition
func (s *PurchaseServiceImpl) SubmitPurchase(ctx context.Context, request *shared.PurchaseRequest) (*payment.TransactionRecord, error) {
	existing, err := s.store.FindByReference(ctx, request.Reference)
	switch {
	case err == nil:
		s.logger.Info("Purchase already processed",
			"reference", request.Reference,
			"request_id", existing.RequestID,
			"status", existing.Status,
		)
		return existing, nil
	case !errors.Is(err, payment.ErrRecordNotFound{}):
		s.logger.Error("Failed to check for existing purchase", "reference", request.Reference, "error", err)
		return nil, fmt.Errorf("failed to check reference %s: %w", request.Reference, err)
	}

	if err := s.producer.Publish(ctx, request.Reference, request); err != nil {
		s.logger.Error("Failed to publish purchase request",
			"reference", request.Reference,
			"amount", request.Amount,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Purchase request published",
		"reference", request.Reference,
		"amount", request.Amount,
		"destination", request.DestinationAccountID,
	)
	return nil, nil
}

// GetByReference falls back to the audit log for initiations that never produced a record
func (s *PurchaseServiceImpl) GetByReference(ctx context.Context, reference string) (*PurchaseStatus, error) {
	rec, err := s.store.FindByReference(ctx, reference)
	if err == nil {
		return &PurchaseStatus{Record: rec}, nil
	}
	if !errors.Is(err, payment.ErrRecordNotFound{}) {
		s.logger.Error("Failed to get purchase by reference", "reference", reference, "error", err)
		return nil, err
	}

	if s.events == nil {
		return nil, nil
	}
	event, err := s.events.LatestByReference(ctx, reference)
	if err != nil {
		s.logger.Warn("Failed to read audit log", "reference", reference, "error", err)
		return nil, nil
	}
	if event == nil || event.State != workflow.StateRejected {
		return nil, nil
	}
	return &PurchaseStatus{Rejection: event}, nil
}

func (s *PurchaseServiceImpl) GetByRequestID(ctx context.Context, requestID string) (*payment.TransactionRecord, error) {
	rec, err := s.store.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, payment.ErrRecordNotFound{}) {
			s.logger.Info("Transaction not found", "request_id", requestID)
			return nil, nil
		}
		s.logger.Error("Failed to get transaction by request id", "request_id", requestID, "error", err)
		return nil, err
	}
	return rec, nil
}
