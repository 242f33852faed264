package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/platform/messaging/producers"
)

type CallbackServiceImpl struct {
	store    payment.Repository
	producer producers.MessagePublisher
	logger   *slog.Logger
}

func NewCallbackService(logger *slog.Logger, store payment.Repository, producer producers.MessagePublisher) CallbackService {
	return &CallbackServiceImpl{
		store:    store,
		producer: producer,
		logger:   logger,
	}
}

func (s *CallbackServiceImpl) RecordSettlement(ctx context.Context, event *shared.SettlementEvent) error {
	logger := s.logger.With("request_id", event.RequestID, "result_code", event.ResultCode)
	if event.CorrelationID != "" {
		logger = logger.With("correlation_id", event.CorrelationID)
	}

	err := s.producer.Publish(ctx, event.RequestID, event)
	if err == nil {
		logger.Info("Settlement callback relayed")
		return nil
	}
	logger.Warn("Failed to relay settlement callback, writing it to the store", "error", err)

	// The processor completes side effects for records settled here on its next poll or reconciliation pass
	update := payment.NewSettlementUpdate(event.ResultCode, event.ResultDescription, event.ReceiptID)
	rec, transitioned, storeErr := s.store.UpdateStatus(ctx, event.RequestID, update)
	if storeErr != nil {
		if errors.Is(storeErr, payment.ErrRecordNotFound{}) {
			logger.Warn("Settlement callback for unknown request dropped")
			return nil
		}
		return fmt.Errorf("failed to record settlement %s: %w", event.RequestID, errors.Join(err, storeErr))
	}

	logger.Info("Settlement written to store", "status", rec.Status, "transitioned", transitioned)
	return nil
}
