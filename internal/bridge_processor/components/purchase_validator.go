package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpesa-token-bridge/internal/bridge_processor/service"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
)

type PurchaseValidatorImpl struct {
	store  payment.Repository
	logger *slog.Logger
}

func NewPurchaseValidator(store payment.Repository, logger *slog.Logger) service.PurchaseValidator {
	return &PurchaseValidatorImpl{
		store:  store,
		logger: logger,
	}
}

// Validate converts the message into a domain request
func (v *PurchaseValidatorImpl) Validate(ctx context.Context, request *shared.PurchaseRequest) (*payment.PaymentRequest, error) {
	if request.Reference == "" {
		v.logger.Error("Purchase request without reference", "correlation_id", request.CorrelationID)
		return nil, fmt.Errorf("%w: reference is required", payment.ErrInvalidRequest)
	}

	req, err := request.ToPaymentRequest()
	if err != nil {
		v.logger.Error("Invalid purchase request", "reference", request.Reference, "error", err)
		return nil, err
	}
	return req, nil
}

// CheckIdempotency reports whether a workflow was already started for the reference
func (v *PurchaseValidatorImpl) CheckIdempotency(ctx context.Context, request *shared.PurchaseRequest) (bool, error) {
	logger := v.logger.With("reference", request.Reference)
	if request.CorrelationID != "" {
		logger = logger.With("correlation_id", request.CorrelationID)
	}

	existing, err := v.store.FindByReference(ctx, request.Reference)
	if err != nil {
		if errors.Is(err, payment.ErrRecordNotFound{}) {
			return false, nil
		}
		logger.Error("Failed to check store for idempotency", "error", err)
		return false, fmt.Errorf("idempotency check failed for reference %s: %w", request.Reference, err)
	}

	logger.Info("Purchase already started (idempotency)", "request_id", existing.RequestID, "status", existing.Status)
	return true, nil
}
