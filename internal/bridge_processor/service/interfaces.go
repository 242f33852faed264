package service

import (
	"context"

	"github.com/mpesa-token-bridge/internal/bridge_processor/orchestrator"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
)

// ProcessingService handles the two message streams consumed by the processor
type ProcessingService interface {
	ProcessPurchase(ctx context.Context, request *shared.PurchaseRequest) error
	ProcessSettlement(ctx context.Context, event *shared.SettlementEvent) error
}

// PurchaseValidator validates purchase requests before a workflow is started
type PurchaseValidator interface {
	Validate(ctx context.Context, request *shared.PurchaseRequest) (*payment.PaymentRequest, error)
	CheckIdempotency(ctx context.Context, request *shared.PurchaseRequest) (bool, error)
}

// Workflow is the settlement orchestrator as seen by the processing service
type Workflow interface {
	Start(ctx context.Context, req *payment.PaymentRequest) (*orchestrator.Session, error)
	HandleCallback(ctx context.Context, requestID string, update payment.StatusUpdate) error
}
