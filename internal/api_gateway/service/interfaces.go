package service

import (
	"context"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

// PurchaseStatus is what the gateway knows about a reference: the durable record, or
// the audit event of an initiation rejected before any record was written
type PurchaseStatus struct {
	Record    *payment.TransactionRecord
	Rejection *workflow.Event
}

// PurchaseService defines the interface for purchase operations
type PurchaseService interface {
	// SubmitPurchase publishes a purchase request for the processor
	// Returns the existing record when the reference was already processed
	SubmitPurchase(ctx context.Context, request *shared.PurchaseRequest) (*payment.TransactionRecord, error)

	// GetByReference returns nil if nothing is known about the reference
	GetByReference(ctx context.Context, reference string) (*PurchaseStatus, error)

	// GetByRequestID returns nil if the record doesn't exist
	GetByRequestID(ctx context.Context, requestID string) (*payment.TransactionRecord, error)
}

// CallbackService relays provider callbacks to the processor
type CallbackService interface {
	// RecordSettlement publishes the settlement; when publishing fails it applies the
	// store update directly so the result is never lost
	RecordSettlement(ctx context.Context, event *shared.SettlementEvent) error
}
