package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

// PaymentGateway initiates push payments and reports their settlement
type PaymentGateway interface {
	Initiate(ctx context.Context, req *payment.PaymentRequest) (*payment.InitiationResult, error)
	QueryStatus(ctx context.Context, requestID string) (*payment.SettlementStatus, error)
}

// Notifier sends a text message to a payer. Callers log and swallow its errors.
type Notifier interface {
	Send(ctx context.Context, recipient, text string) error
}

// ValueTransferer moves tokens to a ledger account. A returned receipt is irreversible.
type ValueTransferer interface {
	Transfer(ctx context.Context, destination string, amount decimal.Decimal) (*payment.TransferReceipt, error)
}

// AuditRecorder appends workflow transitions to the audit log, best-effort
type AuditRecorder interface {
	Record(ctx context.Context, event *workflow.Event)
}

// Runner executes session loops, typically on a bounded worker pool
type Runner interface {
	Submit(task func()) error
}

type goRunner struct{}

func (goRunner) Submit(task func()) error {
	go task()
	return nil
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, *workflow.Event) {}
