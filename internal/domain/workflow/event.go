// Package workflow holds the settlement workflow states and the audit events
// emitted on every transition.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the session-level state of a settlement workflow
type State string

const (
	StateInitiated          State = "INITIATED"
	StateAwaitingSettlement State = "AWAITING_SETTLEMENT"
	StateTransferring       State = "TRANSFERRING"
	StateCompleted          State = "COMPLETED"
	StatePaymentFailed      State = "PAYMENT_FAILED"
	StateTimedOut           State = "TIMED_OUT"
	StateTransferFailed     State = "TRANSFER_FAILED"
	StateRejected           State = "REJECTED"
	StateCancelled          State = "CANCELLED"

	// StateHandedOff ends a session whose transfer is owned by another path
	StateHandedOff State = "HANDED_OFF"
)

// IsTerminal reports whether a session in this state performs no further side effects
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StatePaymentFailed, StateTimedOut, StateTransferFailed, StateRejected, StateCancelled, StateHandedOff:
		return true
	}
	return false
}

// Event is one audit log entry. RequestID is empty for initiations the provider declined.
type Event struct {
	ID         string    `json:"id" bson:"_id"`
	RequestID  string    `json:"request_id,omitempty" bson:"request_id,omitempty"`
	Reference  string    `json:"reference" bson:"reference"`
	State      State     `json:"state" bson:"state"`
	Detail     string    `json:"detail,omitempty" bson:"detail,omitempty"`
	ResultCode *int      `json:"result_code,omitempty" bson:"result_code,omitempty"`
	ReceiptID  string    `json:"receipt_id,omitempty" bson:"receipt_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at" bson:"occurred_at"`
}

// NewEvent stamps a new audit event
func NewEvent(requestID, reference string, state State, detail string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		Reference:  reference,
		State:      state,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// EventRepository persists and reads the workflow audit log
type EventRepository interface {
	Append(ctx context.Context, event *Event) error
	ListByRequestID(ctx context.Context, requestID string) ([]*Event, error)
	// LatestByReference returns nil, nil when no event exists for the reference
	LatestByReference(ctx context.Context, reference string) (*Event, error)
}
