package payment

import (
	"context"
	"errors"
	"time"
)

// Repository defines transaction record persistence operations
type Repository interface {
	// Insert returns ErrDuplicateRequestID when the request id is already stored
	Insert(ctx context.Context, record *TransactionRecord) error
	FindByRequestID(ctx context.Context, requestID string) (*TransactionRecord, error)
	FindByReference(ctx context.Context, reference string) (*TransactionRecord, error)

	// UpdateStatus applies a settlement observation atomically per row. It returns the
	// stored record after the call and whether this call performed the pending to
	// terminal transition. A conflicting terminal status leaves the row untouched.
	UpdateStatus(ctx context.Context, requestID string, update StatusUpdate) (*TransactionRecord, bool, error)

	// ClaimTransfer is the at-most-once transfer guard: it succeeds for exactly one
	// caller, and only once the record is completed.
	ClaimTransfer(ctx context.Context, requestID string) (bool, error)
	RecordTransferOutcome(ctx context.Context, requestID string, outcome TransferOutcome) error

	// ClaimFailureNotice succeeds for exactly one caller once the record is failed;
	// the winner owes the payer the failure notice.
	ClaimFailureNotice(ctx context.Context, requestID string) (bool, error)

	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*TransactionRecord, error)
	ListUnclaimedCompleted(ctx context.Context, olderThan time.Time, limit int) ([]*TransactionRecord, error)
	ListUnnotifiedFailed(ctx context.Context, olderThan time.Time, limit int) ([]*TransactionRecord, error)
}

// Store errors without a key
var (
	ErrDuplicateReference = errors.New("transaction with reference already exists")
	ErrTransferNotClaimed = errors.New("transfer was not claimed")
)

// ErrDuplicateRequestID indicates request id uniqueness violation
type ErrDuplicateRequestID struct {
	RequestID string
}

func (e ErrDuplicateRequestID) Error() string {
	return "transaction with request id already exists: " + e.RequestID
}

// Is implements the errors.Is interface for ErrDuplicateRequestID
func (e ErrDuplicateRequestID) Is(target error) bool {
	t, ok := target.(ErrDuplicateRequestID)
	if !ok {
		return false
	}
	return t.RequestID == "" || t.RequestID == e.RequestID
}

// ErrRecordNotFound indicates missing transaction record
type ErrRecordNotFound struct {
	Key string
}

func (e ErrRecordNotFound) Error() string {
	return "transaction record not found: " + e.Key
}

// Is implements the errors.Is interface for ErrRecordNotFound
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	return t.Key == "" || t.Key == e.Key
}
