// Package memory provides an in-process implementation of the transaction store
// with the same per-row semantics as the PostgreSQL repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mpesa-token-bridge/internal/domain/payment"
)

var _ payment.Repository = (*TransactionRepository)(nil)

// TransactionRepository keeps records in a map guarded by a single mutex.
// Returned records are copies; callers never alias stored state.
type TransactionRepository struct {
	mu          sync.Mutex
	byRequestID map[string]*payment.TransactionRecord
	byReference map[string]string
	err         error
}

// NewTransactionRepository instantiates an empty store
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		byRequestID: make(map[string]*payment.TransactionRecord),
		byReference: make(map[string]string),
	}
}

// WithError configures the store to return the provided error for subsequent calls
func (r *TransactionRepository) WithError(err error) *TransactionRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	return r
}

func (r *TransactionRepository) Insert(_ context.Context, rec *payment.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	if _, exists := r.byRequestID[rec.RequestID]; exists {
		return payment.ErrDuplicateRequestID{RequestID: rec.RequestID}
	}
	if _, exists := r.byReference[rec.Reference]; exists {
		return fmt.Errorf("%w: %s", payment.ErrDuplicateReference, rec.Reference)
	}

	r.byRequestID[rec.RequestID] = cloneRecord(rec)
	r.byReference[rec.Reference] = rec.RequestID
	return nil
}

func (r *TransactionRepository) FindByRequestID(_ context.Context, requestID string) (*payment.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	rec, ok := r.byRequestID[requestID]
	if !ok {
		return nil, payment.ErrRecordNotFound{Key: requestID}
	}
	return cloneRecord(rec), nil
}

func (r *TransactionRepository) FindByReference(_ context.Context, reference string) (*payment.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	requestID, ok := r.byReference[reference]
	if !ok {
		return nil, payment.ErrRecordNotFound{Key: reference}
	}
	return cloneRecord(r.byRequestID[requestID]), nil
}

func (r *TransactionRepository) UpdateStatus(_ context.Context, requestID string, update payment.StatusUpdate) (*payment.TransactionRecord, bool, error) {
	if !update.Status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: status update must be terminal, got %q", payment.ErrInvalidRequest, update.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, false, r.err
	}
	rec, ok := r.byRequestID[requestID]
	if !ok {
		return nil, false, payment.ErrRecordNotFound{Key: requestID}
	}
	if !update.Accepts(rec.Status) {
		return cloneRecord(rec), false, nil
	}

	transitioned := rec.Status == payment.StatusPending
	rec.Apply(update, time.Now().UTC())
	return cloneRecord(rec), transitioned, nil
}

func (r *TransactionRepository) ClaimTransfer(_ context.Context, requestID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return false, r.err
	}
	rec, ok := r.byRequestID[requestID]
	if !ok || rec.Status != payment.StatusCompleted || rec.TransferStatus != payment.TransferStatusNone {
		return false, nil
	}

	rec.TransferStatus = payment.TransferStatusClaimed
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *TransactionRepository) ClaimFailureNotice(_ context.Context, requestID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return false, r.err
	}
	rec, ok := r.byRequestID[requestID]
	if !ok || rec.Status != payment.StatusFailed || rec.FailureNotified {
		return false, nil
	}

	rec.FailureNotified = true
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *TransactionRepository) RecordTransferOutcome(_ context.Context, requestID string, outcome payment.TransferOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	rec, ok := r.byRequestID[requestID]
	if !ok || rec.TransferStatus != payment.TransferStatusClaimed {
		return fmt.Errorf("%w: %s", payment.ErrTransferNotClaimed, requestID)
	}

	rec.TransferStatus = outcome.Status
	if outcome.ReceiptID != "" {
		receipt := outcome.ReceiptID
		rec.TransferReceiptID = &receipt
	}
	if outcome.Error != "" {
		reason := outcome.Error
		rec.TransferError = &reason
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *TransactionRepository) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*payment.TransactionRecord, error) {
	return r.list(limit, func(rec *payment.TransactionRecord) bool {
		return rec.Status == payment.StatusPending && rec.CreatedAt.Before(olderThan)
	}, func(rec *payment.TransactionRecord) time.Time { return rec.CreatedAt })
}

func (r *TransactionRepository) ListUnclaimedCompleted(_ context.Context, olderThan time.Time, limit int) ([]*payment.TransactionRecord, error) {
	return r.list(limit, func(rec *payment.TransactionRecord) bool {
		return rec.Status == payment.StatusCompleted &&
			rec.TransferStatus == payment.TransferStatusNone &&
			rec.UpdatedAt.Before(olderThan)
	}, func(rec *payment.TransactionRecord) time.Time { return rec.UpdatedAt })
}

func (r *TransactionRepository) ListUnnotifiedFailed(_ context.Context, olderThan time.Time, limit int) ([]*payment.TransactionRecord, error) {
	return r.list(limit, func(rec *payment.TransactionRecord) bool {
		return rec.Status == payment.StatusFailed && !rec.FailureNotified && rec.UpdatedAt.Before(olderThan)
	}, func(rec *payment.TransactionRecord) time.Time { return rec.UpdatedAt })
}

func (r *TransactionRepository) list(limit int, match func(*payment.TransactionRecord) bool, orderBy func(*payment.TransactionRecord) time.Time) ([]*payment.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	var records []*payment.TransactionRecord
	for _, rec := range r.byRequestID {
		if match(rec) {
			records = append(records, cloneRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return orderBy(records[i]).Before(orderBy(records[j]))
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func cloneRecord(rec *payment.TransactionRecord) *payment.TransactionRecord {
	c := *rec
	c.ResultCode = clonePtr(rec.ResultCode)
	c.ResultDescription = clonePtr(rec.ResultDescription)
	c.SettlementReceiptID = clonePtr(rec.SettlementReceiptID)
	c.TransferReceiptID = clonePtr(rec.TransferReceiptID)
	c.TransferError = clonePtr(rec.TransferError)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
