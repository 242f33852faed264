// Package postgres provides PostgreSQL implementations of the domain repositories.
// Status transitions and the transfer and failure-notice claims are single statements so concurrent
// poll loops, callbacks and reconciler passes never interleave on a row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/platform/persistence"
)

const uniqueViolationCode = "23505"

const selectColumns = `request_id, reference, payer_identifier, destination_account_id, description, amount, status,
		result_code, result_description, settlement_receipt_id, transfer_amount::text, transfer_status,
		transfer_receipt_id, transfer_error, failure_notified, created_at, updated_at`

const (
	insertQuery = `
		INSERT INTO stk_transactions (request_id, reference, payer_identifier, destination_account_id, description,
			amount, status, transfer_amount, transfer_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11)
	`

	findByRequestIDQuery = `
		SELECT ` + selectColumns + `
		FROM stk_transactions
		WHERE request_id = $1
	`

	findByReferenceQuery = `
		SELECT ` + selectColumns + `
		FROM stk_transactions
		WHERE reference = $1
	`

	// The CTE takes the row lock first, so prev.status is the committed status a
	// concurrent writer left behind, not a stale snapshot.
	updateStatusQuery = `
		WITH prev AS (
			SELECT request_id, status FROM stk_transactions WHERE request_id = $1 FOR UPDATE
		)
		UPDATE stk_transactions t
		SET status = $2,
			result_code = COALESCE($3, t.result_code),
			result_description = COALESCE($4, t.result_description),
			settlement_receipt_id = COALESCE($5, t.settlement_receipt_id),
			updated_at = $6
		FROM prev
		WHERE t.request_id = prev.request_id AND (prev.status = $7 OR prev.status = $2)
		RETURNING t.request_id, t.reference, t.payer_identifier, t.destination_account_id, t.description, t.amount, t.status,
			t.result_code, t.result_description, t.settlement_receipt_id, t.transfer_amount::text, t.transfer_status,
			t.transfer_receipt_id, t.transfer_error, t.failure_notified, t.created_at, t.updated_at, prev.status
	`

	claimTransferQuery = `
		UPDATE stk_transactions
		SET transfer_status = $2, updated_at = NOW()
		WHERE request_id = $1 AND status = $3 AND transfer_status = $4
	`

	claimFailureNoticeQuery = `
		UPDATE stk_transactions
		SET failure_notified = TRUE, updated_at = NOW()
		WHERE request_id = $1 AND status = $2 AND NOT failure_notified
	`

	recordTransferOutcomeQuery = `
		UPDATE stk_transactions
		SET transfer_status = $2, transfer_receipt_id = NULLIF($3, ''), transfer_error = NULLIF($4, ''), updated_at = $5
		WHERE request_id = $1 AND transfer_status = $6
	`

	listStalePendingQuery = `
		SELECT ` + selectColumns + `
		FROM stk_transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	listUnclaimedCompletedQuery = `
		SELECT ` + selectColumns + `
		FROM stk_transactions
		WHERE status = $1 AND transfer_status = $2 AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`

	listUnnotifiedFailedQuery = `
		SELECT ` + selectColumns + `
		FROM stk_transactions
		WHERE status = $1 AND NOT failure_notified AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
)

var _ payment.Repository = (*TransactionRepository)(nil)

// TransactionRepository implements the payment.Repository interface for PostgreSQL
type TransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) *TransactionRepository {
	return &TransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Insert stores a new pending record
func (r *TransactionRepository) Insert(ctx context.Context, rec *payment.TransactionRecord) error {
	_, err := r.querier.Exec(ctx, insertQuery,
		rec.RequestID,
		rec.Reference,
		rec.PayerIdentifier,
		rec.DestinationAccountID,
		rec.Description,
		rec.Amount,
		rec.Status,
		rec.TransferAmount.String(),
		rec.TransferStatus,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			if strings.Contains(pgErr.ConstraintName, "reference") {
				return fmt.Errorf("%w: %s", payment.ErrDuplicateReference, rec.Reference)
			}
			return payment.ErrDuplicateRequestID{RequestID: rec.RequestID}
		}
		r.logger.Error("Failed to insert transaction", "request_id", rec.RequestID, "error", err)
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// FindByRequestID retrieves a record by its provider request id
func (r *TransactionRepository) FindByRequestID(ctx context.Context, requestID string) (*payment.TransactionRecord, error) {
	rec, err := scanRecord(r.querier.QueryRow(ctx, findByRequestIDQuery, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrRecordNotFound{Key: requestID}
		}
		r.logger.Error("Failed to get transaction", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return rec, nil
}

// FindByReference retrieves a record by the caller reference
func (r *TransactionRepository) FindByReference(ctx context.Context, reference string) (*payment.TransactionRecord, error) {
	rec, err := scanRecord(r.querier.QueryRow(ctx, findByReferenceQuery, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrRecordNotFound{Key: reference}
		}
		r.logger.Error("Failed to get transaction by reference", "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}

	return rec, nil
}

// UpdateStatus applies a terminal settlement observation. When the stored status is
// a different terminal value the row is left untouched and the stored record is returned.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, requestID string, update payment.StatusUpdate) (*payment.TransactionRecord, bool, error) {
	if !update.Status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: status update must be terminal, got %q", payment.ErrInvalidRequest, update.Status)
	}

	var prevStatus payment.Status
	rec, err := scanRecord(r.querier.QueryRow(ctx, updateStatusQuery,
		requestID,
		update.Status,
		update.ResultCode,
		update.ResultDescription,
		update.SettlementReceiptID,
		time.Now().UTC(),
		payment.StatusPending,
	), &prevStatus)
	if err == nil {
		return rec, prevStatus == payment.StatusPending, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to update transaction status", "request_id", requestID, "status", string(update.Status), "error", err)
		return nil, false, fmt.Errorf("failed to update transaction status: %w", err)
	}

	// Either the row is missing or it already holds the other terminal status
	stored, err := r.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, false, err
	}

	r.logger.Info("Ignored conflicting terminal status",
		"request_id", requestID,
		"stored_status", string(stored.Status),
		"requested_status", string(update.Status),
	)
	return stored, false, nil
}

// ClaimTransfer moves transfer_status from none to claimed on a completed record
func (r *TransactionRepository) ClaimTransfer(ctx context.Context, requestID string) (bool, error) {
	result, err := r.querier.Exec(ctx, claimTransferQuery,
		requestID,
		payment.TransferStatusClaimed,
		payment.StatusCompleted,
		payment.TransferStatusNone,
	)
	if err != nil {
		r.logger.Error("Failed to claim transfer", "request_id", requestID, "error", err)
		return false, fmt.Errorf("failed to claim transfer: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ClaimFailureNotice sets failure_notified on a failed record that has not been notified yet
func (r *TransactionRepository) ClaimFailureNotice(ctx context.Context, requestID string) (bool, error) {
	result, err := r.querier.Exec(ctx, claimFailureNoticeQuery, requestID, payment.StatusFailed)
	if err != nil {
		r.logger.Error("Failed to claim failure notice", "request_id", requestID, "error", err)
		return false, fmt.Errorf("failed to claim failure notice: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// RecordTransferOutcome attaches the transfer result to a claimed record
func (r *TransactionRepository) RecordTransferOutcome(ctx context.Context, requestID string, outcome payment.TransferOutcome) error {
	result, err := r.querier.Exec(ctx, recordTransferOutcomeQuery,
		requestID,
		outcome.Status,
		outcome.ReceiptID,
		outcome.Error,
		time.Now().UTC(),
		payment.TransferStatusClaimed,
	)
	if err != nil {
		r.logger.Error("Failed to record transfer outcome", "request_id", requestID, "error", err)
		return fmt.Errorf("failed to record transfer outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", payment.ErrTransferNotClaimed, requestID)
	}

	return nil
}

// ListStalePending returns pending records created before olderThan, oldest first
func (r *TransactionRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*payment.TransactionRecord, error) {
	rows, err := r.querier.Query(ctx, listStalePendingQuery, payment.StatusPending, olderThan, limit)
	if err != nil {
		r.logger.Error("Failed to list stale pending transactions", "error", err)
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}

	return collectRecords(rows)
}

// ListUnclaimedCompleted returns completed records whose transfer was never claimed
func (r *TransactionRepository) ListUnclaimedCompleted(ctx context.Context, olderThan time.Time, limit int) ([]*payment.TransactionRecord, error) {
	rows, err := r.querier.Query(ctx, listUnclaimedCompletedQuery, payment.StatusCompleted, payment.TransferStatusNone, olderThan, limit)
	if err != nil {
		r.logger.Error("Failed to list unclaimed completed transactions", "error", err)
		return nil, fmt.Errorf("failed to list unclaimed completed transactions: %w", err)
	}

	return collectRecords(rows)
}

// ListUnnotifiedFailed returns failed records whose payer was never told, oldest first
func (r *TransactionRepository) ListUnnotifiedFailed(ctx context.Context, olderThan time.Time, limit int) ([]*payment.TransactionRecord, error) {
	rows, err := r.querier.Query(ctx, listUnnotifiedFailedQuery, payment.StatusFailed, olderThan, limit)
	if err != nil {
		r.logger.Error("Failed to list unnotified failed transactions", "error", err)
		return nil, fmt.Errorf("failed to list unnotified failed transactions: %w", err)
	}

	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*payment.TransactionRecord, error) {
	defer rows.Close()

	var records []*payment.TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return records, nil
}

// scanRecord reads the selectColumns layout, followed by any extra destinations
func scanRecord(row pgx.Row, extra ...any) (*payment.TransactionRecord, error) {
	var (
		rec            payment.TransactionRecord
		transferAmount string
	)
	dest := []any{
		&rec.RequestID,
		&rec.Reference,
		&rec.PayerIdentifier,
		&rec.DestinationAccountID,
		&rec.Description,
		&rec.Amount,
		&rec.Status,
		&rec.ResultCode,
		&rec.ResultDescription,
		&rec.SettlementReceiptID,
		&transferAmount,
		&rec.TransferStatus,
		&rec.TransferReceiptID,
		&rec.TransferError,
		&rec.FailureNotified,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(transferAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid transfer amount %q: %w", transferAmount, err)
	}
	rec.TransferAmount = amount

	return &rec, nil
}
