package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the settlement state of a mobile-money payment
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further status transition is permitted
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransferStatus tracks the at-most-once ledger transfer attached to a completed payment
type TransferStatus string

const (
	TransferStatusNone      TransferStatus = "none"
	TransferStatusClaimed   TransferStatus = "claimed"
	TransferStatusSucceeded TransferStatus = "succeeded"
	TransferStatusFailed    TransferStatus = "failed"
)

// TransactionRecord is the durable view of one STK push, keyed by the provider request id
type TransactionRecord struct {
	RequestID            string          `json:"request_id"`
	Reference            string          `json:"reference"`
	PayerIdentifier      string          `json:"payer_identifier"`
	DestinationAccountID string          `json:"destination_account_id"`
	Description          string          `json:"description,omitempty"`
	Amount               int64           `json:"amount"` // Stored in minor units
	Status               Status          `json:"status"`
	ResultCode           *int            `json:"result_code,omitempty"`
	ResultDescription    *string         `json:"result_description,omitempty"`
	SettlementReceiptID  *string         `json:"settlement_receipt_id,omitempty"`
	TransferAmount       decimal.Decimal `json:"transfer_amount"`
	TransferStatus       TransferStatus  `json:"transfer_status"`
	TransferReceiptID    *string         `json:"transfer_receipt_id,omitempty"`
	TransferError        *string         `json:"transfer_error,omitempty"`
	FailureNotified      bool            `json:"failure_notified"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// NewTransactionRecord creates the pending record persisted right after a successful initiation
func NewTransactionRecord(req *PaymentRequest, requestID string, transferAmount decimal.Decimal) *TransactionRecord {
	now := time.Now().UTC()
	return &TransactionRecord{
		RequestID:            requestID,
		Reference:            req.Reference,
		PayerIdentifier:      req.PayerIdentifier,
		DestinationAccountID: req.DestinationAccountID,
		Description:          req.Description,
		Amount:               req.Amount,
		Status:               StatusPending,
		TransferAmount:       transferAmount,
		TransferStatus:       TransferStatusNone,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// StatusUpdate is a settlement observation applied through Repository.UpdateStatus
type StatusUpdate struct {
	Status              Status
	ResultCode          *int
	ResultDescription   *string
	SettlementReceiptID *string
}

// NewSettlementUpdate maps a provider result code onto a terminal status update
func NewSettlementUpdate(resultCode int, resultDescription, receiptID string) StatusUpdate {
	update := StatusUpdate{
		Status:            StatusFailed,
		ResultCode:        &resultCode,
		ResultDescription: &resultDescription,
	}
	if resultCode == 0 {
		update.Status = StatusCompleted
	}
	if receiptID != "" {
		update.SettlementReceiptID = &receiptID
	}
	return update
}

// Accepts reports whether the update may be written over the given stored status.
// The earliest terminal write is authoritative; a repeat of the same terminal outcome
// only refreshes metadata.
func (u StatusUpdate) Accepts(current Status) bool {
	if !current.IsTerminal() {
		return true
	}
	return current == u.Status
}

// Apply copies the update onto the record, keeping existing metadata for nil fields
func (r *TransactionRecord) Apply(u StatusUpdate, at time.Time) {
	r.Status = u.Status
	if u.ResultCode != nil {
		r.ResultCode = u.ResultCode
	}
	if u.ResultDescription != nil {
		r.ResultDescription = u.ResultDescription
	}
	if u.SettlementReceiptID != nil {
		r.SettlementReceiptID = u.SettlementReceiptID
	}
	r.UpdatedAt = at
}

// ResultText returns the provider's description, or an empty string when absent
func (r *TransactionRecord) ResultText() string {
	if r.ResultDescription == nil {
		return ""
	}
	return *r.ResultDescription
}

// TransferOutcome is attached to a record after the ledger call returns
type TransferOutcome struct {
	Status    TransferStatus
	ReceiptID string
	Error     string
}
