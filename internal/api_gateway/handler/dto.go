package handler

import (
	"time"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

// CreatePurchaseRequest represents a request to buy tokens with M-Pesa
type CreatePurchaseRequest struct {
	Amount               int64  `json:"amount" binding:"required,gt=0"` // Whole KES
	PhoneNumber          string `json:"phone_number" binding:"required"`
	DestinationAccountID string `json:"destination_account_id" binding:"required"`
	Reference            string `json:"reference,omitempty" binding:"omitempty,max=64"`
	Description          string `json:"description,omitempty" binding:"omitempty,max=100"`
}

// PurchaseResponse represents a purchase in API responses
type PurchaseResponse struct {
	Reference            string `json:"reference"`
	RequestID            string `json:"request_id,omitempty"`
	Status               string `json:"status"`
	Amount               int64  `json:"amount,omitempty"`
	PhoneNumber          string `json:"phone_number,omitempty"`
	DestinationAccountID string `json:"destination_account_id,omitempty"`
	TransferAmount       string `json:"transfer_amount,omitempty"`
	ResultCode           *int   `json:"result_code,omitempty"`
	ResultDescription    string `json:"result_description,omitempty"`
	MpesaReceiptNumber   string `json:"mpesa_receipt_number,omitempty"`
	TransferStatus       string `json:"transfer_status,omitempty"`
	TransferReceiptID    string `json:"transfer_receipt_id,omitempty"`
	TransferError        string `json:"transfer_error,omitempty"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at,omitempty"`
}

// CallbackAck is the body Daraja expects back from the callback URL
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Status values exposed by the API
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRejected  = "REJECTED"
)

var apiStatus = map[payment.Status]string{
	payment.StatusPending:   StatusPending,
	payment.StatusCompleted: StatusCompleted,
	payment.StatusFailed:    StatusFailed,
}

// mapRecordToResponse maps a transaction record to a purchase response DTO
func mapRecordToResponse(rec *payment.TransactionRecord) PurchaseResponse {
	response := PurchaseResponse{
		Reference:            rec.Reference,
		RequestID:            rec.RequestID,
		Status:               apiStatus[rec.Status],
		Amount:               rec.Amount,
		PhoneNumber:          rec.PayerIdentifier,
		DestinationAccountID: rec.DestinationAccountID,
		TransferAmount:       rec.TransferAmount.String(),
		ResultCode:           rec.ResultCode,
		ResultDescription:    rec.ResultText(),
		CreatedAt:            rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.TransferStatus != payment.TransferStatusNone {
		response.TransferStatus = string(rec.TransferStatus)
	}
	if rec.SettlementReceiptID != nil {
		response.MpesaReceiptNumber = *rec.SettlementReceiptID
	}
	if rec.TransferReceiptID != nil {
		response.TransferReceiptID = *rec.TransferReceiptID
	}
	if rec.TransferError != nil {
		response.TransferError = *rec.TransferError
	}
	return response
}

// mapRejectionToResponse maps an audit rejection to a purchase response DTO
func mapRejectionToResponse(event *workflow.Event) PurchaseResponse {
	return PurchaseResponse{
		Reference:         event.Reference,
		Status:            StatusRejected,
		ResultDescription: event.Detail,
		CreatedAt:         event.OccurredAt.Format(time.RFC3339),
	}
}
