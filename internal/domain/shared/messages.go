// Package shared holds the message contracts exchanged between the gateway and the processor.
package shared

import (
	"time"

	"github.com/mpesa-token-bridge/internal/domain/payment"
)

// PurchaseRequest defines a Kafka message asking the processor to start a settlement workflow
type PurchaseRequest struct {
	Amount               int64     `json:"amount"` // Stored in minor units
	PhoneNumber          string    `json:"phone_number"`
	DestinationAccountID string    `json:"destination_account_id"`
	Reference            string    `json:"reference"`
	Description          string    `json:"description,omitempty"`
	CorrelationID        string    `json:"correlation_id"`
	Timestamp            time.Time `json:"timestamp"`
}

// ToPaymentRequest converts the message into a validated domain request
func (p *PurchaseRequest) ToPaymentRequest() (*payment.PaymentRequest, error) {
	return payment.NewPaymentRequest(p.Amount, p.PhoneNumber, p.DestinationAccountID, p.Reference, p.Description)
}

// SettlementEvent defines a Kafka message carrying an asynchronous provider callback
type SettlementEvent struct {
	RequestID         string    `json:"request_id"`
	ResultCode        int       `json:"result_code"`
	ResultDescription string    `json:"result_description"`
	ReceiptID         string    `json:"receipt_id,omitempty"`
	Amount            int64     `json:"amount,omitempty"`
	PhoneNumber       string    `json:"phone_number,omitempty"`
	CorrelationID     string    `json:"correlation_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// Succeeded reports whether the provider confirmed the payment
func (e *SettlementEvent) Succeeded() bool {
	return e.ResultCode == 0
}
