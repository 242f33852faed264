package payment

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PaymentRequest is an immutable ask to collect mobile money from a payer and
// deliver tokens to a ledger account once the payment settles.
type PaymentRequest struct {
	Amount               int64  `json:"amount"` // Stored in minor units of the local currency
	PayerIdentifier      string `json:"payer_identifier"`
	DestinationAccountID string `json:"destination_account_id"`
	Reference            string `json:"reference"`
	Description          string `json:"description,omitempty"`
}

// NewPaymentRequest builds a request, generating a reference when none is supplied
func NewPaymentRequest(amount int64, payer, destination, reference, description string) (*PaymentRequest, error) {
	if reference == "" {
		reference = uuid.New().String()
	}

	req := &PaymentRequest{
		Amount:               amount,
		PayerIdentifier:      strings.TrimSpace(payer),
		DestinationAccountID: strings.TrimSpace(destination),
		Reference:            reference,
		Description:          description,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the fields every downstream collaborator relies on
func (r *PaymentRequest) Validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidRequest, r.Amount)
	}
	if r.PayerIdentifier == "" {
		return fmt.Errorf("%w: payer identifier is required", ErrInvalidRequest)
	}
	if r.DestinationAccountID == "" {
		return fmt.Errorf("%w: destination account is required", ErrInvalidRequest)
	}
	if r.Reference == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}
	return nil
}
