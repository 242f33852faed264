package orchestrator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mpesa-token-bridge/internal/domain/payment"
)

func paymentRequestedMessage(amount int64, tokens decimal.Decimal, reference string) string {
	return fmt.Sprintf("We have sent an M-Pesa prompt for KES %d to your phone. Enter your PIN to buy %s tokens. Ref: %s",
		amount, tokens.String(), reference)
}

func paymentFailedMessage(rec *payment.TransactionRecord) string {
	reason := rec.ResultText()
	if reason == "" {
		reason = "the payment was not completed"
	}
	return fmt.Sprintf("Your M-Pesa payment of KES %d failed: %s. No tokens were sent. Ref: %s",
		rec.Amount, reason, rec.Reference)
}

func paymentDelayedMessage(reference string) string {
	return fmt.Sprintf("Your M-Pesa payment is taking longer than expected. We will send your tokens as soon as it is confirmed. Ref: %s",
		reference)
}

func transferSucceededMessage(rec *payment.TransactionRecord, receiptID string) string {
	return fmt.Sprintf("Payment received. %s tokens were sent to %s. Receipt: %s",
		rec.TransferAmount.String(), rec.DestinationAccountID, receiptID)
}

func transferFailedMessage(rec *payment.TransactionRecord) string {
	return fmt.Sprintf("We received your payment of KES %d but could not deliver your tokens. Please contact support with transaction ID %s.",
		rec.Amount, rec.RequestID)
}
