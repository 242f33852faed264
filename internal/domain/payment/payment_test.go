package payment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaymentRequest(t *testing.T) {
	t.Run("GeneratesReference", func(t *testing.T) {
		req, err := NewPaymentRequest(1000, " 254712345678 ", "0.0.4515", "", "Token purchase")

		require.NoError(t, err)
		assert.NotEmpty(t, req.Reference)
		assert.Equal(t, "254712345678", req.PayerIdentifier)
		assert.Equal(t, "0.0.4515", req.DestinationAccountID)
	})

	t.Run("KeepsSuppliedReference", func(t *testing.T) {
		req, err := NewPaymentRequest(1000, "254712345678", "0.0.4515", "order-1001", "")

		require.NoError(t, err)
		assert.Equal(t, "order-1001", req.Reference)
	})

	t.Run("InvalidFields", func(t *testing.T) {
		cases := []struct {
			name        string
			amount      int64
			payer       string
			destination string
		}{
			{"ZeroAmount", 0, "254712345678", "0.0.4515"},
			{"NegativeAmount", -5, "254712345678", "0.0.4515"},
			{"MissingPayer", 1000, "  ", "0.0.4515"},
			{"MissingDestination", 1000, "254712345678", ""},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				req, err := NewPaymentRequest(tc.amount, tc.payer, tc.destination, "ref", "")

				assert.Nil(t, req)
				assert.ErrorIs(t, err, ErrInvalidRequest)
			})
		}
	})
}

func TestNewSettlementUpdate(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		update := NewSettlementUpdate(0, "The service request is processed successfully.", "NLJ7RT61SV")

		assert.Equal(t, StatusCompleted, update.Status)
		require.NotNil(t, update.ResultCode)
		assert.Equal(t, 0, *update.ResultCode)
		require.NotNil(t, update.SettlementReceiptID)
		assert.Equal(t, "NLJ7RT61SV", *update.SettlementReceiptID)
	})

	t.Run("Failure", func(t *testing.T) {
		update := NewSettlementUpdate(1032, "Request cancelled by user", "")

		assert.Equal(t, StatusFailed, update.Status)
		assert.Equal(t, 1032, *update.ResultCode)
		assert.Equal(t, "Request cancelled by user", *update.ResultDescription)
		assert.Nil(t, update.SettlementReceiptID)
	})
}

func TestStatusUpdate_Accepts(t *testing.T) {
	completed := NewSettlementUpdate(0, "ok", "")
	failed := NewSettlementUpdate(1032, "cancelled", "")

	assert.True(t, completed.Accepts(StatusPending))
	assert.True(t, failed.Accepts(StatusPending))
	assert.True(t, completed.Accepts(StatusCompleted), "same terminal outcome refreshes metadata")
	assert.False(t, failed.Accepts(StatusCompleted), "earliest terminal write is authoritative")
	assert.False(t, completed.Accepts(StatusFailed))
}

func TestTransactionRecord_Apply(t *testing.T) {
	req, err := NewPaymentRequest(1000, "254712345678", "0.0.4515", "ref-001", "")
	require.NoError(t, err)

	rec := NewTransactionRecord(req, "ws_CO_1", decimal.NewFromInt(10))
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, TransferStatusNone, rec.TransferStatus)
	assert.Equal(t, "", rec.ResultText())

	at := time.Now().Add(time.Minute).UTC()
	rec.Apply(NewSettlementUpdate(0, "ok", "NLJ7RT61SV"), at)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "ok", rec.ResultText())
	assert.Equal(t, at, rec.UpdatedAt)

	// A repeat without a receipt keeps the stored one
	rec.Apply(NewSettlementUpdate(0, "ok again", ""), at)
	require.NotNil(t, rec.SettlementReceiptID)
	assert.Equal(t, "NLJ7RT61SV", *rec.SettlementReceiptID)
	assert.Equal(t, "ok again", rec.ResultText())
}

func TestErrors(t *testing.T) {
	t.Run("GatewayRejected", func(t *testing.T) {
		err := fmt.Errorf("failed to initiate: %w", GatewayRejectedError{Code: "400.002.02", Message: "Invalid PhoneNumber"})

		assert.ErrorIs(t, err, ErrGatewayRejected)
		assert.ErrorIs(t, err, GatewayRejectedError{})
		assert.ErrorIs(t, err, GatewayRejectedError{Code: "400.002.02"})
		assert.NotErrorIs(t, err, GatewayRejectedError{Code: "500.001.1001"})
		assert.NotErrorIs(t, err, ErrGatewayUnavailable)
		assert.Contains(t, err.Error(), "(400.002.02): Invalid PhoneNumber")
	})

	t.Run("SettlementAndTransfer", func(t *testing.T) {
		assert.ErrorIs(t, SettlementFailedError{ResultCode: 1032}, ErrSettlementFailed)
		assert.ErrorIs(t, TransferFailedError{Reason: "reverted"}, ErrTransferFailed)
	})

	t.Run("StoreErrors", func(t *testing.T) {
		err := fmt.Errorf("insert: %w", ErrDuplicateRequestID{RequestID: "ws_CO_1"})
		assert.ErrorIs(t, err, ErrDuplicateRequestID{})
		assert.ErrorIs(t, err, ErrDuplicateRequestID{RequestID: "ws_CO_1"})
		assert.False(t, errors.Is(err, ErrDuplicateRequestID{RequestID: "ws_CO_2"}))

		assert.ErrorIs(t, ErrRecordNotFound{Key: "ws_CO_1"}, ErrRecordNotFound{})
	})
}
