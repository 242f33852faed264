package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mpesa-token-bridge/internal/data/memory"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

type MockMessagingProducer struct {
	mock.Mock
}

func (m *MockMessagingProducer) Publish(ctx context.Context, key string, value interface{}) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockMessagingProducer) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Append(ctx context.Context, event *workflow.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventRepository) ListByRequestID(ctx context.Context, requestID string) ([]*workflow.Event, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*workflow.Event), args.Error(1)
}

func (m *MockEventRepository) LatestByReference(ctx context.Context, reference string) (*workflow.Event, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*workflow.Event), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedRecord(t *testing.T, store *memory.TransactionRepository, requestID, reference string) *payment.TransactionRecord {
	t.Helper()
	req, err := payment.NewPaymentRequest(1000, "254712345678", "0.0.4515", reference, "")
	require.NoError(t, err)
	rec := payment.NewTransactionRecord(req, requestID, decimal.NewFromInt(10))
	require.NoError(t, store.Insert(context.Background(), rec))
	return rec
}

func purchaseRequest(reference string) *shared.PurchaseRequest {
	return &shared.PurchaseRequest{
		Amount:               1000,
		PhoneNumber:          "254712345678",
		DestinationAccountID: "0.0.4515",
		Reference:            reference,
		CorrelationID:        "corr-1",
		Timestamp:            time.Now().UTC(),
	}
}

func TestPurchaseService_SubmitPurchase(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishesKeyedByReference", func(t *testing.T) {
		producer := new(MockMessagingProducer)
		svc := NewPurchaseService(testLogger(), memory.NewTransactionRepository(), nil, producer)
		request := purchaseRequest("ref-001")

		producer.On("Publish", ctx, "ref-001", request).Return(nil).Once()

		existing, err := svc.SubmitPurchase(ctx, request)
		require.NoError(t, err)
		assert.Nil(t, existing)
		producer.AssertExpectations(t)
	})

	t.Run("ExistingRecordReturnedWithoutPublishing", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedRecord(t, store, "ws_CO_1", "ref-002")
		producer := new(MockMessagingProducer)
		svc := NewPurchaseService(testLogger(), store, nil, producer)

		existing, err := svc.SubmitPurchase(ctx, purchaseRequest("ref-002"))
		require.NoError(t, err)
		require.NotNil(t, existing)
		assert.Equal(t, "ws_CO_1", existing.RequestID)
		producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("PublishFailure", func(t *testing.T) {
		producer := new(MockMessagingProducer)
		svc := NewPurchaseService(testLogger(), memory.NewTransactionRepository(), nil, producer)
		producer.On("Publish", ctx, "ref-003", mock.Anything).Return(errors.New("broker down")).Once()

		_, err := svc.SubmitPurchase(ctx, purchaseRequest("ref-003"))
		assert.EqualError(t, err, "broker down")
	})

	t.Run("StoreFailure", func(t *testing.T) {
		store := memory.NewTransactionRepository().WithError(errors.New("db down"))
		svc := NewPurchaseService(testLogger(), store, nil, new(MockMessagingProducer))

		_, err := svc.SubmitPurchase(ctx, purchaseRequest("ref-004"))
		assert.ErrorContains(t, err, "failed to check reference ref-004")
	})
}

func TestPurchaseService_GetByReference(t *testing.T) {
	ctx := context.Background()

	t.Run("RecordFound", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedRecord(t, store, "ws_CO_1", "ref-001")
		events := new(MockEventRepository)
		svc := NewPurchaseService(testLogger(), store, events, new(MockMessagingProducer))

		status, err := svc.GetByReference(ctx, "ref-001")
		require.NoError(t, err)
		require.NotNil(t, status.Record)
		assert.Nil(t, status.Rejection)
		events.AssertNotCalled(t, "LatestByReference", mock.Anything, mock.Anything)
	})

	t.Run("RejectedFromAuditLog", func(t *testing.T) {
		events := new(MockEventRepository)
		rejected := workflow.NewEvent("", "ref-rej", workflow.StateRejected, "Invalid PhoneNumber")
		events.On("LatestByReference", ctx, "ref-rej").Return(rejected, nil).Once()
		svc := NewPurchaseService(testLogger(), memory.NewTransactionRepository(), events, new(MockMessagingProducer))

		status, err := svc.GetByReference(ctx, "ref-rej")
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.Equal(t, rejected, status.Rejection)
	})

	t.Run("NonRejectionEventIsNotFound", func(t *testing.T) {
		events := new(MockEventRepository)
		events.On("LatestByReference", ctx, "ref-x").
			Return(workflow.NewEvent("ws_CO_9", "ref-x", workflow.StateInitiated, ""), nil).Once()
		svc := NewPurchaseService(testLogger(), memory.NewTransactionRepository(), events, new(MockMessagingProducer))

		status, err := svc.GetByReference(ctx, "ref-x")
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("UnknownWithoutAuditLog", func(t *testing.T) {
		svc := NewPurchaseService(testLogger(), memory.NewTransactionRepository(), nil, new(MockMessagingProducer))
		status, err := svc.GetByReference(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("AuditLogFailureIsNotFound", func(t *testing.T) {
		events := new(MockEventRepository)
		events.On("LatestByReference", ctx, "ref-y").Return(nil, errors.New("mongo down")).Once()
		svc := NewPurchaseService(testLogger(), memory.NewTransactionRepository(), events, new(MockMessagingProducer))

		status, err := svc.GetByReference(ctx, "ref-y")
		require.NoError(t, err)
		assert.Nil(t, status)
	})
}

func TestPurchaseService_GetByRequestID(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTransactionRepository()
	seedRecord(t, store, "ws_CO_1", "ref-001")
	svc := NewPurchaseService(testLogger(), store, nil, new(MockMessagingProducer))

	rec, err := svc.GetByRequestID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, "ref-001", rec.Reference)

	rec, err = svc.GetByRequestID(ctx, "ws_CO_missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCallbackService_RecordSettlement(t *testing.T) {
	ctx := context.Background()
	event := &shared.SettlementEvent{
		RequestID:         "ws_CO_1",
		ResultCode:        0,
		ResultDescription: "The service request is processed successfully.",
		ReceiptID:         "NLJ7RT61SV",
	}

	t.Run("Relayed", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedRecord(t, store, "ws_CO_1", "ref-001")
		producer := new(MockMessagingProducer)
		producer.On("Publish", ctx, "ws_CO_1", event).Return(nil).Once()

		require.NoError(t, NewCallbackService(testLogger(), store, producer).RecordSettlement(ctx, event))

		rec, err := store.FindByRequestID(ctx, "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusPending, rec.Status, "relay leaves the write to the processor")
		producer.AssertExpectations(t)
	})

	t.Run("PublishFailureFallsBackToStore", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedRecord(t, store, "ws_CO_1", "ref-001")
		producer := new(MockMessagingProducer)
		producer.On("Publish", ctx, "ws_CO_1", event).Return(errors.New("broker down")).Once()

		require.NoError(t, NewCallbackService(testLogger(), store, producer).RecordSettlement(ctx, event))

		rec, err := store.FindByRequestID(ctx, "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusCompleted, rec.Status)
		require.NotNil(t, rec.SettlementReceiptID)
		assert.Equal(t, "NLJ7RT61SV", *rec.SettlementReceiptID)
	})

	t.Run("FallbackForUnknownRequestDropped", func(t *testing.T) {
		producer := new(MockMessagingProducer)
		producer.On("Publish", ctx, "ws_CO_1", event).Return(errors.New("broker down")).Once()

		err := NewCallbackService(testLogger(), memory.NewTransactionRepository(), producer).RecordSettlement(ctx, event)
		assert.NoError(t, err)
	})

	t.Run("BothPathsFail", func(t *testing.T) {
		store := memory.NewTransactionRepository().WithError(errors.New("db down"))
		producer := new(MockMessagingProducer)
		producer.On("Publish", ctx, "ws_CO_1", event).Return(errors.New("broker down")).Once()

		err := NewCallbackService(testLogger(), store, producer).RecordSettlement(ctx, event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
		assert.Contains(t, err.Error(), "db down")
	})
}
