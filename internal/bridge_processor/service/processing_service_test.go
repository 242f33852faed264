package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mpesa-token-bridge/internal/bridge_processor/orchestrator"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

type MockPurchaseValidator struct {
	mock.Mock
}

func (m *MockPurchaseValidator) Validate(ctx context.Context, request *shared.PurchaseRequest) (*payment.PaymentRequest, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PaymentRequest), args.Error(1)
}

func (m *MockPurchaseValidator) CheckIdempotency(ctx context.Context, request *shared.PurchaseRequest) (bool, error) {
	args := m.Called(ctx, request)
	return args.Bool(0), args.Error(1)
}

type MockWorkflow struct {
	mock.Mock
}

func (m *MockWorkflow) Start(ctx context.Context, req *payment.PaymentRequest) (*orchestrator.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.Session), args.Error(1)
}

func (m *MockWorkflow) HandleCallback(ctx context.Context, requestID string, update payment.StatusUpdate) error {
	args := m.Called(ctx, requestID, update)
	return args.Error(0)
}

type MockAuditRecorder struct {
	mock.Mock
}

func (m *MockAuditRecorder) Record(ctx context.Context, event *workflow.Event) {
	m.Called(ctx, event)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessingService_ProcessPurchase(t *testing.T) {
	request := &shared.PurchaseRequest{
		Amount:               1000,
		PhoneNumber:          "254712345678",
		DestinationAccountID: "0.0.4515",
		Reference:            "ref-001",
		CorrelationID:        "corr-1",
	}
	paymentReq, err := request.ToPaymentRequest()
	assert.NoError(t, err)

	tests := []struct {
		name          string
		setupMocks    func(v *MockPurchaseValidator, w *MockWorkflow, a *MockAuditRecorder)
		expectedError error
	}{
		{
			name: "successful start",
			setupMocks: func(v *MockPurchaseValidator, w *MockWorkflow, a *MockAuditRecorder) {
				v.On("Validate", mock.Anything, request).Return(paymentReq, nil).Once()
				v.On("CheckIdempotency", mock.Anything, request).Return(false, nil).Once()
				w.On("Start", mock.Anything, paymentReq).Return(&orchestrator.Session{}, nil).Once()
			},
		},
		{
			name: "validation failure is acknowledged and audited",
			setupMocks: func(v *MockPurchaseValidator, w *MockWorkflow, a *MockAuditRecorder) {
				v.On("Validate", mock.Anything, request).Return(nil, payment.ErrInvalidRequest).Once()
				a.On("Record", mock.Anything, mock.MatchedBy(func(e *workflow.Event) bool {
					return e.State == workflow.StateRejected && e.Reference == "ref-001"
				})).Once()
			},
		},
		{
			name: "already processed",
			setupMocks: func(v *MockPurchaseValidator, w *MockWorkflow, a *MockAuditRecorder) {
				v.On("Validate", mock.Anything, request).Return(paymentReq, nil).Once()
				v.On("CheckIdempotency", mock.Anything, request).Return(true, nil).Once()
			},
		},
		{
			name: "idempotency check error is retried",
			setupMocks: func(v *MockPurchaseValidator, w *MockWorkflow, a *MockAuditRecorder) {
				v.On("Validate", mock.Anything, request).Return(paymentReq, nil).Once()
				v.On("CheckIdempotency", mock.Anything, request).Return(false, errors.New("db down")).Once()
			},
			expectedError: errors.New("db down"),
		},
		{
			name: "gateway rejection is acknowledged",
			setupMocks: func(v *MockPurchaseValidator, w *MockWorkflow, a *MockAuditRecorder) {
				v.On("Validate", mock.Anything, request).Return(paymentReq, nil).Once()
				v.On("CheckIdempotency", mock.Anything, request).Return(false, nil).Once()
				w.On("Start", mock.Anything, paymentReq).Return(nil, payment.GatewayRejectedError{Message: "Invalid PhoneNumber"}).Once()
			},
		},
		{
			name: "gateway unavailable is retried",
			setupMocks: func(v *MockPurchaseValidator, w *MockWorkflow, a *MockAuditRecorder) {
				v.On("Validate", mock.Anything, request).Return(paymentReq, nil).Once()
				v.On("CheckIdempotency", mock.Anything, request).Return(false, nil).Once()
				w.On("Start", mock.Anything, paymentReq).Return(nil, payment.ErrGatewayUnavailable).Once()
			},
			expectedError: payment.ErrGatewayUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := &MockPurchaseValidator{}
			wf := &MockWorkflow{}
			audit := &MockAuditRecorder{}
			tt.setupMocks(validator, wf, audit)

			svc := NewProcessingService(validator, wf, audit, testLogger())
			err := svc.ProcessPurchase(context.Background(), request)

			if tt.expectedError != nil {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError.Error())
			} else {
				assert.NoError(t, err)
			}

			validator.AssertExpectations(t)
			wf.AssertExpectations(t)
			audit.AssertExpectations(t)
		})
	}
}

func TestProcessingService_ProcessSettlement(t *testing.T) {
	t.Run("AppliesCallback", func(t *testing.T) {
		wf := &MockWorkflow{}
		svc := NewProcessingService(&MockPurchaseValidator{}, wf, &MockAuditRecorder{}, testLogger())

		event := &shared.SettlementEvent{RequestID: "req-1", ResultCode: 0, ResultDescription: "Success", ReceiptID: "SFL1"}
		wf.On("HandleCallback", mock.Anything, "req-1", payment.NewSettlementUpdate(0, "Success", "SFL1")).Return(nil).Once()

		assert.NoError(t, svc.ProcessSettlement(context.Background(), event))
		wf.AssertExpectations(t)
	})

	t.Run("ReturnsStoreErrors", func(t *testing.T) {
		wf := &MockWorkflow{}
		svc := NewProcessingService(&MockPurchaseValidator{}, wf, &MockAuditRecorder{}, testLogger())

		storeErr := errors.New("connection reset")
		wf.On("HandleCallback", mock.Anything, "req-1", mock.Anything).Return(storeErr).Once()

		err := svc.ProcessSettlement(context.Background(), &shared.SettlementEvent{RequestID: "req-1", ResultCode: 1032})
		assert.ErrorIs(t, err, storeErr)
	})

	t.Run("DropsEventWithoutRequestID", func(t *testing.T) {
		wf := &MockWorkflow{}
		svc := NewProcessingService(&MockPurchaseValidator{}, wf, &MockAuditRecorder{}, testLogger())

		assert.NoError(t, svc.ProcessSettlement(context.Background(), &shared.SettlementEvent{}))
		wf.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything, mock.Anything)
	})
}
