package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mpesa-token-bridge/internal/bridge_processor/orchestrator"
	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/data/memory"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

type MockStatusQuerier struct {
	mock.Mock
}

func (m *MockStatusQuerier) QueryStatus(ctx context.Context, requestID string) (*payment.SettlementStatus, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.SettlementStatus), args.Error(1)
}

type MockWorkflow struct {
	mock.Mock
}

func (m *MockWorkflow) HasSession(requestID string) bool {
	args := m.Called(requestID)
	return args.Bool(0)
}

func (m *MockWorkflow) HandleCallback(ctx context.Context, requestID string, update payment.StatusUpdate) error {
	args := m.Called(ctx, requestID, update)
	return args.Error(0)
}

func (m *MockWorkflow) ResumeTransfer(ctx context.Context, rec *payment.TransactionRecord) (orchestrator.Outcome, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(orchestrator.Outcome), args.Error(1)
}

func (m *MockWorkflow) ResumeFailureNotice(ctx context.Context, rec *payment.TransactionRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func seedPending(t *testing.T, store *memory.TransactionRepository, requestID, reference string, age time.Duration) {
	t.Helper()
	req, err := payment.NewPaymentRequest(1000, "254712345678", "0.0.4515", reference, "")
	require.NoError(t, err)
	rec := payment.NewTransactionRecord(req, requestID, decimal.NewFromInt(10))
	rec.CreatedAt = time.Now().Add(-age)
	rec.UpdatedAt = rec.CreatedAt
	require.NoError(t, store.Insert(context.Background(), rec))
}

func newTestReconciler(store payment.Repository, gateway StatusQuerier, wf Workflow) *Reconciler {
	cfg := &config.ReconcilerConfig{Interval: 10 * time.Millisecond, BatchSize: 10, GracePeriod: time.Minute}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReconciler(cfg, 2*time.Minute, store, gateway, wf, logger)
}

func TestReconciler_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("LateSettlementAppliedThroughCallbackPath", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedPending(t, store, "req-stale", "ref-stale", 10*time.Minute)
		seedPending(t, store, "req-fresh", "ref-fresh", time.Second)

		gateway := new(MockStatusQuerier)
		gateway.On("QueryStatus", mock.Anything, "req-stale").
			Return(&payment.SettlementStatus{Settled: true, Success: true, ResultDescription: "ok"}, nil).Once()

		wf := new(MockWorkflow)
		wf.On("HasSession", "req-stale").Return(false)
		wf.On("HandleCallback", mock.Anything, "req-stale", mock.MatchedBy(func(u payment.StatusUpdate) bool {
			return u.Status == payment.StatusCompleted
		})).Return(nil).Once()

		report, err := newTestReconciler(store, gateway, wf).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.StalePending)
		assert.Equal(t, 1, report.Settled)
		gateway.AssertExpectations(t)
		wf.AssertExpectations(t)
	})

	t.Run("ActiveSessionSkipped", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedPending(t, store, "req-1", "ref-1", 10*time.Minute)

		gateway := new(MockStatusQuerier)
		wf := new(MockWorkflow)
		wf.On("HasSession", "req-1").Return(true)

		report, err := newTestReconciler(store, gateway, wf).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, Report{}, report)
		gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
	})

	t.Run("StillPendingAndUnavailableAreRetriedLater", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedPending(t, store, "req-a", "ref-a", 10*time.Minute)
		seedPending(t, store, "req-b", "ref-b", 11*time.Minute)

		gateway := new(MockStatusQuerier)
		gateway.On("QueryStatus", mock.Anything, "req-a").Return(&payment.SettlementStatus{}, nil)
		gateway.On("QueryStatus", mock.Anything, "req-b").Return(nil, payment.ErrGatewayUnavailable)

		wf := new(MockWorkflow)
		wf.On("HasSession", mock.Anything).Return(false)

		report, err := newTestReconciler(store, gateway, wf).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.StalePending)
		assert.Equal(t, 1, report.StillPending)
		assert.Equal(t, 1, report.Errors)
		wf.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything, mock.Anything)

		rec, err := store.FindByRequestID(ctx, "req-a")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusPending, rec.Status)
	})

	t.Run("UnclaimedCompletedTransferResumed", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedPending(t, store, "req-done", "ref-done", time.Second)
		_, _, err := store.UpdateStatus(ctx, "req-done", payment.NewSettlementUpdate(0, "ok", "NLJ7RT61SV"))
		require.NoError(t, err)

		wf := new(MockWorkflow)
		wf.On("HasSession", "req-done").Return(false)
		wf.On("ResumeTransfer", mock.Anything, mock.MatchedBy(func(rec *payment.TransactionRecord) bool {
			return rec.RequestID == "req-done"
		})).Return(orchestrator.Outcome{State: workflow.StateCompleted}, nil).Once()

		r := newTestReconciler(store, new(MockStatusQuerier), wf)
		r.now = func() time.Time { return time.Now().Add(time.Hour) }

		report, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.UnclaimedResumed)
		wf.AssertExpectations(t)
	})

	t.Run("UnnotifiedFailureNoticeSent", func(t *testing.T) {
		store := memory.NewTransactionRepository()
		seedPending(t, store, "req-failed", "ref-failed", time.Second)
		seedPending(t, store, "req-live", "ref-live", time.Second)
		for _, id := range []string{"req-failed", "req-live"} {
			_, _, err := store.UpdateStatus(ctx, id, payment.NewSettlementUpdate(1032, "Request cancelled by user", ""))
			require.NoError(t, err)
		}

		wf := new(MockWorkflow)
		wf.On("HasSession", "req-failed").Return(false)
		wf.On("HasSession", "req-live").Return(true)
		wf.On("ResumeFailureNotice", mock.Anything, mock.MatchedBy(func(rec *payment.TransactionRecord) bool {
			return rec.RequestID == "req-failed"
		})).Return(true, nil).Once()

		r := newTestReconciler(store, new(MockStatusQuerier), wf)
		r.now = func() time.Time { return time.Now().Add(time.Hour) }

		report, err := r.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.FailureNotices)
		assert.Zero(t, report.Errors)
		wf.AssertExpectations(t)
	})

	t.Run("ListFailureReturned", func(t *testing.T) {
		store := memory.NewTransactionRepository().WithError(errors.New("db down"))

		_, err := newTestReconciler(store, new(MockStatusQuerier), new(MockWorkflow)).RunOnce(ctx)
		assert.ErrorContains(t, err, "failed to list stale pending records")
	})
}

func TestReconciler_StartStopsOnCancel(t *testing.T) {
	store := memory.NewTransactionRepository()
	r := newTestReconciler(store, new(MockStatusQuerier), new(MockWorkflow))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
