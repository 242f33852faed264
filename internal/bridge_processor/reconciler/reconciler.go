// Package reconciler resolves records the settlement workflow left unfinished:
// payments still pending after their session ended, completed payments whose
// transfer was never claimed, and failed payments nobody told the payer about.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mpesa-token-bridge/internal/bridge_processor/orchestrator"
	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/domain/payment"
)

// StatusQuerier asks the provider for a payment's settlement
type StatusQuerier interface {
	QueryStatus(ctx context.Context, requestID string) (*payment.SettlementStatus, error)
}

// Workflow is the part of the orchestrator the reconciler drives
type Workflow interface {
	HasSession(requestID string) bool
	HandleCallback(ctx context.Context, requestID string, update payment.StatusUpdate) error
	ResumeTransfer(ctx context.Context, rec *payment.TransactionRecord) (orchestrator.Outcome, error)
	ResumeFailureNotice(ctx context.Context, rec *payment.TransactionRecord) (bool, error)
}

// Report summarizes one reconciliation pass
type Report struct {
	StalePending     int
	Settled          int
	StillPending     int
	UnclaimedResumed int
	FailureNotices   int
	Errors           int
}

// Reconciler periodically resolves stale records
type Reconciler struct {
	store             payment.Repository
	gateway           StatusQuerier
	workflow          Workflow
	logger            *slog.Logger
	interval          time.Duration
	batchSize         int
	gracePeriod       time.Duration
	settlementTimeout time.Duration
	now               func() time.Time
}

func NewReconciler(
	cfg *config.ReconcilerConfig,
	settlementTimeout time.Duration,
	store payment.Repository,
	gateway StatusQuerier,
	wf Workflow,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:             store,
		gateway:           gateway,
		workflow:          wf,
		logger:            logger,
		interval:          cfg.Interval,
		batchSize:         cfg.BatchSize,
		gracePeriod:       cfg.GracePeriod,
		settlementTimeout: settlementTimeout,
		now:               time.Now,
	}
}

// Start runs reconciliation passes until context is canceled
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Starting reconciler",
		"interval", r.interval.String(),
		"batch_size", r.batchSize,
		"grace_period", r.gracePeriod.String(),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopping due to context cancellation.")
			return
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("Reconciliation pass failed", "error", err)
				continue
			}
			if report.StalePending > 0 || report.UnclaimedResumed > 0 || report.FailureNotices > 0 {
				r.logger.Info("Reconciliation pass finished",
					"stale_pending", report.StalePending,
					"settled", report.Settled,
					"still_pending", report.StillPending,
					"unclaimed_resumed", report.UnclaimedResumed,
					"failure_notices", report.FailureNotices,
					"errors", report.Errors,
				)
			}
		}
	}
}

// RunOnce performs a single pass. Per-record failures are counted in the report and
// retried on the next pass; only listing failures are returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	now := r.now()

	stale, err := r.store.ListStalePending(ctx, now.Add(-(r.settlementTimeout + r.gracePeriod)), r.batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list stale pending records: %w", err)
	}
	for _, rec := range stale {
		if r.workflow.HasSession(rec.RequestID) {
			continue
		}
		report.StalePending++
		r.reconcilePending(ctx, rec, &report)
	}

	unclaimed, err := r.store.ListUnclaimedCompleted(ctx, now.Add(-r.gracePeriod), r.batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list unclaimed completed records: %w", err)
	}
	for _, rec := range unclaimed {
		if r.workflow.HasSession(rec.RequestID) {
			continue
		}
		logger := r.logger.With("request_id", rec.RequestID, "reference", rec.Reference)
		logger.Warn("Completed payment without a transfer claim, resuming transfer")

		outcome, err := r.workflow.ResumeTransfer(ctx, rec)
		if err != nil {
			logger.Error("Failed to resume transfer", "error", err)
			report.Errors++
			continue
		}
		logger.Info("Transfer resumed", "state", outcome.State)
		report.UnclaimedResumed++
	}

	unnotified, err := r.store.ListUnnotifiedFailed(ctx, now.Add(-r.gracePeriod), r.batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list unnotified failed records: %w", err)
	}
	for _, rec := range unnotified {
		if r.workflow.HasSession(rec.RequestID) {
			continue
		}
		logger := r.logger.With("request_id", rec.RequestID, "reference", rec.Reference)

		sent, err := r.workflow.ResumeFailureNotice(ctx, rec)
		if err != nil {
			logger.Error("Failed to send failure notice", "error", err)
			report.Errors++
			continue
		}
		if sent {
			logger.Info("Failure notice sent for failed payment")
			report.FailureNotices++
		}
	}

	return report, nil
}

func (r *Reconciler) reconcilePending(ctx context.Context, rec *payment.TransactionRecord, report *Report) {
	logger := r.logger.With("request_id", rec.RequestID, "reference", rec.Reference)

	status, err := r.gateway.QueryStatus(ctx, rec.RequestID)
	if err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			logger.Warn("Settlement query unavailable, will retry", "error", err)
		} else {
			logger.Error("Settlement query failed", "error", err)
		}
		report.Errors++
		return
	}
	if !status.Settled {
		logger.Debug("Payment still not settled")
		report.StillPending++
		return
	}

	logger.Info("Late settlement found", "success", status.Success, "result_code", status.ResultCode)
	if err := r.workflow.HandleCallback(ctx, rec.RequestID, status.Update()); err != nil {
		logger.Error("Failed to apply late settlement", "error", err)
		report.Errors++
		return
	}
	report.Settled++
}
