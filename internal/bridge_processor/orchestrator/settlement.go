package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

// run is the session loop: it polls until the payment settles, a callback arrives
// or the session context ends
func (o *Orchestrator) run(s *Session, logger *slog.Logger) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case update := <-s.settlements:
			logger.Info("Settlement received from callback", "status", update.Status)
			o.settle(s, logger, update)
			return
		case <-s.ctx.Done():
			o.expire(s, logger)
			return
		case <-ticker.C:
			if update, settled := o.poll(s, logger); settled {
				o.settle(s, logger, update)
				return
			}
		}
	}
}

// poll checks the store for a result written elsewhere, then asks the provider
func (o *Orchestrator) poll(s *Session, logger *slog.Logger) (payment.StatusUpdate, bool) {
	rec, err := o.store.FindByRequestID(s.ctx, s.requestID)
	if err != nil {
		if s.ctx.Err() == nil {
			logger.Warn("Store lookup failed during poll", "error", err)
		}
	} else if rec.Status.IsTerminal() {
		logger.Info("Settlement already recorded", "status", rec.Status)
		return payment.StatusUpdate{Status: rec.Status}, true
	}

	status, err := o.gateway.QueryStatus(s.ctx, s.requestID)
	if err != nil {
		if s.ctx.Err() == nil {
			logger.Warn("Settlement query failed, retrying", "error", err)
		}
		return payment.StatusUpdate{}, false
	}
	if !status.Settled {
		logger.Debug("Payment not settled yet")
		return payment.StatusUpdate{}, false
	}

	logger.Info("Settlement reported by provider", "success", status.Success, "result_code", status.ResultCode)
	return status.Update(), true
}

func (o *Orchestrator) settle(s *Session, logger *slog.Logger, update payment.StatusUpdate) {
	o.release(s)

	outcome, err := o.applySettlement(s.ctx, logger, s, s.requestID, update)
	if err != nil {
		logger.Error("Failed to apply settlement, leaving it to the reconciler", "error", err)
		outcome = Outcome{State: workflow.StateCancelled, Err: err}
	}
	s.finish(outcome)
	logger.Info("Session finished", "state", outcome.State)
}

// expire ends a session whose context is done without a settlement
func (o *Orchestrator) expire(s *Session, logger *slog.Logger) {
	if update, ok := o.release(s); ok {
		logger.Info("Settlement arrived at the deadline")
		o.settle(s, logger, update)
		return
	}

	if !errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		logger.Info("Session cancelled, record left pending")
		o.record(s.ctx, workflow.NewEvent(s.requestID, s.reference, workflow.StateCancelled, "session cancelled"))
		s.finish(Outcome{State: workflow.StateCancelled, Err: s.ctx.Err()})
		return
	}

	logger.Warn("Settlement deadline elapsed, record left pending")
	o.record(s.ctx, workflow.NewEvent(s.requestID, s.reference, workflow.StateTimedOut, "settlement not confirmed before deadline"))
	o.notify(s.ctx, logger, s.payer, paymentDelayedMessage(s.reference))
	s.finish(Outcome{State: workflow.StateTimedOut, Err: payment.ErrSettlementTimeout})
}

// applySettlement performs the idempotent store write and the side effects owed by
// whoever wins them. Both the failure notice and the transfer are guarded by store
// claims. Every step runs on its own bounded context derived from ctx, so ctx may
// already be cancelled. The returned error is an infrastructure failure; permanent
// payment outcomes are reported in Outcome.Err.
func (o *Orchestrator) applySettlement(ctx context.Context, logger *slog.Logger, s *Session, requestID string, update payment.StatusUpdate) (Outcome, error) {
	writeCtx, cancel := o.effectContext(ctx)
	rec, transitioned, err := o.store.UpdateStatus(writeCtx, requestID, update)
	cancel()
	if err != nil {
		return Outcome{}, err
	}
	if !transitioned && rec.Status != update.Status {
		logger.Info("Earlier terminal status kept", "stored", rec.Status, "reported", update.Status)
	}

	switch rec.Status {
	case payment.StatusFailed:
		failure := payment.SettlementFailedError{ResultDescription: rec.ResultText()}
		if rec.ResultCode != nil {
			failure.ResultCode = *rec.ResultCode
		}
		if _, err := o.failureNotice(ctx, logger, rec); err != nil {
			logger.Warn("Failure notice left to the reconciler", "error", err)
		}
		return Outcome{State: workflow.StatePaymentFailed, Err: failure}, nil

	case payment.StatusCompleted:
		s.setState(workflow.StateTransferring)
		return o.transfer(ctx, logger, rec)
	}

	// UpdateStatus only ever stores terminal statuses
	return Outcome{State: workflow.StateAwaitingSettlement}, nil
}

// failureNotice claims the notice for a failed record and, when this caller wins,
// records the failure and tells the payer
func (o *Orchestrator) failureNotice(ctx context.Context, logger *slog.Logger, rec *payment.TransactionRecord) (bool, error) {
	claimCtx, cancel := o.effectContext(ctx)
	claimed, err := o.store.ClaimFailureNotice(claimCtx, rec.RequestID)
	cancel()
	if err != nil {
		return false, err
	}
	if !claimed {
		logger.Debug("Failure notice already claimed")
		return false, nil
	}

	event := workflow.NewEvent(rec.RequestID, rec.Reference, workflow.StatePaymentFailed, rec.ResultText())
	event.ResultCode = rec.ResultCode
	o.record(ctx, event)
	o.notify(ctx, logger, rec.PayerIdentifier, paymentFailedMessage(rec))
	return true, nil
}

// transfer claims the record and moves the tokens. Losing the claim means another
// path owns the transfer; the outcome then reflects what the store knows.
func (o *Orchestrator) transfer(ctx context.Context, logger *slog.Logger, rec *payment.TransactionRecord) (Outcome, error) {
	claimCtx, cancel := o.effectContext(ctx)
	claimed, err := o.store.ClaimTransfer(claimCtx, rec.RequestID)
	cancel()
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		logger.Info("Transfer already claimed, skipping")
		return o.claimedOutcome(ctx, logger, rec), nil
	}

	logger = logger.With("destination", rec.DestinationAccountID, "transfer_amount", rec.TransferAmount.String())
	logger.Info("Transferring tokens")
	o.record(ctx, workflow.NewEvent(rec.RequestID, rec.Reference, workflow.StateTransferring, rec.TransferAmount.String()))

	transferCtx, cancel := o.transferContext(ctx)
	receipt, err := o.transfers.Transfer(transferCtx, rec.DestinationAccountID, rec.TransferAmount)
	cancel()
	if err != nil {
		var failure payment.TransferFailedError
		if !errors.As(err, &failure) {
			failure = payment.TransferFailedError{Reason: err.Error()}
		}
		logger.Error("Transfer failed, manual reconciliation required", "error", err)

		o.notify(ctx, logger, rec.PayerIdentifier, transferFailedMessage(rec))
		o.recordTransferOutcome(ctx, logger, rec.RequestID, payment.TransferOutcome{
			Status: payment.TransferStatusFailed,
			Error:  failure.Reason,
		})
		o.record(ctx, workflow.NewEvent(rec.RequestID, rec.Reference, workflow.StateTransferFailed, failure.Reason))
		return Outcome{State: workflow.StateTransferFailed, Err: failure}, nil
	}

	logger.Info("Tokens delivered", "receipt_id", receipt.ReceiptID)
	o.notify(ctx, logger, rec.PayerIdentifier, transferSucceededMessage(rec, receipt.ReceiptID))
	o.recordTransferOutcome(ctx, logger, rec.RequestID, payment.TransferOutcome{
		Status:    payment.TransferStatusSucceeded,
		ReceiptID: receipt.ReceiptID,
	})
	event := workflow.NewEvent(rec.RequestID, rec.Reference, workflow.StateCompleted, rec.DestinationAccountID)
	event.ReceiptID = receipt.ReceiptID
	o.record(ctx, event)
	return Outcome{State: workflow.StateCompleted}, nil
}

// claimedOutcome reports a transfer owned elsewhere. While that owner is still
// running the session ends HANDED_OFF and performs no side effects of its own.
func (o *Orchestrator) claimedOutcome(ctx context.Context, logger *slog.Logger, rec *payment.TransactionRecord) Outcome {
	readCtx, cancel := o.effectContext(ctx)
	defer cancel()
	current, err := o.store.FindByRequestID(readCtx, rec.RequestID)
	if err != nil {
		logger.Warn("Failed to read transfer status", "error", err)
		return Outcome{State: workflow.StateHandedOff}
	}

	switch current.TransferStatus {
	case payment.TransferStatusSucceeded:
		return Outcome{State: workflow.StateCompleted}
	case payment.TransferStatusFailed:
		reason := ""
		if current.TransferError != nil {
			reason = *current.TransferError
		}
		return Outcome{State: workflow.StateTransferFailed, Err: payment.TransferFailedError{Reason: reason}}
	}
	return Outcome{State: workflow.StateHandedOff}
}

// recordTransferOutcome failures leave the record claimed, which is never retried
func (o *Orchestrator) recordTransferOutcome(ctx context.Context, logger *slog.Logger, requestID string, outcome payment.TransferOutcome) {
	ctx, cancel := o.effectContext(ctx)
	defer cancel()
	if err := o.store.RecordTransferOutcome(ctx, requestID, outcome); err != nil {
		logger.Error("Failed to record transfer outcome", "transfer_status", outcome.Status, "error", err)
	}
}
