// Package orchestrator drives the settlement workflow: it initiates an STK push,
// waits for the payment to settle under a deadline and, exactly once per settled
// payment, transfers tokens to the payer's ledger account.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

// Orchestrator owns every active session of this process
type Orchestrator struct {
	gateway   PaymentGateway
	store     payment.Repository
	notifier  Notifier
	transfers ValueTransferer
	audit     AuditRecorder
	runner    Runner
	logger    *slog.Logger

	conversionRate    decimal.Decimal
	pollInterval      time.Duration
	settlementTimeout time.Duration
	callTimeout       time.Duration
	transferTimeout   time.Duration
	now               func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithRunner runs session loops on the given runner instead of plain goroutines
func WithRunner(r Runner) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.runner = r
		}
	}
}

// WithAuditRecorder records workflow transitions
func WithAuditRecorder(a AuditRecorder) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.audit = a
		}
	}
}

// NewOrchestrator creates an orchestrator; Shutdown must be called to stop its sessions
func NewOrchestrator(
	logger *slog.Logger,
	cfg *config.WorkflowConfig,
	gateway PaymentGateway,
	store payment.Repository,
	notifier Notifier,
	transfers ValueTransferer,
	opts ...Option,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		gateway:           gateway,
		store:             store,
		notifier:          notifier,
		transfers:         transfers,
		audit:             noopAudit{},
		runner:            goRunner{},
		logger:            logger,
		conversionRate:    cfg.ConversionRate,
		pollInterval:      cfg.PollInterval,
		settlementTimeout: cfg.SettlementTimeout,
		callTimeout:       cfg.CallTimeout,
		transferTimeout:   cfg.TransferTimeout,
		now:               time.Now,
		ctx:               ctx,
		cancel:            cancel,
		sessions:          make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TransferAmount converts a paid amount into tokens at the configured rate
func (o *Orchestrator) TransferAmount(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(o.conversionRate)
}

// Start initiates the payment and, once the provider accepts it, persists the pending
// record, acknowledges the payer and begins waiting for settlement. Initiation failures
// are returned as is: nothing is persisted and no notification is sent.
func (o *Orchestrator) Start(ctx context.Context, req *payment.PaymentRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With("reference", req.Reference)
	logger.Info("Initiating payment", "amount", req.Amount, "destination", req.DestinationAccountID)

	result, err := o.gateway.Initiate(ctx, req)
	if err == nil && !result.Accepted {
		err = payment.GatewayRejectedError{Message: result.ProviderMessage}
	}
	if err != nil {
		logger.Warn("Payment initiation failed", "error", err)
		o.record(ctx, workflow.NewEvent("", req.Reference, workflow.StateRejected, err.Error()))
		return nil, fmt.Errorf("failed to initiate payment %s: %w", req.Reference, err)
	}

	pendingAmount := o.TransferAmount(req.Amount)
	s := newSession(o.ctx, req, result.RequestID, pendingAmount, o.now().Add(o.settlementTimeout))
	logger = logger.With("request_id", s.requestID)

	// Registered before the record exists so an early callback waits for this session
	o.register(s, logger)

	notify := true
	rec := payment.NewTransactionRecord(req, s.requestID, pendingAmount)
	if err := o.store.Insert(ctx, rec); err != nil {
		if !errors.Is(err, payment.ErrDuplicateRequestID{RequestID: s.requestID}) {
			if update, queued := o.release(s); queued {
				// The callback was already acknowledged; only the reconciler or an operator can recover it
				logger.Error("Settlement dropped with unpersisted session",
					"status", update.Status,
					"result_code", deref(update.ResultCode),
					"result_description", deref(update.ResultDescription),
					"settlement_receipt_id", deref(update.SettlementReceiptID),
				)
			}
			s.finish(Outcome{State: workflow.StateCancelled, Err: err})
			logger.Error("Failed to persist pending record", "error", err)
			return nil, fmt.Errorf("failed to persist pending record %s: %w", s.requestID, err)
		}
		logger.Warn("Pending record already exists, resuming settlement wait")
		notify = false
	}

	o.record(ctx, workflow.NewEvent(s.requestID, s.reference, workflow.StateInitiated, result.ProviderMessage))
	if notify {
		o.notify(ctx, logger, s.payer, paymentRequestedMessage(s.amount, s.pendingAmount, s.reference))
	}

	s.setState(workflow.StateAwaitingSettlement)
	o.wg.Add(1)
	task := func() {
		defer o.wg.Done()
		o.run(s, logger)
	}
	if err := o.runner.Submit(task); err != nil {
		logger.Warn("Worker pool rejected session, running it standalone", "error", err)
		go task()
	}

	logger.Info("Awaiting settlement", "deadline", s.deadline, "transfer_amount", pendingAmount.String())
	return s, nil
}

// HandleCallback applies an asynchronously delivered settlement result. An active session
// for the request receives it; otherwise the result is written to the store directly and
// the matching side effects run here. Only errors worth redelivering are returned.
func (o *Orchestrator) HandleCallback(ctx context.Context, requestID string, update payment.StatusUpdate) error {
	logger := o.logger.With("request_id", requestID, "status", update.Status)

	if o.deliver(requestID, update) {
		logger.Info("Settlement handed to active session")
		return nil
	}

	outcome, err := o.applySettlement(ctx, logger, nil, requestID, update)
	if err != nil {
		if errors.Is(err, payment.ErrRecordNotFound{}) {
			logger.Warn("Settlement for unknown request ignored")
			return nil
		}
		logger.Error("Failed to apply settlement", "error", err)
		return err
	}

	logger.Info("Settlement applied", "state", outcome.State)
	return nil
}

// ResumeTransfer runs the guarded transfer for a completed record whose transfer was
// never claimed, for instance after a crash between settlement and claim
func (o *Orchestrator) ResumeTransfer(ctx context.Context, rec *payment.TransactionRecord) (Outcome, error) {
	return o.transfer(ctx, o.logger.With("request_id", rec.RequestID), rec)
}

// ResumeFailureNotice tells the payer about a failed record nobody has notified yet,
// for instance one the gateway wrote directly. It reports whether this call sent it.
func (o *Orchestrator) ResumeFailureNotice(ctx context.Context, rec *payment.TransactionRecord) (bool, error) {
	return o.failureNotice(ctx, o.logger.With("request_id", rec.RequestID), rec)
}

// HasSession reports whether this process is actively waiting on the request
func (o *Orchestrator) HasSession(requestID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessions[requestID]
	return ok
}

// ActiveSessions returns the number of sessions awaiting settlement
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Shutdown cancels every active session and waits for in-flight side effects to finish.
// Cancelled sessions leave their records pending for the reconciler.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("Shutting down orchestrator", "active_sessions", o.ActiveSessions())
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain sessions: %w", ctx.Err())
	}
}

func (o *Orchestrator) register(s *Session, logger *slog.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.sessions[s.requestID]; ok {
		logger.Warn("Replacing existing session")
		prev.cancel()
	}
	o.sessions[s.requestID] = s
}

// release unregisters the session and returns any settlement delivered before it did
func (o *Orchestrator) release(s *Session) (payment.StatusUpdate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[s.requestID] == s {
		delete(o.sessions, s.requestID)
	}
	select {
	case update := <-s.settlements:
		return update, true
	default:
		return payment.StatusUpdate{}, false
	}
}

func (o *Orchestrator) deliver(requestID string, update payment.StatusUpdate) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[requestID]
	if !ok {
		return false
	}
	select {
	case s.settlements <- update:
	default:
		// A settlement is already queued; the store keeps the first terminal write anyway
	}
	return true
}

// effectContext bounds one side effect. It survives the caller's cancellation, and
// each call gets a fresh budget so a slow step never starves the next one.
func (o *Orchestrator) effectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
}

// transferContext bounds the ledger call, which waits for a receipt
func (o *Orchestrator) transferContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.transferTimeout)
}

func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, recipient, text string) {
	ctx, cancel := o.effectContext(ctx)
	defer cancel()
	if err := o.notifier.Send(ctx, recipient, text); err != nil {
		logger.Warn("Notification not delivered", "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, event *workflow.Event) {
	ctx, cancel := o.effectContext(ctx)
	defer cancel()
	o.audit.Record(ctx, event)
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
