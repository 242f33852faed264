package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

// Outcome is how a workflow run ended for this process. Err carries a
// SettlementFailedError, ErrSettlementTimeout or TransferFailedError for the permanent
// payment outcomes. HANDED_OFF means another path holds the transfer and its result
// is only visible in the store.
type Outcome struct {
	State workflow.State
	Err   error
}

// Session is one active settlement workflow, keyed by the provider request id
type Session struct {
	requestID     string
	reference     string
	payer         string
	destination   string
	amount        int64
	pendingAmount decimal.Decimal
	deadline      time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	settlements chan payment.StatusUpdate
	done        chan struct{}

	mu      sync.Mutex
	state   workflow.State
	outcome Outcome
}

func newSession(parent context.Context, req *payment.PaymentRequest, requestID string, pendingAmount decimal.Decimal, deadline time.Time) *Session {
	ctx, cancel := context.WithDeadline(parent, deadline)
	return &Session{
		requestID:     requestID,
		reference:     req.Reference,
		payer:         req.PayerIdentifier,
		destination:   req.DestinationAccountID,
		amount:        req.Amount,
		pendingAmount: pendingAmount,
		deadline:      deadline,
		ctx:           ctx,
		cancel:        cancel,
		settlements:   make(chan payment.StatusUpdate, 1),
		done:          make(chan struct{}),
		state:         workflow.StateInitiated,
	}
}

func (s *Session) RequestID() string { return s.requestID }
func (s *Session) Reference() string { return s.reference }
func (s *Session) Deadline() time.Time { return s.deadline }
func (s *Session) PendingAmount() decimal.Decimal { return s.pendingAmount }

// Done is closed once the session reaches a terminal outcome
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current workflow state
func (s *Session) State() workflow.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session may still produce side effects
func (s *Session) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Outcome returns the terminal result; it is only meaningful after Done is closed
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// setState tolerates a nil session for settlements applied outside a session
func (s *Session) setState(state workflow.State) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) finish(outcome Outcome) {
	s.mu.Lock()
	s.state = outcome.State
	s.outcome = outcome
	s.mu.Unlock()
	s.cancel()
	close(s.done)
}
