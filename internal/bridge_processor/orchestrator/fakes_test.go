package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/data/memory"
	"github.com/mpesa-token-bridge/internal/domain/payment"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

type queryResult struct {
	status *payment.SettlementStatus
	err    error
}

func notSettled() queryResult {
	return queryResult{status: &payment.SettlementStatus{}}
}

func settled(code int, desc string) queryResult {
	return queryResult{status: &payment.SettlementStatus{
		Settled:           true,
		Success:           code == 0,
		ResultCode:        code,
		ResultDescription: desc,
	}}
}

func unavailable() queryResult {
	return queryResult{err: payment.ErrGatewayUnavailable}
}

type fakeGateway struct {
	mu          sync.Mutex
	requestID   string
	initErr     error
	notAccepted bool
	results     []queryResult
	initiations int
	queries     int
}

func (g *fakeGateway) Initiate(_ context.Context, req *payment.PaymentRequest) (*payment.InitiationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiations++
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &payment.InitiationResult{
		RequestID:       g.requestID,
		Accepted:        !g.notAccepted,
		ProviderMessage: "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) QueryStatus(context.Context, string) (*payment.SettlementStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if len(g.results) == 0 {
		return &payment.SettlementStatus{}, nil
	}
	idx := g.queries - 1
	if idx >= len(g.results) {
		idx = len(g.results) - 1
	}
	r := g.results[idx]
	return r.status, r.err
}

func (g *fakeGateway) queryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries
}

type sentMessage struct {
	to   string
	text string
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	messages []sentMessage
	dropped  []sentMessage
}

// Send refuses a context that is already done, as a real HTTP client would
func (n *fakeNotifier) Send(ctx context.Context, recipient, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg := sentMessage{to: recipient, text: text}
	if err := ctx.Err(); err != nil {
		n.dropped = append(n.dropped, msg)
		return err
	}
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *fakeNotifier) droppedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dropped)
}

func (n *fakeNotifier) sent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.messages...)
}

type transferCall struct {
	destination string
	amount      decimal.Decimal
}

type fakeTransferer struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	// hang waits for the receipt until ctx is done
	hang  bool
	calls []transferCall
}

func (f *fakeTransferer) Transfer(ctx context.Context, destination string, amount decimal.Decimal) (*payment.TransferReceipt, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, transferCall{destination: destination, amount: amount})
	hang, err := f.hang, f.err
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, payment.TransferFailedError{Reason: "receipt wait: " + ctx.Err().Error()}
	}
	if err != nil {
		return nil, err
	}
	return &payment.TransferReceipt{ReceiptID: "0xreceipt"}, nil
}

func (f *fakeTransferer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []*workflow.Event
}

func (a *fakeAudit) Record(_ context.Context, event *workflow.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *fakeAudit) states() []workflow.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	states := make([]workflow.State, 0, len(a.events))
	for _, e := range a.events {
		states = append(states, e.State)
	}
	return states
}

type harness struct {
	orchestrator *Orchestrator
	gateway      *fakeGateway
	store        *memory.TransactionRepository
	notifier     *fakeNotifier
	transfers    *fakeTransferer
	audit        *fakeAudit
	cfg          *config.WorkflowConfig
}

func testConfig() *config.WorkflowConfig {
	return &config.WorkflowConfig{
		ConversionRate:    decimal.RequireFromString("0.01"),
		PollInterval:      10 * time.Millisecond,
		SettlementTimeout: 2 * time.Second,
		CallTimeout:       time.Second,
		TransferTimeout:   2 * time.Second,
	}
}

func newHarness(t *testing.T, cfg *config.WorkflowConfig) *harness {
	t.Helper()
	h := &harness{
		gateway:   &fakeGateway{requestID: "ws_CO_191220191020363925"},
		store:     memory.NewTransactionRepository(),
		notifier:  &fakeNotifier{},
		transfers: &fakeTransferer{},
		audit:     &fakeAudit{},
		cfg:       cfg,
	}
	h.orchestrator = h.peer()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.orchestrator.Shutdown(ctx)
	})
	return h
}

// peer builds another orchestrator sharing every collaborator, like a second replica
func (h *harness) peer() *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(logger, h.cfg, h.gateway, h.store, h.notifier, h.transfers, WithAuditRecorder(h.audit))
}

func purchase(t *testing.T) *payment.PaymentRequest {
	t.Helper()
	req, err := payment.NewPaymentRequest(1000, "254712345678", "0.0.4515", "ref-001", "Token purchase")
	require.NoError(t, err)
	return req
}

func waitDone(t *testing.T, s *Session) Outcome {
	t.Helper()
	select {
	case <-s.Done():
		return s.Outcome()
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finish, state %s", s.RequestID(), s.State())
		return Outcome{}
	}
}
