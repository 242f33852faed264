package components

import (
	"context"
	"log/slog"

	"github.com/mpesa-token-bridge/internal/bridge_processor/orchestrator"
	"github.com/mpesa-token-bridge/internal/domain/workflow"
)

type AuditRecorderImpl struct {
	eventRepo workflow.EventRepository
	logger    *slog.Logger
}

func NewAuditRecorder(eventRepo workflow.EventRepository, logger *slog.Logger) orchestrator.AuditRecorder {
	return &AuditRecorderImpl{
		eventRepo: eventRepo,
		logger:    logger,
	}
}

// Record appends the event to the audit log. Failures are logged only; the audit
// trail never blocks the payment workflow.
func (r *AuditRecorderImpl) Record(ctx context.Context, event *workflow.Event) {
	logger := r.logger.With("reference", event.Reference, "state", event.State)
	if event.RequestID != "" {
		logger = logger.With("request_id", event.RequestID)
	}

	if err := r.eventRepo.Append(ctx, event); err != nil {
		logger.Error("Failed to append workflow event", "event_id", event.ID, "error", err)
		return
	}
	logger.Debug("Workflow event recorded", "event_id", event.ID)
}
