package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mpesa-token-bridge/internal/bridge_processor/service"
	"github.com/mpesa-token-bridge/internal/domain/shared"
	"github.com/mpesa-token-bridge/internal/platform/messaging/producers"
)

// SettlementEventHandler handles provider callbacks relayed by the gateway
type SettlementEventHandler struct {
	processingService service.ProcessingService
	producer          producers.DeadLetterPublisher
	logger            *slog.Logger
}

func NewSettlementEventHandler(
	logger *slog.Logger,
	processingService service.ProcessingService,
	producer producers.DeadLetterPublisher,
) *SettlementEventHandler {
	return &SettlementEventHandler{
		processingService: processingService,
		producer:          producer,
		logger:            logger,
	}
}

// HandleMessage processes Kafka messages
func (h *SettlementEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var event shared.SettlementEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return deadLetter(ctx, h.logger, h.producer, key, value, "Failed to unmarshal settlement event from Kafka message", err)
	}

	logger := h.logger
	if event.CorrelationID != "" {
		logger = h.logger.With("correlation_id", event.CorrelationID)
	}

	logger.Info("Received settlement event",
		"request_id", event.RequestID,
		"result_code", event.ResultCode,
	)

	if err := h.processingService.ProcessSettlement(ctx, &event); err != nil {
		logger.Error("Failed to process settlement", "request_id", event.RequestID, "error", err)
		return fmt.Errorf("processing settlement %s failed: %w", event.RequestID, err)
	}
	return nil
}
