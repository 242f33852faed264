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

// PurchaseEventHandler handles purchase request messages published by the gateway
type PurchaseEventHandler struct {
	processingService service.ProcessingService
	producer          producers.DeadLetterPublisher
	logger            *slog.Logger
}

// NewPurchaseEventHandler creates a new handler
func NewPurchaseEventHandler(
	logger *slog.Logger,
	processingService service.ProcessingService,
	producer producers.DeadLetterPublisher,
) *PurchaseEventHandler {
	return &PurchaseEventHandler{
		processingService: processingService,
		producer:          producer,
		logger:            logger,
	}
}

// HandleMessage processes Kafka messages
func (h *PurchaseEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var request shared.PurchaseRequest
	if err := json.Unmarshal(value, &request); err != nil {
		return deadLetter(ctx, h.logger, h.producer, key, value, "Failed to unmarshal purchase request from Kafka message", err)
	}

	logger := h.logger
	if request.CorrelationID != "" {
		logger = h.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Received purchase request for processing",
		"reference", request.Reference,
		"amount", request.Amount,
		"destination", request.DestinationAccountID,
	)

	if err := h.processingService.ProcessPurchase(ctx, &request); err != nil {
		logger.Error("Failed to process purchase", "reference", request.Reference, "error", err)
		return fmt.Errorf("processing purchase %s failed: %w", request.Reference, err)
	}

	logger.Debug("Purchase handled", "reference", request.Reference)
	return nil
}
