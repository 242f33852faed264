package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mpesa-token-bridge/internal/platform/messaging/producers"
)

// deadLetter parks an undecodable message. It returns nil when the message was
// parked and its offset can be committed, otherwise the original error.
func deadLetter(
	ctx context.Context,
	logger *slog.Logger,
	producer producers.DeadLetterPublisher,
	key, value []byte,
	summary string,
	cause error,
) error {
	logger.Error(summary, "error", cause, "message_key", string(key))

	if producer != nil {
		reason := fmt.Sprintf("%s: %s", summary, cause.Error())
		if dlqErr := producer.PublishToDLQ(ctx, string(key), value, reason); dlqErr != nil {
			logger.Error("Failed to publish message to DLQ after unmarshal error",
				"dlq_error", dlqErr,
				"original_error", cause,
				"message_key", string(key),
			)
		} else {
			logger.Info("Successfully published unprocessable message to DLQ", "message_key", string(key), "reason", reason)
			return nil
		}
	}
	// Allow Kafka retries
	return fmt.Errorf("failed to unmarshal message value: %w", cause)
}
