package consumers

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mpesa-token-bridge/internal/config"
)

const (
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 10 * time.Second
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, topic string, groupID string, handler MessageHandler) error
	Close() error
}

// MessageReader is the part of kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads one topic and hands each message to a handler in order.
// A failing handler is retried in place; committing a later offset would
// otherwise skip the failed message for good.
type KafkaConsumer struct {
	reader   MessageReader
	logger   *slog.Logger
	retry    time.Duration
	attempts int
}

func NewKafkaConsumer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig, topic string) *KafkaConsumer {
	startOffset := cfg.StartOffset
	if startOffset == 0 {
		startOffset = kafka.FirstOffset
	}
	return &KafkaConsumer{
		logger:   logger,
		retry:    defaultRetryBackoff,
		attempts: max(cfg.HandlerAttempts, 1),
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.BrokerList(),
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
	}
}

// Subscribe starts consuming in a background goroutine until ctx is cancelled
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, groupID string, handler MessageHandler) error {
	logger := c.logger.With("topic", topic, "group_id", groupID)
	logger.Info("Subscribed to Kafka topic")

	go c.consume(ctx, logger, handler)
	return nil
}

func (c *KafkaConsumer) consume(ctx context.Context, logger *slog.Logger, handler MessageHandler) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Context canceled, stopping consumer")
				return
			}
			logger.Error("Failed to fetch message from Kafka", "error", err)
			if !sleep(ctx, c.retry) {
				return
			}
			continue
		}

		msgLogger := logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
		msgLogger.Debug("Received message from Kafka")

		if !c.handle(ctx, msgLogger, msg, handler) {
			if ctx.Err() != nil {
				// Uncommitted, so the message is redelivered after restart
				return
			}
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			msgLogger.Error("Failed to commit message after successful processing", "error", err)
			continue
		}
		msgLogger.Debug("Message committed successfully")
	}
}

// handle runs the handler with exponential backoff between attempts and reports
// whether the message may be committed
func (c *KafkaConsumer) handle(ctx context.Context, logger *slog.Logger, msg kafka.Message, handler MessageHandler) bool {
	attempts := max(c.attempts, 1)
	backoff := c.retry
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return true
		}
		if attempt >= attempts {
			logger.Error("Giving up on message, offset not committed", "attempts", attempt, "error", err)
			return false
		}

		logger.Warn("Failed to process message, retrying", "attempt", attempt, "backoff", backoff.String(), "error", err)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// sleep waits for d and reports false when ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
