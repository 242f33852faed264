package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/mpesa-token-bridge/internal/config"
)

const (
	contentTypeHeader = "content-type"
	contentTypeJSON   = "application/json"
)

// MessageProducer publishes JSON messages to a single topic. Writes are synchronous
// so callers can fall back when the broker is unreachable.
type MessageProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
}

// NewMessageProducer creates a producer for topic and ensures the topic exists
func NewMessageProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig, topic string) (*MessageProducer, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is not configured")
	}

	conn, err := dialBroker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for %s producer: %w", topic, err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, topic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure topic %s exists: %w", topic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.BrokerList()...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Same key, same partition
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.MaxWait,
	}

	return &MessageProducer{
		logger: logger,
		writer: writer,
		topic:  topic,
	}, nil
}

// Publish writes value as JSON under key. The key picks the partition, so every
// message about one purchase or request id stays in order.
func (p *MessageProducer) Publish(ctx context.Context, key string, value any) error {
	if key == "" {
		return fmt.Errorf("refusing to publish to %s without a message key", p.topic)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message value for %s: %w", p.topic, err)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: []kafka.Header{{Key: contentTypeHeader, Value: []byte(contentTypeJSON)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message", "topic", p.topic, "key", key, "error", err)
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published message", "topic", p.topic, "key", key, "bytes", len(payload))
	return nil
}

func (p *MessageProducer) Close() error {
	p.logger.Info("Closing Kafka message producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
