package consumers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpesa-token-bridge/internal/config"
)

// fakeReader serves queued messages, then blocks until the context ends
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestNewKafkaConsumer(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := &config.KafkaConfig{
		Brokers:       "localhost:9092",
		ConsumerGroup: "test-group",
		MinBytes:      1024,
		MaxBytes:      10240,
		MaxWait:       time.Second,
	}

	consumer := NewKafkaConsumer(context.Background(), logger, cfg, "purchase_requests")
	require.NotNil(t, consumer)
	require.NotNil(t, consumer.reader, "Kafka reader should be initialized")
	assert.Equal(t, logger, consumer.logger)
	require.NoError(t, consumer.Close())
}

func TestKafkaConsumer_Subscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	messages := func() []kafka.Message {
		return []kafka.Message{
			{Topic: "t", Offset: 1, Key: []byte("ok"), Value: []byte("{}")},
			{Topic: "t", Offset: 2, Key: []byte("flaky"), Value: []byte("{}")},
			{Topic: "t", Offset: 3, Key: []byte("ok"), Value: []byte("{}")},
		}
	}

	t.Run("RetriesFailedMessageBeforeMovingOn", func(t *testing.T) {
		reader := &fakeReader{
			fetchErrs: []error{errors.New("broker not available")},
			messages:  messages(),
		}
		consumer := &KafkaConsumer{reader: reader, logger: logger, retry: time.Millisecond, attempts: 3}

		var mu sync.Mutex
		var handled []string
		flakyCalls := 0
		handler := func(_ context.Context, key, _ []byte) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, string(key))
			if string(key) == "flaky" {
				flakyCalls++
				if flakyCalls < 2 {
					return errors.New("transient")
				}
			}
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, consumer.Subscribe(ctx, "t", "g", handler))

		assert.Eventually(t, func() bool {
			return len(reader.commits()) == 3
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, []int64{1, 2, 3}, reader.commits())

		mu.Lock()
		assert.Equal(t, []string{"ok", "flaky", "flaky", "ok"}, handled)
		mu.Unlock()
	})

	t.Run("GivesUpAfterMaxAttempts", func(t *testing.T) {
		reader := &fakeReader{messages: messages()}
		consumer := &KafkaConsumer{reader: reader, logger: logger, retry: time.Millisecond, attempts: 2}

		var mu sync.Mutex
		var handled []string
		handler := func(_ context.Context, key, _ []byte) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, string(key))
			if string(key) == "flaky" {
				return errors.New("still failing")
			}
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, consumer.Subscribe(ctx, "t", "g", handler))

		assert.Eventually(t, func() bool {
			return len(reader.commits()) == 2
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, []int64{1, 3}, reader.commits())

		mu.Lock()
		assert.Equal(t, []string{"ok", "flaky", "flaky", "ok"}, handled)
		mu.Unlock()
	})

	t.Run("CancelDuringRetryLeavesMessageUncommitted", func(t *testing.T) {
		reader := &fakeReader{messages: messages()[1:2]}
		consumer := &KafkaConsumer{reader: reader, logger: logger, retry: time.Hour, attempts: 5}

		ctx, cancel := context.WithCancel(context.Background())
		called := make(chan struct{}, 1)
		handler := func(context.Context, []byte, []byte) error {
			called <- struct{}{}
			return errors.New("transient")
		}
		require.NoError(t, consumer.Subscribe(ctx, "t", "g", handler))

		select {
		case <-called:
		case <-time.After(time.Second):
			t.Fatal("handler was not called")
		}
		cancel()

		assert.Never(t, func() bool { return len(reader.commits()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestKafkaConsumer_Close(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	t.Run("CloseWithNilReader", func(t *testing.T) {
		consumer := &KafkaConsumer{
			reader: nil,
			logger: logger,
		}
		err := consumer.Close()
		require.NoError(t, err, "Close should return nil if reader is nil")
	})

	t.Run("CloseClosesReader", func(t *testing.T) {
		reader := &fakeReader{}
		consumer := &KafkaConsumer{reader: reader, logger: logger}
		require.NoError(t, consumer.Close())
		assert.True(t, reader.closed)
	})
}
