package producers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mpesa-token-bridge/internal/domain/shared"
)

// MockKafkaWriter mocks KafkaWriter interface
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProducer(w KafkaWriter, topic string) *MessageProducer {
	return &MessageProducer{logger: discardLogger(), writer: w, topic: topic}
}

func TestMessageProducer_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("KeyedJSONMessage", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		var written []kafka.Message
		writer.On("WriteMessages", ctx, mock.Anything).
			Run(func(args mock.Arguments) { written = args.Get(1).([]kafka.Message) }).
			Return(nil).Once()

		event := &shared.SettlementEvent{RequestID: "ws_CO_1", ResultCode: 1032, ResultDescription: "Request cancelled by user"}
		require.NoError(t, newTestProducer(writer, "stk_callbacks").Publish(ctx, event.RequestID, event))

		require.Len(t, written, 1)
		assert.Equal(t, "ws_CO_1", string(written[0].Key))
		assert.Equal(t, []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}, written[0].Headers)

		var decoded shared.SettlementEvent
		require.NoError(t, json.Unmarshal(written[0].Value, &decoded))
		assert.Equal(t, *event, decoded)
		writer.AssertExpectations(t)
	})

	t.Run("WriterError", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		brokerDown := errors.New("broker down")
		writer.On("WriteMessages", ctx, mock.Anything).Return(brokerDown).Once()

		err := newTestProducer(writer, "purchase_requests").Publish(ctx, "ref-001", &shared.PurchaseRequest{Reference: "ref-001"})
		assert.ErrorIs(t, err, brokerDown)
		assert.Contains(t, err.Error(), "purchase_requests")
	})

	t.Run("RejectedBeforeWriting", func(t *testing.T) {
		tests := []struct {
			name  string
			key   string
			value any
			want  string
		}{
			{name: "EmptyKey", key: "", value: &shared.PurchaseRequest{}, want: "without a message key"},
			{name: "Unmarshalable", key: "ref-001", value: make(chan int), want: "failed to marshal"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				writer := new(MockKafkaWriter)
				err := newTestProducer(writer, "purchase_requests").Publish(ctx, tt.key, tt.value)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
				writer.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
			})
		}
	})
}

func TestMessageProducer_Close(t *testing.T) {
	writer := new(MockKafkaWriter)
	writer.On("Close").Return(nil).Once()
	assert.NoError(t, newTestProducer(writer, "stk_callbacks").Close())

	failing := new(MockKafkaWriter)
	failing.On("Close").Return(errors.New("flush failed")).Once()
	err := newTestProducer(failing, "stk_callbacks").Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stk_callbacks")
	assert.Contains(t, err.Error(), "flush failed")
}

var (
	_ KafkaWriter      = (*MockKafkaWriter)(nil)
	_ MessagePublisher = (*MessageProducer)(nil)
)
