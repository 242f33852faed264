package whatsapp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/domain/payment"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewClient(logger, &config.WhatsAppConfig{
		GraphBaseURL:  server.URL,
		APIVersion:    "v21.0",
		PhoneNumberID: "1234567890",
		AccessToken:   "wa-token",
		HTTPTimeout:   time.Second,
	})
}

func TestClient_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		var got textMessage
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v21.0/1234567890/messages", r.URL.Path)
			assert.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
		})

		err := client.Send(ctx, "+254 712 345 678", "Payment requested")
		require.NoError(t, err)
		assert.Equal(t, "whatsapp", got.MessagingProduct)
		assert.Equal(t, "individual", got.RecipientType)
		assert.Equal(t, "254712345678", got.To)
		assert.Equal(t, "text", got.Type)
		assert.Equal(t, "Payment requested", got.Text.Body)
	})

	t.Run("GraphError", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","type":"OAuthException","code":131030}}`))
		})

		err := client.Send(ctx, "254712345678", "hello")
		assert.ErrorIs(t, err, payment.ErrNotificationFailed)
		assert.Contains(t, err.Error(), "Recipient phone number not in allowed list")
	})

	t.Run("EmptyRecipient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		err := client.Send(ctx, "", "hello")
		assert.ErrorIs(t, err, payment.ErrNotificationFailed)
	})

	t.Run("Unreachable", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		client := NewClient(logger, &config.WhatsAppConfig{GraphBaseURL: "http://127.0.0.1:1", APIVersion: "v21.0", PhoneNumberID: "1", HTTPTimeout: time.Second})

		err := client.Send(ctx, "254712345678", "hello")
		assert.ErrorIs(t, err, payment.ErrNotificationFailed)
	})
}
