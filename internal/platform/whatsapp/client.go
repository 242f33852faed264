// Package whatsapp sends text notifications through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/domain/payment"
)

// Client implements the notification sender
type Client struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
	logger      *slog.Logger
}

// NewClient builds the messages endpoint from the graph base URL, API version and phone number id
func NewClient(logger *slog.Logger, cfg *config.WhatsAppConfig) *Client {
	endpoint := fmt.Sprintf("%s/%s/%s/messages",
		strings.TrimRight(cfg.GraphBaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID)

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		endpoint:    endpoint,
		accessToken: cfg.AccessToken,
		logger:      logger,
	}
}

type textMessage struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textPayload `json:"text"`
}

type textPayload struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers a text message; every failure wraps payment.ErrNotificationFailed
func (c *Client) Send(ctx context.Context, recipient, text string) error {
	to := digitsOnly(recipient)
	if to == "" {
		return fmt.Errorf("%w: empty recipient", payment.ErrNotificationFailed)
	}

	payload, err := json.Marshal(textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textPayload{Body: text},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrNotificationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrNotificationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrNotificationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gErr graphError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &gErr)
		return fmt.Errorf("%w: status %d: %s", payment.ErrNotificationFailed, resp.StatusCode, gErr.Error.Message)
	}

	c.logger.Debug("WhatsApp message sent", "to", to)
	return nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
