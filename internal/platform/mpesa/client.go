// Package mpesa is the Daraja API client: OAuth, STK push initiation and STK push query.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mpesa-token-bridge/internal/config"
	"github.com/mpesa-token-bridge/internal/domain/payment"
)

const (
	oauthPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"

	// Query error code and result code meaning the payer has not answered yet
	errorCodeProcessing  = "500.001.1001"
	resultCodeProcessing = 4999

	maxDescriptionLength = 13
	maxReferenceLength   = 12
)

// Daraja timestamps are in East Africa Time
var nairobi = time.FixedZone("EAT", 3*60*60)

var errStillProcessing = errors.New("transaction is still being processed")

// Client implements the payment gateway on top of the Daraja REST API
type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passKey        string
	callbackURL    string
	tokens         TokenCache
	logger         *slog.Logger
	now            func() time.Time
}

// NewClient creates a Daraja client; tokens may be shared across replicas
func NewClient(logger *slog.Logger, cfg *config.MpesaConfig, tokens TokenCache) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortCode:      cfg.ShortCode,
		passKey:        cfg.PassKey,
		callbackURL:    cfg.CallbackURL,
		tokens:         tokens,
		logger:         logger,
		now:            time.Now,
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Initiate sends the STK push prompt to the payer's phone
func (c *Client) Initiate(ctx context.Context, req *payment.PaymentRequest) (*payment.InitiationResult, error) {
	phone, err := NormalizePhone(req.PayerIdentifier)
	if err != nil {
		return nil, err
	}

	password, timestamp := c.credentials()
	body := stkPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            req.Amount,
		PartyA:            phone,
		PartyB:            c.shortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.callbackURL,
		AccountReference:  truncate(req.Reference, maxReferenceLength),
		TransactionDesc:   truncate(defaultString(req.Description, "Token purchase"), maxDescriptionLength),
	}

	var resp stkPushResponse
	if err := c.postJSON(ctx, stkPath, body, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("STK push submitted",
		"request_id", resp.CheckoutRequestID,
		"reference", req.Reference,
		"response_code", resp.ResponseCode,
	)

	return &payment.InitiationResult{
		RequestID:         resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Accepted:          resp.ResponseCode == "0" && resp.CheckoutRequestID != "",
		ProviderMessage:   resp.ResponseDescription,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// QueryStatus asks the provider whether the push has settled. A payment the payer
// has not acted on yet is reported as not settled rather than as an error.
func (c *Client) QueryStatus(ctx context.Context, requestID string) (*payment.SettlementStatus, error) {
	password, timestamp := c.credentials()
	body := stkQueryRequest{
		BusinessShortCode: c.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: requestID,
	}

	var resp stkQueryResponse
	if err := c.postJSON(ctx, queryPath, body, &resp); err != nil {
		if errors.Is(err, errStillProcessing) {
			return &payment.SettlementStatus{Settled: false}, nil
		}
		return nil, err
	}

	if resp.ResultCode == "" {
		return &payment.SettlementStatus{Settled: false}, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(resp.ResultCode))
	if err != nil {
		return nil, fmt.Errorf("%w: unexpected result code %q", payment.ErrGatewayUnavailable, resp.ResultCode)
	}
	if code == resultCodeProcessing {
		return &payment.SettlementStatus{Settled: false}, nil
	}

	return &payment.SettlementStatus{
		Settled:           true,
		Success:           code == 0,
		ResultCode:        code,
		ResultDescription: resp.ResultDesc,
	}, nil
}

// credentials derives the request password from the shortcode, passkey and current time
func (c *Client) credentials() (password, timestamp string) {
	timestamp = c.now().In(nairobi).Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(c.shortCode + c.passKey + timestamp))
	return password, timestamp
}

func (c *Client) tokenKey() string {
	return "mpesa:" + c.shortCode
}

// accessToken returns a cached OAuth token or fetches a new one
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok, err := c.tokens.Get(ctx, c.tokenKey()); err != nil {
		c.logger.Warn("Token cache read failed, fetching a new token", "error", err)
	} else if ok {
		return token, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+oauthPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	httpReq.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: token request failed: %v", payment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request returned status %d", payment.ErrGatewayUnavailable, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %v", payment.ErrGatewayUnavailable, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", payment.ErrGatewayUnavailable)
	}

	expiresIn, err := strconv.Atoi(token.ExpiresIn)
	if err != nil {
		expiresIn = 0
	}
	ttl := time.Duration(expiresIn)*time.Second - tokenSafetyMargin
	if err := c.tokens.Set(ctx, c.tokenKey(), token.AccessToken, ttl); err != nil {
		c.logger.Warn("Failed to cache access token", "error", err)
	}

	return token.AccessToken, nil
}

// postJSON sends an authenticated request and classifies provider errors
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", payment.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", payment.ErrGatewayUnavailable, err)
		}
		return nil
	}

	var providerErr errorResponse
	_ = json.Unmarshal(raw, &providerErr)
	return c.classify(resp.StatusCode, providerErr)
}

func (c *Client) classify(status int, providerErr errorResponse) error {
	if providerErr.ErrorCode == errorCodeProcessing {
		return errStillProcessing
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		// Force a fresh token on the next call
		if err := c.tokens.Delete(context.Background(), c.tokenKey()); err != nil {
			c.logger.Warn("Failed to evict access token", "error", err)
		}
		return fmt.Errorf("%w: provider returned status %d: %s", payment.ErrGatewayUnavailable, status, providerErr.ErrorMessage)
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return fmt.Errorf("%w: provider returned status %d", payment.ErrGatewayUnavailable, status)
	}

	if status >= 400 && status < 500 {
		return payment.GatewayRejectedError{
			Code:    providerErr.ErrorCode,
			Message: defaultString(providerErr.ErrorMessage, http.StatusText(status)),
		}
	}

	return fmt.Errorf("%w: provider returned status %d: %s", payment.ErrGatewayUnavailable, status, providerErr.ErrorMessage)
}

// truncate keeps at most n characters, never splitting a multi-byte rune
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
