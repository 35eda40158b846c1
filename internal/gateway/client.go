// Package gateway talks to the external payment gateway: opening orders for
// the net payable amount and verifying the webhooks that confirm capture.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config holds payment gateway configuration.
type Config struct {
	BaseURL       string        `envconfig:"GATEWAY_BASE_URL" required:"true"`
	KeyID         string        `envconfig:"GATEWAY_KEY_ID" required:"true"`
	KeySecret     string        `envconfig:"GATEWAY_KEY_SECRET" required:"true"`
	WebhookSecret string        `envconfig:"GATEWAY_WEBHOOK_SECRET" required:"true"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
}

// Order is a gateway-side payment intent awaiting capture.
type Order struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// Client is the HTTP client for the gateway's order API.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// KeyID returns the public key identifier the client app needs to complete
// the charge against the gateway.
func (c *Client) KeyID() string {
	return c.config.KeyID
}

// CreateOrder opens a gateway order for the given amount. The gateway
// deduplicates per receipt, so retrying with the same receipt is safe. A
// timeout means the order must be treated as not created.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error) {
	apiReq := map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	}

	body, _ := json.Marshal(apiReq)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.config.KeyID, c.config.KeySecret)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway api error: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	var order Order
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}

	c.logger.Info("gateway order created",
		"order_id", order.ID,
		"amount", order.AmountMinor,
		"receipt", receipt,
	)

	return &order, nil
}
