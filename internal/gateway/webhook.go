package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignatureHeader carries the HMAC-SHA256 signature of the raw webhook body.
const SignatureHeader = "X-Gateway-Signature"

// WebhookEvent is the envelope the gateway posts on payment lifecycle changes.
type WebhookEvent struct {
	Event   string         `json:"event"`
	Payload WebhookPayload `json:"payload"`
}

// WebhookPayload wraps the payment entity inside a webhook event.
type WebhookPayload struct {
	Payment WebhookPayment `json:"payment"`
}

// WebhookPayment wraps the payment entity.
type WebhookPayment struct {
	Entity PaymentEntity `json:"entity"`
}

// PaymentEntity is the gateway's view of a captured payment.
type PaymentEntity struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Method      string `json:"method"`
}

// EventPaymentCaptured is the only event type the settlement path acts on.
const EventPaymentCaptured = "payment.captured"

// Sign computes the hex HMAC-SHA256 of body under the given secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the webhook signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhook decodes a verified webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("unmarshal webhook: %w", err)
	}
	if event.Payload.Payment.Entity.OrderID == "" {
		return nil, fmt.Errorf("webhook missing order id")
	}
	return &event, nil
}
