package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// NATS subjects for payment events
const (
	SubjectPaymentInitiated  = "payment.initiated"
	SubjectPaymentSettled    = "payment.settled"
	SubjectPaymentDuplicate  = "payment.duplicate_settlement"
	SubjectRewardIssued      = "reward.issued"
	SubjectReconRequired     = "recon.required"
	SubjectMerchantOnboarded = "merchant.auto_onboarded"
)

// Type identifies the kind of event in an envelope.
type Type string

const (
	TypePaymentInitiated    Type = "payment.initiated.v1"
	TypePaymentSettled      Type = "payment.settled.v1"
	TypeDuplicateSettlement Type = "payment.duplicate_settlement.v1"
	TypeRewardIssued        Type = "reward.issued.v1"
	TypeReconRequired       Type = "recon.required.v1"
	TypeMerchantOnboarded   Type = "merchant.auto_onboarded.v1"
)

// Envelope wraps all events with common metadata.
type Envelope struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope.
func NewEnvelope(eventType Type, correlationID string, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}

// DecodeData decodes the event data into a struct.
func (e *Envelope) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// PaymentInitiatedEvent is published when a gateway order is opened.
type PaymentInitiatedEvent struct {
	TransactionID  string `json:"transaction_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	CustomerID     string `json:"customer_id"`
	MerchantID     string `json:"merchant_id"`
	AmountGross    int64  `json:"amount_gross"`
	AmountNet      int64  `json:"amount_net"`
	CoinsRedeemed  int64  `json:"coins_redeemed"`
}

// PaymentSettledEvent is published after a settlement completes.
type PaymentSettledEvent struct {
	TransactionID    string    `json:"transaction_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	CustomerID       string    `json:"customer_id"`
	MerchantID       string    `json:"merchant_id"`
	AmountGross      int64     `json:"amount_gross"`
	AmountNet        int64     `json:"amount_net"`
	CommissionAmount int64     `json:"commission_amount"`
	PayoutAmount     int64     `json:"payout_amount"`
	CoinsEarned      int64     `json:"coins_earned"`
	SettledAt        time.Time `json:"settled_at"`
}

// RewardIssuedEvent is published when reward coins are minted.
type RewardIssuedEvent struct {
	TransactionID string `json:"transaction_id"`
	CustomerID    string `json:"customer_id"`
	Percent       int64  `json:"percent"`
	Coins         int64  `json:"coins"`
}

// ReconRequiredEvent flags a failed compensating action for manual review.
type ReconRequiredEvent struct {
	TransactionID  string `json:"transaction_id,omitempty"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
	EntityID       string `json:"entity_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
}

// MerchantOnboardedEvent is published when a P2P recipient is auto-onboarded.
type MerchantOnboardedEvent struct {
	UserID      string `json:"user_id"`
	OnboardedBy string `json:"onboarded_by"`
}
