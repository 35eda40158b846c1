// Package payment implements the settlement engine: quoting payment intents,
// opening gateway orders with coin redemption, and settling captured payments
// with commission, reward and ledger writes.
package payment

import (
	"errors"
	"fmt"
	"time"

	"coinpay/internal/common/money"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	// StatusCreated means the gateway order is open and awaiting capture.
	StatusCreated Status = "CREATED"
	// StatusSuccess means the capture webhook arrived and settlement is running.
	StatusSuccess Status = "SUCCESS"
	// StatusSettled means commission, rewards and ledger writes completed.
	StatusSettled Status = "SETTLED"
)

// Transaction is one payment from a customer to a recipient.
type Transaction struct {
	ID                string         `json:"id"`
	GatewayOrderID    string         `json:"gateway_order_id"`
	GatewayPaymentID  string         `json:"gateway_payment_id,omitempty"`
	CustomerID        string         `json:"customer_id"`
	MerchantID        string         `json:"merchant_id"`
	AmountGross       int64          `json:"amount_gross"`
	AmountNet         int64          `json:"amount_net"`
	CoinsRedeemed     int64          `json:"coins_redeemed"`
	Currency          money.Currency `json:"currency"`
	CommissionRateBps int64          `json:"commission_rate_bps"`
	CommissionAmount  int64          `json:"commission_amount"`
	RewardPercent     int            `json:"reward_percent"`
	CoinsEarned       int64          `json:"coins_earned"`
	Status            Status         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	SettledAt         *time.Time     `json:"settled_at,omitempty"`
}

var (
	// ErrRecipientNotFound means the target resolves to neither a merchant
	// nor a registered user.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrInsufficientCoinBalance means the customer asked to redeem more
	// coins than available after clamping.
	ErrInsufficientCoinBalance = errors.New("insufficient coin balance")

	// ErrBelowMinimumPayable means redemption would push the payable amount
	// under the gateway minimum.
	ErrBelowMinimumPayable = errors.New("net payable below minimum")

	// ErrTransactionNotFound means no transaction matches the lookup key.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// GatewayError wraps a failure from the external payment gateway so callers
// can map it to a distinct response code.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
