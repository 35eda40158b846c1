// Package wallet holds the coin balances for every paying or receiving
// entity. One row per entity; customers and merchants share the same shape.
package wallet

import (
	"errors"
	"time"
)

// EntityKind tags which side of the marketplace a wallet belongs to.
type EntityKind string

const (
	KindCustomer EntityKind = "CUSTOMER"
	KindMerchant EntityKind = "MERCHANT"
)

// ErrInsufficientBalance is returned when a debit exceeds the available
// balance.
var ErrInsufficientBalance = errors.New("insufficient coin balance")

// Wallet is an entity's coin balance. BalanceAvailable is spendable;
// LifetimeEarned only ever grows and is a tier metric, not a spend cap, so
// BalanceAvailable may legitimately exceed or trail it after redemptions.
type Wallet struct {
	EntityID         string     `json:"entity_id"`
	EntityKind       EntityKind `json:"entity_kind"`
	BalanceAvailable int64      `json:"balance_available"`
	LifetimeEarned   int64      `json:"lifetime_earned"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
