// Package ledger is the append-only accounting trail. Every economic
// movement of a settlement lands here as one immutable debit or credit row
// tied to a transaction and an entity. Rows are never updated or deleted.
package ledger

import (
	"errors"
	"time"
)

// EntityType identifies which party an entry is booked against.
type EntityType string

const (
	EntityPlatform EntityType = "PLATFORM"
	EntityMerchant EntityType = "MERCHANT"
	EntityCustomer EntityType = "CUSTOMER"
)

// EntryType classifies the economic movement.
type EntryType string

const (
	EntryCommission      EntryType = "COMMISSION"
	EntrySettlement      EntryType = "SETTLEMENT"
	EntryCoinIssuance    EntryType = "COIN_ISSUANCE"
	EntryCoinRedemption  EntryType = "COIN_REDEMPTION"
	EntryPaymentReceived EntryType = "PAYMENT_RECEIVED"
	EntrySalesCredit     EntryType = "SALES_CREDIT"
)

// Entry is a single immutable ledger row. Debit and Credit default to zero;
// a row carries one or the other.
type Entry struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	EntryType     EntryType  `json:"entry_type"`
	Debit         int64      `json:"debit"`
	Credit        int64      `json:"credit"`
	Description   string     `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Validate checks an entry before it is appended.
func (e *Entry) Validate() error {
	if e.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if e.EntityID == "" {
		return errors.New("entity_id is required")
	}
	if e.Debit < 0 || e.Credit < 0 {
		return errors.New("debit and credit must be non-negative")
	}
	if e.Debit == 0 && e.Credit == 0 {
		return errors.New("entry must carry a debit or a credit")
	}
	return nil
}
