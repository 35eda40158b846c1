// Package money provides integer minor-unit amounts and the basis-point
// arithmetic used for commissions and rewards. Platform reward coins redeem
// one-to-one against minor units, so coin quantities are plain int64 and this
// package only deals in currency.
package money

import (
	"encoding/json"
	"fmt"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	INR Currency = "INR"
	USD Currency = "USD"
)

// Money is a monetary amount in minor units (paise, cents).
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a Money value from minor units.
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount for a currency.
func Zero(currency Currency) Money {
	return Money{Currency: currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.AmountMinor == 0 }

// IsPositive reports whether the amount is strictly positive.
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }

// Add adds two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts two amounts of the same currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Percentage computes a share of the amount given basis points
// (1 bp = 0.01%). Rounds half up; this is the platform's fixed rounding
// policy for commission math.
func (m Money) Percentage(basisPoints int64) Money {
	raw := m.AmountMinor * basisPoints
	var share int64
	if raw >= 0 {
		share = (raw + 5000) / 10000
	} else {
		share = (raw - 5000) / 10000
	}
	return Money{AmountMinor: share, Currency: m.Currency}
}

// Compare returns -1, 0, or 1; currencies must match.
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	}
	return 0, nil
}

// Equal checks amount and currency equality.
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// LessThan reports m < other for the same currency.
func (m Money) LessThan(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp < 0
}

// String renders the amount for logs.
func (m Money) String() string {
	return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}{m.AmountMinor, string(m.Currency)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}

// PercentToBps converts a whole-number percent (0-100) to basis points.
func PercentToBps(percent int64) int64 { return percent * 100 }

// BpsToPercent converts basis points back to a truncated whole percent.
func BpsToPercent(bps int64) int64 { return bps / 100 }
