// Package merchant provides the recipient directory: registered merchants
// and the zero-commission records auto-created for peer-to-peer payments.
package merchant

import "time"

// KYCStatus represents KYC verification status.
type KYCStatus string

const (
	KYCPending  KYCStatus = "PENDING"
	KYCApproved KYCStatus = "APPROVED"
	KYCRejected KYCStatus = "REJECTED"
)

// Merchant is a payment recipient. A plain user paying-and-receiving
// peer-to-peer gets a record with zero commission and zero reward cap, so
// settlement needs no merchant-vs-peer branching.
type Merchant struct {
	UserID            string    `json:"user_id"`
	DisplayName       string    `json:"display_name"`
	CommissionRateBps int64     `json:"commission_rate_bps"`
	MaxRewardCap      int64     `json:"max_reward_cap"`
	KYCStatus         KYCStatus `json:"kyc_status"`
	AutoOnboarded     bool      `json:"auto_onboarded"`
	CreatedAt         time.Time `json:"created_at"`
}

// User is the profile-subsystem view of a plain user, read only to resolve
// peer-to-peer recipients.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
