package merchant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"coinpay/internal/common/database"
)

// PostgresStore implements merchant and user lookups on PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL merchant store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetMerchant retrieves a merchant record by user ID.
func (s *PostgresStore) GetMerchant(ctx context.Context, userID string) (*Merchant, error) {
	query := `
		SELECT user_id, display_name, commission_rate_bps, max_reward_cap,
			   kyc_status, auto_onboarded, created_at
		FROM merchants
		WHERE user_id = $1
	`

	var m Merchant
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&m.UserID, &m.DisplayName, &m.CommissionRateBps, &m.MaxRewardCap,
		&m.KYCStatus, &m.AutoOnboarded, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("getting merchant: %w", err)
	}
	return &m, nil
}

// GetUser retrieves a plain user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `SELECT id, name FROM users WHERE id = $1`

	var u User
	err := s.db.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// AutoOnboard creates a zero-commission merchant record for a plain user so
// it can receive a peer-to-peer payment. Idempotent: a concurrent onboard of
// the same user wins the insert and the loser reads the existing row. Insert
// and read-back run in one transaction so the caller always gets the row it
// will settle against.
func (s *PostgresStore) AutoOnboard(ctx context.Context, user *User) (*Merchant, error) {
	insert := `
		INSERT INTO merchants (
			user_id, display_name, commission_rate_bps, max_reward_cap,
			kyc_status, auto_onboarded, created_at
		) VALUES ($1, $2, 0, 0, $3, TRUE, $4)
		ON CONFLICT (user_id) DO NOTHING
	`
	read := `
		SELECT user_id, display_name, commission_rate_bps, max_reward_cap,
			   kyc_status, auto_onboarded, created_at
		FROM merchants
		WHERE user_id = $1
	`

	var m Merchant
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insert, user.ID, user.Name, KYCApproved, time.Now().UTC()); err != nil {
			return err
		}
		return tx.QueryRow(ctx, read, user.ID).Scan(
			&m.UserID, &m.DisplayName, &m.CommissionRateBps, &m.MaxRewardCap,
			&m.KYCStatus, &m.AutoOnboarded, &m.CreatedAt,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("auto-onboarding merchant: %w", err)
	}
	return &m, nil
}
