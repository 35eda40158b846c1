package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"coinpay/internal/common/database"
	"coinpay/internal/common/money"
)

// PostgresStore persists transactions.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore creates a transaction store.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, gateway_order_id, gateway_payment_id, customer_id, merchant_id,
	amount_gross, amount_net, coins_redeemed, currency, commission_rate_bps,
	commission_amount, reward_percent, coins_earned, status, created_at, updated_at, settled_at`

// Create inserts a new CREATED transaction.
func (s *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	query := `
		INSERT INTO transactions (
			id, gateway_order_id, customer_id, merchant_id,
			amount_gross, amount_net, coins_redeemed, currency,
			commission_rate_bps, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	_, err := s.db.Exec(ctx, query,
		tx.ID, tx.GatewayOrderID, tx.CustomerID, tx.MerchantID,
		tx.AmountGross, tx.AmountNet, tx.CoinsRedeemed, string(tx.Currency),
		tx.CommissionRateBps, string(tx.Status), tx.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert transaction %s: %w", tx.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by its identifier.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// GetByGatewayOrderID fetches a transaction by the gateway order reference.
func (s *PostgresStore) GetByGatewayOrderID(ctx context.Context, orderID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE gateway_order_id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, orderID))
}

// Claim transitions a transaction from CREATED to SUCCESS for the given
// gateway order. The conditional update makes the claim exclusive: exactly
// one webhook delivery wins it. Returns claimed=false when the transaction
// exists but was already claimed, and ErrTransactionNotFound when no
// transaction matches the order.
func (s *PostgresStore) Claim(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*Transaction, bool, error) {
	query := `
		UPDATE transactions
		SET status = $3, gateway_payment_id = $2, updated_at = now()
		WHERE gateway_order_id = $1 AND status = $4
		RETURNING ` + transactionColumns

	tx, err := s.scanOne(s.db.QueryRow(ctx, query,
		gatewayOrderID, gatewayPaymentID, string(StatusSuccess), string(StatusCreated),
	))
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, false, err
	}

	// No CREATED row to claim. Distinguish a duplicate delivery from an
	// unknown order.
	existing, err := s.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// RecordSettlement persists the settlement economics and marks the
// transaction SETTLED.
func (s *PostgresStore) RecordSettlement(ctx context.Context, id string, commissionAmount int64, rewardPercent int, coinsEarned int64, settledAt time.Time) error {
	query := `
		UPDATE transactions
		SET commission_amount = $2, reward_percent = $3, coins_earned = $4,
			status = $5, settled_at = $6, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, commissionAmount, rewardPercent, coinsEarned, string(StatusSettled), settledAt)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	var paymentID, currency, status *string
	var settledAt *time.Time

	err := row.Scan(
		&tx.ID, &tx.GatewayOrderID, &paymentID, &tx.CustomerID, &tx.MerchantID,
		&tx.AmountGross, &tx.AmountNet, &tx.CoinsRedeemed, &currency, &tx.CommissionRateBps,
		&tx.CommissionAmount, &tx.RewardPercent, &tx.CoinsEarned, &status,
		&tx.CreatedAt, &tx.UpdatedAt, &settledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if paymentID != nil {
		tx.GatewayPaymentID = *paymentID
	}
	if currency != nil {
		tx.Currency = money.Currency(*currency)
	}
	if status != nil {
		tx.Status = Status(*status)
	}
	tx.SettledAt = settledAt
	return &tx, nil
}
