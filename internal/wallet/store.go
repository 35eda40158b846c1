package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"coinpay/internal/common/database"
)

// PostgresStore implements wallet persistence on PostgreSQL.
//
// Balance mutations are single atomic statements; there is no
// read-modify-write round trip, so concurrent settlements against the same
// wallet cannot lose updates.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore creates a new PostgreSQL wallet store.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves a wallet. A missing wallet reads as a zero balance; the row
// is only created on first credit or debit.
func (s *PostgresStore) Get(ctx context.Context, entityID string) (*Wallet, error) {
	query := `
		SELECT entity_id, entity_kind, balance_available, lifetime_earned, created_at, updated_at
		FROM wallets
		WHERE entity_id = $1
	`

	var w Wallet
	err := s.db.QueryRow(ctx, query, entityID).Scan(
		&w.EntityID, &w.EntityKind, &w.BalanceAvailable, &w.LifetimeEarned,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Wallet{EntityID: entityID}, nil
		}
		return nil, fmt.Errorf("getting wallet: %w", err)
	}
	return &w, nil
}

// Credit adds coins to both balance_available and lifetime_earned, creating
// the wallet lazily on first credit.
func (s *PostgresStore) Credit(ctx context.Context, entityID string, kind EntityKind, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	query := `
		INSERT INTO wallets (entity_id, entity_kind, balance_available, lifetime_earned, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $4, $4)
		ON CONFLICT (entity_id) DO UPDATE SET
			balance_available = wallets.balance_available + EXCLUDED.balance_available,
			lifetime_earned   = wallets.lifetime_earned + EXCLUDED.lifetime_earned,
			updated_at        = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	if _, err := s.db.Exec(ctx, query, entityID, kind, amount, now); err != nil {
		return fmt.Errorf("crediting wallet %s: %w", entityID, err)
	}
	return nil
}

// Restore adds coins back to balance_available only. Used to undo a
// provisional redemption debit; lifetime_earned is untouched because the
// coins were never newly earned.
func (s *PostgresStore) Restore(ctx context.Context, entityID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("restore amount must be positive, got %d", amount)
	}

	query := `
		UPDATE wallets
		SET balance_available = balance_available + $2, updated_at = $3
		WHERE entity_id = $1
	`

	tag, err := s.db.Exec(ctx, query, entityID, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("restoring wallet %s: %w", entityID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("restoring wallet %s: wallet row missing", entityID)
	}
	return nil
}

// Debit removes coins from balance_available. The guard is part of the
// statement, so a concurrent debit can never drive the balance negative.
func (s *PostgresStore) Debit(ctx context.Context, entityID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	query := `
		UPDATE wallets
		SET balance_available = balance_available - $2, updated_at = $3
		WHERE entity_id = $1 AND balance_available >= $2
	`

	tag, err := s.db.Exec(ctx, query, entityID, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("debiting wallet %s: %w", entityID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
