package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"coinpay/internal/common/database"
)

// Recorder appends entries to the ledger. It is the only writer; the
// settlement processor is its only caller.
type Recorder struct {
	db database.Querier
}

// NewRecorder creates a new ledger recorder.
func NewRecorder(db database.Querier) *Recorder {
	return &Recorder{db: db}
}

// Record appends one entry. The caller decides whether a failure aborts;
// for settlement it does not (the ledger is best-effort telemetry there).
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid ledger entry: %w", err)
	}

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ledger_entries (
			id, transaction_id, entity_type, entity_id, entry_type,
			debit, credit, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.TransactionID, entry.EntityType, entry.EntityID, entry.EntryType,
		entry.Debit, entry.Credit, entry.Description, entry.CreatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("appending ledger entry: unknown transaction %s: %w", entry.TransactionID, err)
		}
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	return nil
}

// ListByTransaction returns the trail for one transaction, oldest first.
func (r *Recorder) ListByTransaction(ctx context.Context, transactionID string) ([]Entry, error) {
	query := `
		SELECT id, transaction_id, entity_type, entity_id, entry_type,
			   debit, credit, description, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.TransactionID, &e.EntityType, &e.EntityID, &e.EntryType,
			&e.Debit, &e.Credit, &e.Description, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByTransaction returns the number of entries for a transaction.
func (r *Recorder) CountByTransaction(ctx context.Context, transactionID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE transaction_id = $1`,
		transactionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting ledger entries: %w", err)
	}
	return count, nil
}
