package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/models"
)

const ledgerColumns = `id, wallet_id, amount_micros, currency, kind, status, reference, related_tx_id, metadata, created_at, updated_at`

func scanLedgerTx(row interface{ Scan(...any) error }) (models.LedgerTransaction, error) {
	var t models.LedgerTransaction
	err := row.Scan(&t.ID, &t.WalletID, &t.AmountMicros, &t.Currency, &t.Kind, &t.Status, &t.Reference, &t.RelatedTxID, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// InsertLedgerTransactionParams holds the fields of a new ledger row.
type InsertLedgerTransactionParams struct {
	ID           uuid.UUID
	WalletID     uuid.UUID
	AmountMicros int64
	Currency     string
	Kind         string
	Status       string
	Reference    string
	RelatedTxID  *uuid.UUID
	Metadata     []byte
}

// InsertLedgerTransaction appends a ledger row. The unique reference makes the
// insert idempotent: a conflicting reference inserts nothing, and the caller
// falls back to GetLedgerTransactionByReference.
func (q *Queries) InsertLedgerTransaction(ctx context.Context, arg InsertLedgerTransactionParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO ledger_transactions (id, wallet_id, amount_micros, currency, kind, status, reference, related_tx_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (reference) DO NOTHING
	`, arg.ID, arg.WalletID, arg.AmountMicros, arg.Currency, arg.Kind, arg.Status, arg.Reference, arg.RelatedTxID, arg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("insert ledger transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetLedgerTransaction(ctx context.Context, id uuid.UUID) (models.LedgerTransaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_transactions WHERE id = $1`, id)
	return scanLedgerTx(row)
}

func (q *Queries) GetLedgerTransactionByReference(ctx context.Context, reference string) (models.LedgerTransaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_transactions WHERE reference = $1`, reference)
	return scanLedgerTx(row)
}

// GetLedgerStatusForUpdate locks the row before a status transition.
func (q *Queries) GetLedgerStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := q.db.QueryRow(ctx, `SELECT status FROM ledger_transactions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}

func (q *Queries) UpdateLedgerStatus(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ledger_transactions SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return 0, fmt.Errorf("update ledger status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int32) ([]models.LedgerTransaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerTransaction
	for rows.Next() {
		t, err := scanLedgerTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SumExchangeDebitsSince aggregates a user's completed exchange debits per
// source currency from the given instant; feeds the exchange limit check.
func (q *Queries) SumExchangeDebitsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]CurrencyAmount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT t.currency, COALESCE(SUM(-t.amount_micros), 0)
		FROM ledger_transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1
		  AND t.kind = 'exchange'
		  AND t.status = 'COMPLETED'
		  AND t.amount_micros < 0
		  AND t.created_at >= $2
		GROUP BY t.currency
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("sum exchange debits: %w", err)
	}
	defer rows.Close()

	var out []CurrencyAmount
	for rows.Next() {
		var c CurrencyAmount
		if err := rows.Scan(&c.Currency, &c.AmountMicros); err != nil {
			return nil, fmt.Errorf("scan exchange sum: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// NetCompletedLedger returns the signed sum of completed ledger amounts per
// currency; paired with SumWalletBalances by the reconciliation check.
func (q *Queries) NetCompletedLedger(ctx context.Context) ([]CurrencyAmount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT currency, COALESCE(SUM(amount_micros), 0)
		FROM ledger_transactions
		WHERE status = 'COMPLETED'
		GROUP BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("net completed ledger: %w", err)
	}
	defer rows.Close()

	var out []CurrencyAmount
	for rows.Next() {
		var c CurrencyAmount
		if err := rows.Scan(&c.Currency, &c.AmountMicros); err != nil {
			return nil, fmt.Errorf("scan ledger net: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
