package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/models"
)

const walletColumns = `id, user_id, currency, wallet_type, balance_micros, available_micros, status, created_at, updated_at`

func scanWallet(row interface{ Scan(...any) error }) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.Type, &w.BalanceMicros, &w.AvailableMicros, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// CreateWalletIfAbsent lazily creates the (user, currency, type) wallet.
// Calling it for an existing wallet is a no-op.
func (q *Queries) CreateWalletIfAbsent(ctx context.Context, id, userID uuid.UUID, currency, walletType string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO wallets (id, user_id, currency, wallet_type, balance_micros, available_micros, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, NOW(), NOW())
		ON CONFLICT (user_id, currency, wallet_type) DO NOTHING
	`, id, userID, currency, walletType, "ACTIVE")
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (q *Queries) GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	row := q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

func (q *Queries) GetWalletByOwner(ctx context.Context, userID uuid.UUID, currency, walletType string) (models.Wallet, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets
		WHERE user_id = $1 AND currency = $2 AND wallet_type = $3
	`, userID, currency, walletType)
	return scanWallet(row)
}

// GetWalletForUpdate acquires a pessimistic row lock for the duration of the
// enclosing transaction.
func (q *Queries) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	row := q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
	return scanWallet(row)
}

// DebitWallet atomically removes amount from the wallet. The predicate keeps
// available_micros from going negative: zero rows affected means insufficient
// funds (or an inactive wallet).
func (q *Queries) DebitWallet(ctx context.Context, id uuid.UUID, amountMicros int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE wallets
		SET balance_micros = balance_micros - $1,
		    available_micros = available_micros - $1,
		    updated_at = NOW()
		WHERE id = $2 AND status = 'ACTIVE' AND available_micros >= $1
	`, amountMicros, id)
	if err != nil {
		return 0, fmt.Errorf("debit wallet: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreditWallet atomically adds amount to the wallet.
func (q *Queries) CreditWallet(ctx context.Context, id uuid.UUID, amountMicros int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE wallets
		SET balance_micros = balance_micros + $1,
		    available_micros = available_micros + $1,
		    updated_at = NOW()
		WHERE id = $2 AND status = 'ACTIVE'
	`, amountMicros, id)
	if err != nil {
		return 0, fmt.Errorf("credit wallet: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY currency, wallet_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// CurrencyAmount is a per-currency aggregate row.
type CurrencyAmount struct {
	Currency     string
	AmountMicros int64
}

// SumWalletBalances returns the total wallet balance per currency; used by the
// reconciliation check.
func (q *Queries) SumWalletBalances(ctx context.Context) ([]CurrencyAmount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT currency, COALESCE(SUM(balance_micros), 0) FROM wallets GROUP BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("sum wallet balances: %w", err)
	}
	defer rows.Close()

	var out []CurrencyAmount
	for rows.Next() {
		var c CurrencyAmount
		if err := rows.Scan(&c.Currency, &c.AmountMicros); err != nil {
			return nil, fmt.Errorf("scan balance sum: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
