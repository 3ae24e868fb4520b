package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/models"
)

const cardColumns = `id, user_id, wallet_id, masked_number, number_hash, cvv_hash, activation_hash,
	expiry_month, expiry_year, status, online_payments,
	per_tx_limit_micros, daily_limit_micros, weekly_limit_micros, monthly_limit_micros,
	spent_day_micros, spent_week_micros, spent_month_micros,
	last_daily_reset, last_weekly_reset, last_monthly_reset,
	allowed_merchants, blocked_merchants, failed_activations, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (models.IssuedCard, error) {
	var c models.IssuedCard
	err := row.Scan(
		&c.ID, &c.UserID, &c.WalletID, &c.MaskedNumber, &c.NumberHash, &c.CVVHash, &c.ActivationHsh,
		&c.ExpiryMonth, &c.ExpiryYear, &c.Status, &c.OnlinePayment,
		&c.PerTxLimitMicros, &c.DailyLimitMicros, &c.WeeklyLimitMicros, &c.MonthlyLimitMicros,
		&c.SpentDayMicros, &c.SpentWeekMicros, &c.SpentMonthMicros,
		&c.LastDailyReset, &c.LastWeeklyReset, &c.LastMonthlyReset,
		&c.AllowedMerchants, &c.BlockedMerchants, &c.FailedActivations, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (q *Queries) InsertCard(ctx context.Context, c models.IssuedCard) error {
	// The merchant-list columns are NOT NULL TEXT[]; pgx encodes a nil Go
	// slice as SQL NULL, so send an explicit empty array instead.
	allowed, blocked := c.AllowedMerchants, c.BlockedMerchants
	if allowed == nil {
		allowed = []string{}
	}
	if blocked == nil {
		blocked = []string{}
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO cards (id, user_id, wallet_id, masked_number, number_hash, cvv_hash, activation_hash,
			expiry_month, expiry_year, status, online_payments,
			per_tx_limit_micros, daily_limit_micros, weekly_limit_micros, monthly_limit_micros,
			spent_day_micros, spent_week_micros, spent_month_micros,
			last_daily_reset, last_weekly_reset, last_monthly_reset,
			allowed_merchants, blocked_merchants, failed_activations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			0, 0, 0, NOW(), NOW(), NOW(), $16, $17, 0, NOW(), NOW())
	`, c.ID, c.UserID, c.WalletID, c.MaskedNumber, c.NumberHash, c.CVVHash, c.ActivationHsh,
		c.ExpiryMonth, c.ExpiryYear, c.Status, c.OnlinePayment,
		c.PerTxLimitMicros, c.DailyLimitMicros, c.WeeklyLimitMicros, c.MonthlyLimitMicros,
		allowed, blocked)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (q *Queries) GetCard(ctx context.Context, id uuid.UUID) (models.IssuedCard, error) {
	row := q.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id)
	return scanCard(row)
}

func (q *Queries) GetCardForUpdate(ctx context.Context, id uuid.UUID) (models.IssuedCard, error) {
	row := q.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1 FOR UPDATE`, id)
	return scanCard(row)
}

func (q *Queries) GetCardByNumberHash(ctx context.Context, numberHash string) (models.IssuedCard, error) {
	row := q.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE number_hash = $1`, numberHash)
	return scanCard(row)
}

func (q *Queries) GetCardByNumberHashForUpdate(ctx context.Context, numberHash string) (models.IssuedCard, error) {
	row := q.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE number_hash = $1 FOR UPDATE`, numberHash)
	return scanCard(row)
}

func (q *Queries) ListCardsByUser(ctx context.Context, userID uuid.UUID) ([]models.IssuedCard, error) {
	rows, err := q.db.Query(ctx, `SELECT `+cardColumns+` FROM cards WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var out []models.IssuedCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCardStatus transitions a card, guarded by the set of statuses the
// transition is legal from.
func (q *Queries) UpdateCardStatus(ctx context.Context, id uuid.UUID, status string, fromStatuses []string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE cards SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, status, fromStatuses)
	if err != nil {
		return 0, fmt.Errorf("update card status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateCardLimitsParams is the limit/toggle surface a cardholder may change.
type UpdateCardLimitsParams struct {
	ID                 uuid.UUID
	PerTxLimitMicros   int64
	DailyLimitMicros   int64
	WeeklyLimitMicros  int64
	MonthlyLimitMicros int64
	OnlinePayments     bool
	AllowedMerchants   []string
	BlockedMerchants   []string
}

func (q *Queries) UpdateCardLimits(ctx context.Context, arg UpdateCardLimitsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE cards
		SET per_tx_limit_micros = $2, daily_limit_micros = $3, weekly_limit_micros = $4,
		    monthly_limit_micros = $5, online_payments = $6,
		    allowed_merchants = $7, blocked_merchants = $8, updated_at = NOW()
		WHERE id = $1
	`, arg.ID, arg.PerTxLimitMicros, arg.DailyLimitMicros, arg.WeeklyLimitMicros,
		arg.MonthlyLimitMicros, arg.OnlinePayments, arg.AllowedMerchants, arg.BlockedMerchants)
	if err != nil {
		return 0, fmt.Errorf("update card limits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IncrementFailedActivations bumps the attempt counter and returns the new value.
func (q *Queries) IncrementFailedActivations(ctx context.Context, id uuid.UUID) (int32, error) {
	var attempts int32
	err := q.db.QueryRow(ctx, `
		UPDATE cards SET failed_activations = failed_activations + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_activations
	`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment failed activations: %w", err)
	}
	return attempts, nil
}

// ApplyCardSpend bumps all three rolling counters after a successful
// authorization.
func (q *Queries) ApplyCardSpend(ctx context.Context, id uuid.UUID, amountMicros int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE cards
		SET spent_day_micros = spent_day_micros + $2,
		    spent_week_micros = spent_week_micros + $2,
		    spent_month_micros = spent_month_micros + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, amountMicros)
	if err != nil {
		return 0, fmt.Errorf("apply card spend: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetDailyCounters zeroes the daily counter for cards not yet reset in the
// current period. The timestamp predicate makes concurrent sweeps idempotent:
// a card is reset at most once per boundary.
func (q *Queries) ResetDailyCounters(ctx context.Context, periodStart time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE cards SET spent_day_micros = 0, last_daily_reset = NOW(), updated_at = NOW()
		WHERE last_daily_reset < $1
	`, periodStart)
	if err != nil {
		return 0, fmt.Errorf("reset daily counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ResetWeeklyCounters(ctx context.Context, periodStart time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE cards SET spent_week_micros = 0, last_weekly_reset = NOW(), updated_at = NOW()
		WHERE last_weekly_reset < $1
	`, periodStart)
	if err != nil {
		return 0, fmt.Errorf("reset weekly counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ResetMonthlyCounters(ctx context.Context, periodStart time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE cards SET spent_month_micros = 0, last_monthly_reset = NOW(), updated_at = NOW()
		WHERE last_monthly_reset < $1
	`, periodStart)
	if err != nil {
		return 0, fmt.Errorf("reset monthly counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

const cardTxColumns = `id, card_id, amount_micros, status, merchant_id, merchant_ref, decline_code, auth_code, ledger_tx_id, created_at`

func scanCardTx(row interface{ Scan(...any) error }) (models.CardTransaction, error) {
	var t models.CardTransaction
	err := row.Scan(&t.ID, &t.CardID, &t.AmountMicros, &t.Status, &t.MerchantID, &t.MerchantRef, &t.DeclineCode, &t.AuthCode, &t.LedgerTxID, &t.CreatedAt)
	return t, err
}

// InsertCardTransaction records an authorization attempt. (card_id,
// merchant_ref) is unique for completed rows, giving natural idempotency on
// merchant retries.
func (q *Queries) InsertCardTransaction(ctx context.Context, t models.CardTransaction) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO card_transactions (id, card_id, amount_micros, status, merchant_id, merchant_ref, decline_code, auth_code, ledger_tx_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (card_id, merchant_ref) WHERE status = 'COMPLETED' DO NOTHING
	`, t.ID, t.CardID, t.AmountMicros, t.Status, t.MerchantID, t.MerchantRef, t.DeclineCode, t.AuthCode, t.LedgerTxID)
	if err != nil {
		return 0, fmt.Errorf("insert card transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetCompletedCardTransactionByRef fetches a prior successful authorization
// for the same merchant reference, if any.
func (q *Queries) GetCompletedCardTransactionByRef(ctx context.Context, cardID uuid.UUID, merchantRef string) (models.CardTransaction, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+cardTxColumns+` FROM card_transactions
		WHERE card_id = $1 AND merchant_ref = $2 AND status = 'COMPLETED'
	`, cardID, merchantRef)
	return scanCardTx(row)
}

func (q *Queries) ListCardTransactions(ctx context.Context, cardID uuid.UUID, limit, offset int32) ([]models.CardTransaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+cardTxColumns+` FROM card_transactions
		WHERE card_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, cardID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list card transactions: %w", err)
	}
	defer rows.Close()

	var out []models.CardTransaction
	for rows.Next() {
		t, err := scanCardTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) InsertMerchant(ctx context.Context, m models.Merchant) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO merchants (id, name, approved, created_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.Name, m.Approved)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

func (q *Queries) GetMerchant(ctx context.Context, id uuid.UUID) (models.Merchant, error) {
	var m models.Merchant
	err := q.db.QueryRow(ctx, `SELECT id, name, approved, created_at FROM merchants WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Approved, &m.CreatedAt)
	return m, err
}
