package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/models"
	"github.com/shopspring/decimal"
)

// GetActiveRate returns the newest rate for the pair whose activity window
// covers the current instant.
func (q *Queries) GetActiveRate(ctx context.Context, from, to string) (models.ExchangeRate, error) {
	var (
		r         models.ExchangeRate
		rateStr   string
		marginStr string
	)
	row := q.db.QueryRow(ctx, `
		SELECT id, from_currency, to_currency, rate::text, margin_pct::text, active_from, active_to, set_by, created_at
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2
		  AND active_from <= NOW()
		  AND (active_to IS NULL OR active_to > NOW())
		ORDER BY active_from DESC
		LIMIT 1
	`, from, to)
	if err := row.Scan(&r.ID, &r.FromCurrency, &r.ToCurrency, &rateStr, &marginStr, &r.ActiveFrom, &r.ActiveTo, &r.SetBy, &r.CreatedAt); err != nil {
		return models.ExchangeRate{}, err
	}

	var err error
	if r.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return models.ExchangeRate{}, fmt.Errorf("parse rate: %w", err)
	}
	if r.MarginPct, err = decimal.NewFromString(marginStr); err != nil {
		return models.ExchangeRate{}, fmt.Errorf("parse margin: %w", err)
	}
	return r, nil
}

// InsertExchangeRate registers a new rate for a pair from activeFrom onward.
func (q *Queries) InsertExchangeRate(ctx context.Context, r models.ExchangeRate) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO exchange_rates (id, from_currency, to_currency, rate, margin_pct, active_from, active_to, set_by, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, NOW())
	`, r.ID, r.FromCurrency, r.ToCurrency, r.Rate.String(), r.MarginPct.String(), r.ActiveFrom, r.ActiveTo, r.SetBy)
	if err != nil {
		return fmt.Errorf("insert exchange rate: %w", err)
	}
	return nil
}

// ListEffectiveLimitPolicies returns the newest effective policy per role.
func (q *Queries) ListEffectiveLimitPolicies(ctx context.Context) ([]models.ExchangeLimitPolicy, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT ON (role)
			id, role, daily_micros, monthly_micros, min_micros, max_micros, fee_pct::text, version, effective_from
		FROM exchange_limit_policies
		WHERE effective_from <= NOW()
		ORDER BY role, effective_from DESC, version DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list limit policies: %w", err)
	}
	defer rows.Close()

	var out []models.ExchangeLimitPolicy
	for rows.Next() {
		var (
			p      models.ExchangeLimitPolicy
			feeStr string
		)
		if err := rows.Scan(&p.ID, &p.Role, &p.DailyMicros, &p.MonthlyMicros, &p.MinMicros, &p.MaxMicros, &feeStr, &p.Version, &p.EffectiveFrom); err != nil {
			return nil, fmt.Errorf("scan limit policy: %w", err)
		}
		if p.FeePct, err = decimal.NewFromString(feeStr); err != nil {
			return nil, fmt.Errorf("parse fee pct: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertLimitPolicy appends a new policy version for a role.
func (q *Queries) InsertLimitPolicy(ctx context.Context, p models.ExchangeLimitPolicy) error {
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO exchange_limit_policies (id, role, daily_micros, monthly_micros, min_micros, max_micros, fee_pct, version, effective_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
	`, id, p.Role, p.DailyMicros, p.MonthlyMicros, p.MinMicros, p.MaxMicros, p.FeePct.String(), p.Version, p.EffectiveFrom)
	if err != nil {
		return fmt.Errorf("insert limit policy: %w", err)
	}
	return nil
}
