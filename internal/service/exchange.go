package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/observability"
	"github.com/sewapay/paycore/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExchangeService converts funds between two wallets of the same user that
// hold different currencies. Quotes and limit checks share one code path with
// execution so a quoted outcome matches the executed one.
type ExchangeService struct {
	store  QueryStore
	ledger *LedgerService
	policy *PolicyCache

	// referenceCurrency is the currency all limit maths are carried out in.
	referenceCurrency string
	defaultMarginPct  decimal.Decimal
}

func NewExchangeService(store QueryStore, ledger *LedgerService, policy *PolicyCache, referenceCurrency string, defaultMarginPct decimal.Decimal) *ExchangeService {
	if referenceCurrency == "" {
		referenceCurrency = "SLE"
	}
	return &ExchangeService{
		store:             store,
		ledger:            ledger,
		policy:            policy,
		referenceCurrency: referenceCurrency,
		defaultMarginPct:  defaultMarginPct,
	}
}

// Quote is a priced conversion preview. Executing the same parameters while
// the underlying rate row stays effective produces exactly these numbers.
type Quote struct {
	FromCurrency  string          `json:"from_currency"`
	ToCurrency    string          `json:"to_currency"`
	Rate          decimal.Decimal `json:"rate"`
	MarginPct     decimal.Decimal `json:"margin_pct"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`
	FeePct        decimal.Decimal `json:"fee_pct"`
	DebitMicros   int64           `json:"debit_micros"`
	GrossMicros   int64           `json:"gross_micros"`
	FeeMicros     int64           `json:"fee_micros"`
	CreditMicros  int64           `json:"credit_micros"`
}

// ExchangeResult pairs the two ledger legs of a completed conversion.
type ExchangeResult struct {
	Quote    Quote                    `json:"quote"`
	DebitTx  models.LedgerTransaction `json:"debit_transaction"`
	CreditTx models.LedgerTransaction `json:"credit_transaction"`
	Replayed bool                     `json:"-"`
}

func (s *ExchangeService) quote(ctx context.Context, q *repository.Queries, from, to, role string, amountMicros int64) (Quote, error) {
	if from == to {
		return Quote{}, models.ErrSameCurrency
	}
	rateRow, err := q.GetActiveRate(ctx, from, to)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, models.ErrRateUnavailable
		}
		return Quote{}, fmt.Errorf("get active rate: %w", err)
	}

	margin := rateRow.MarginPct
	effective := domain.EffectiveRate(rateRow.Rate, margin)

	feePct := decimal.Zero
	if s.policy != nil {
		if p, ok := s.policy.ForRole(role); ok {
			feePct = p.FeePct
		}
	}

	gross := domain.NewMoney(amountMicros, from).Convert(to, effective)
	fee := gross.ApplyPercent(feePct)
	net := gross.Sub(fee)

	return Quote{
		FromCurrency:  from,
		ToCurrency:    to,
		Rate:          rateRow.Rate,
		MarginPct:     margin,
		EffectiveRate: effective,
		FeePct:        feePct,
		DebitMicros:   amountMicros,
		GrossMicros:   gross.Amount,
		FeeMicros:     fee.Amount,
		CreditMicros:  net.Amount,
	}, nil
}

// GetQuote prices a conversion without moving funds.
func (s *ExchangeService) GetQuote(ctx context.Context, from, to, role string, amountMicros int64) (Quote, error) {
	if amountMicros <= 0 {
		return Quote{}, fmt.Errorf("invalid exchange amount: %d", amountMicros)
	}
	return s.quote(ctx, s.store.Queries(), from, to, role, amountMicros)
}

// SetRate publishes a new rate row for a currency pair. The previous row stays
// in place; the active-window query resolves the newest one. A nil marginPct
// takes the configured default; an explicit zero is stored as zero and quoted
// at the full rate.
func (s *ExchangeService) SetRate(ctx context.Context, from, to string, rate decimal.Decimal, marginOpt *decimal.Decimal, setBy uuid.UUID) (models.ExchangeRate, error) {
	if from == to {
		return models.ExchangeRate{}, models.ErrSameCurrency
	}
	if !rate.IsPositive() {
		return models.ExchangeRate{}, fmt.Errorf("rate must be positive, got %s", rate)
	}
	marginPct := s.defaultMarginPct
	if marginOpt != nil {
		marginPct = *marginOpt
	}
	if marginPct.IsNegative() {
		return models.ExchangeRate{}, fmt.Errorf("margin must not be negative, got %s", marginPct)
	}
	row := models.ExchangeRate{
		ID:           uuid.New(),
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         rate,
		MarginPct:    marginPct,
		ActiveFrom:   time.Now().UTC(),
		SetBy:        setBy,
	}
	if err := s.store.Queries().InsertExchangeRate(ctx, row); err != nil {
		return models.ExchangeRate{}, fmt.Errorf("insert exchange rate: %w", err)
	}
	zap.L().Info("exchange rate published",
		zap.String("pair", from+"/"+to),
		zap.String("rate", rate.String()),
		zap.String("margin_pct", marginPct.String()),
	)
	return row, nil
}

// toReference converts an amount into the reference currency for limit maths.
func (s *ExchangeService) toReference(ctx context.Context, q *repository.Queries, currency string, amountMicros int64) (int64, error) {
	if currency == s.referenceCurrency {
		return amountMicros, nil
	}
	rateRow, err := q.GetActiveRate(ctx, currency, s.referenceCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrRateUnavailable
		}
		return 0, fmt.Errorf("get reference rate: %w", err)
	}
	return domain.NewMoney(amountMicros, currency).Convert(s.referenceCurrency, rateRow.Rate).Amount, nil
}

// LimitUsage reports how much of the daily and monthly allowances a user has
// consumed, in the reference currency.
type LimitUsage struct {
	Role               string `json:"role"`
	ReferenceCurrency  string `json:"reference_currency"`
	DailyUsedMicros    int64  `json:"daily_used_micros"`
	DailyLimitMicros   int64  `json:"daily_limit_micros"`
	MonthlyUsedMicros  int64  `json:"monthly_used_micros"`
	MonthlyLimitMicros int64  `json:"monthly_limit_micros"`
	MinMicros          int64  `json:"min_micros"`
	MaxMicros          int64  `json:"max_micros"`
}

func (s *ExchangeService) usedSince(ctx context.Context, q *repository.Queries, userID uuid.UUID, since time.Time) (int64, error) {
	sums, err := q.SumExchangeDebitsSince(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("sum exchange debits: %w", err)
	}
	var total int64
	for _, sum := range sums {
		ref, err := s.toReference(ctx, q, sum.Currency, sum.AmountMicros)
		if err != nil {
			if errors.Is(err, models.ErrRateUnavailable) {
				// A currency with no reference rate cannot count toward
				// limits priced in the reference currency.
				zap.L().Warn("no reference rate for limit accounting",
					zap.String("currency", sum.Currency))
				continue
			}
			return 0, err
		}
		total += ref
	}
	return total, nil
}

// Usage reports the caller's current limit consumption.
func (s *ExchangeService) Usage(ctx context.Context, userID uuid.UUID, role string) (LimitUsage, error) {
	policy, ok := s.policy.ForRole(role)
	if !ok {
		return LimitUsage{}, fmt.Errorf("no limit policy configured for role %q", role)
	}
	q := s.store.Queries()
	now := time.Now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	daily, err := s.usedSince(ctx, q, userID, dayStart)
	if err != nil {
		return LimitUsage{}, err
	}
	monthly, err := s.usedSince(ctx, q, userID, monthStart)
	if err != nil {
		return LimitUsage{}, err
	}
	return LimitUsage{
		Role:               policy.Role,
		ReferenceCurrency:  s.referenceCurrency,
		DailyUsedMicros:    daily,
		DailyLimitMicros:   policy.DailyMicros,
		MonthlyUsedMicros:  monthly,
		MonthlyLimitMicros: policy.MonthlyMicros,
		MinMicros:          policy.MinMicros,
		MaxMicros:          policy.MaxMicros,
	}, nil
}

func (s *ExchangeService) checkLimits(ctx context.Context, q *repository.Queries, userID uuid.UUID, role, currency string, amountMicros int64) error {
	policy, ok := s.policy.ForRole(role)
	if !ok {
		return fmt.Errorf("no limit policy configured for role %q", role)
	}
	amountRef, err := s.toReference(ctx, q, currency, amountMicros)
	if err != nil {
		return err
	}
	if policy.MinMicros > 0 && amountRef < policy.MinMicros {
		return models.ErrBelowMinimum
	}
	if policy.MaxMicros > 0 && amountRef > policy.MaxMicros {
		return models.ErrAboveMaximum
	}

	now := time.Now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if policy.DailyMicros > 0 {
		used, err := s.usedSince(ctx, q, userID, dayStart)
		if err != nil {
			return err
		}
		if used+amountRef > policy.DailyMicros {
			return models.ErrLimitExceeded
		}
	}
	if policy.MonthlyMicros > 0 {
		used, err := s.usedSince(ctx, q, userID, monthStart)
		if err != nil {
			return err
		}
		if used+amountRef > policy.MonthlyMicros {
			return models.ErrLimitExceeded
		}
	}
	return nil
}

// ExecuteParams describes a conversion between two wallets of one user.
type ExecuteParams struct {
	UserID         uuid.UUID
	Role           string
	SourceWalletID uuid.UUID
	DestWalletID   uuid.UUID
	AmountMicros   int64
	Reference      string
}

// Execute converts funds between two wallets as a single atomic unit: one
// debit leg on the source wallet and one linked credit leg on the destination
// wallet, both completed or neither. Re-submitting the same reference replays
// the prior outcome without moving funds again.
func (s *ExchangeService) Execute(ctx context.Context, arg ExecuteParams) (ExchangeResult, error) {
	if arg.AmountMicros <= 0 {
		return ExchangeResult{}, fmt.Errorf("invalid exchange amount: %d", arg.AmountMicros)
	}
	if arg.Reference == "" {
		return ExchangeResult{}, errors.New("exchange reference is required")
	}
	if arg.SourceWalletID == arg.DestWalletID {
		return ExchangeResult{}, models.ErrSameCurrency
	}

	var result ExchangeResult
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		// Lock both wallets in a deterministic order so two concurrent
		// exchanges touching the same pair never deadlock.
		first, second := arg.SourceWalletID, arg.DestWalletID
		if bytes.Compare(second[:], first[:]) < 0 {
			first, second = second, first
		}
		firstWallet, err := qtx.GetWalletForUpdate(ctx, first)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return lockMissError(first, arg)
			}
			return fmt.Errorf("lock wallet: %w", err)
		}
		secondWallet, err := qtx.GetWalletForUpdate(ctx, second)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return lockMissError(second, arg)
			}
			return fmt.Errorf("lock wallet: %w", err)
		}

		source, dest := firstWallet, secondWallet
		if source.ID != arg.SourceWalletID {
			source, dest = secondWallet, firstWallet
		}

		if source.UserID != arg.UserID {
			return models.ErrNotPermitted
		}
		if dest.UserID != arg.UserID {
			return models.ErrNotPermitted
		}
		if source.Currency == dest.Currency {
			return models.ErrSameCurrency
		}
		if source.Status != domain.WalletStatusActive || dest.Status != domain.WalletStatusActive {
			return models.ErrWalletInactive
		}

		quote, err := s.quote(ctx, qtx, source.Currency, dest.Currency, arg.Role, arg.AmountMicros)
		if err != nil {
			return err
		}
		if err := s.checkLimits(ctx, qtx, arg.UserID, arg.Role, source.Currency, arg.AmountMicros); err != nil {
			return err
		}

		meta, err := domain.EncodeMeta(domain.ExchangeMeta{
			FromCurrency:  quote.FromCurrency,
			ToCurrency:    quote.ToCurrency,
			Rate:          quote.Rate.String(),
			MarginPct:     quote.MarginPct.String(),
			EffectiveRate: quote.EffectiveRate.String(),
			FeeMicros:     quote.FeeMicros,
			GrossMicros:   quote.GrossMicros,
		})
		if err != nil {
			return fmt.Errorf("encode exchange metadata: %w", err)
		}

		debitTx, replayed, err := s.ledger.Record(ctx, qtx, RecordParams{
			WalletID:     source.ID,
			AmountMicros: -arg.AmountMicros,
			Currency:     source.Currency,
			Kind:         domain.TxKindExchange,
			Status:       domain.TxStatusCompleted,
			Reference:    arg.Reference,
			Metadata:     meta,
		})
		if err != nil {
			return err
		}
		if replayed {
			creditTx, err := qtx.GetLedgerTransactionByReference(ctx, arg.Reference+"-credit")
			if err != nil {
				return fmt.Errorf("read back replayed credit leg: %w", err)
			}
			result = ExchangeResult{Quote: quote, DebitTx: debitTx, CreditTx: creditTx, Replayed: true}
			return nil
		}

		if err := debitLocked(ctx, qtx, source, arg.AmountMicros); err != nil {
			return err
		}
		creditTx, _, err := s.ledger.Record(ctx, qtx, RecordParams{
			WalletID:     dest.ID,
			AmountMicros: quote.CreditMicros,
			Currency:     dest.Currency,
			Kind:         domain.TxKindExchange,
			Status:       domain.TxStatusCompleted,
			Reference:    arg.Reference + "-credit",
			RelatedTxID:  &debitTx.ID,
			Metadata:     meta,
		})
		if err != nil {
			return err
		}
		if err := creditLocked(ctx, qtx, dest, quote.CreditMicros); err != nil {
			return err
		}

		result = ExchangeResult{Quote: quote, DebitTx: debitTx, CreditTx: creditTx}
		return nil
	})
	if err != nil {
		return ExchangeResult{}, err
	}
	if !result.Replayed {
		s.ledger.NotifyCommitted(result.DebitTx, result.CreditTx)
		observability.IncrementExchange(result.Quote.FromCurrency+"/"+result.Quote.ToCurrency, "executed")
		zap.L().Info("exchange executed",
			zap.String("reference", arg.Reference),
			zap.String("pair", result.Quote.FromCurrency+"/"+result.Quote.ToCurrency),
			zap.Int64("debit_micros", result.Quote.DebitMicros),
			zap.Int64("credit_micros", result.Quote.CreditMicros),
		)
	}
	return result, nil
}

func lockMissError(missing uuid.UUID, arg ExecuteParams) error {
	if missing == arg.SourceWalletID {
		return models.ErrSourceNotFound
	}
	return models.ErrDestNotFound
}
