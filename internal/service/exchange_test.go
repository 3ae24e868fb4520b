package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteAppliesMarginAndFee(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "2.5")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	// 100 USD at 22.50 with a 2.5% fee nets 2193.75 SLE.
	quote, err := svc.GetQuote(ctx, "USD", "SLE", domain.RoleStandard, 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), quote.DebitMicros)
	assert.Equal(t, int64(2_250_000_000), quote.GrossMicros)
	assert.Equal(t, int64(56_250_000), quote.FeeMicros)
	assert.Equal(t, int64(2_193_750_000), quote.CreditMicros)
	assert.True(t, quote.EffectiveRate.Equal(mustDecimal(t, "22.50")))
}

func TestQuoteMarginShavesRate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "1")
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "0")
	svc, _ := newExchangeForTest(t, db)

	quote, err := svc.GetQuote(context.Background(), "USD", "SLE", domain.RoleStandard, 100_000_000)
	require.NoError(t, err)
	// 22.50 * 0.99 = 22.275, so 100 USD grosses 2227.50 SLE.
	assert.Equal(t, int64(2_227_500_000), quote.GrossMicros)
	assert.Equal(t, int64(2_227_500_000), quote.CreditMicros)
}

func TestQuoteHonorsExplicitZeroMargin(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "0")
	store := repository.NewStore(db)
	ledger := NewLedgerService(store)
	// A configured default margin must not override a published zero margin.
	svc := NewExchangeService(store, ledger, newPolicyCache(t, store), "SLE", mustDecimal(t, "1"))

	quote, err := svc.GetQuote(context.Background(), "USD", "SLE", domain.RoleStandard, 100_000_000)
	require.NoError(t, err)
	assert.True(t, quote.MarginPct.IsZero())
	assert.Equal(t, int64(2_250_000_000), quote.GrossMicros)
	assert.Equal(t, int64(2_250_000_000), quote.CreditMicros)
}

func TestSetRateDefaultsOmittedMargin(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "0")
	store := repository.NewStore(db)
	ledger := NewLedgerService(store)
	svc := NewExchangeService(store, ledger, newPolicyCache(t, store), "SLE", mustDecimal(t, "1"))
	ctx := context.Background()

	// Omitted margin takes the configured default.
	row, err := svc.SetRate(ctx, "USD", "SLE", mustDecimal(t, "22.50"), nil, uuid.New())
	require.NoError(t, err)
	assert.True(t, row.MarginPct.Equal(mustDecimal(t, "1")))

	// An explicit zero sticks.
	zero := decimal.Zero
	row, err = svc.SetRate(ctx, "EUR", "SLE", mustDecimal(t, "24.00"), &zero, uuid.New())
	require.NoError(t, err)
	assert.True(t, row.MarginPct.IsZero())
}

func TestQuoteNoActiveRate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "0")
	svc, _ := newExchangeForTest(t, db)

	_, err := svc.GetQuote(context.Background(), "USD", "SLE", domain.RoleStandard, 100_000_000)
	require.ErrorIs(t, err, models.ErrRateUnavailable)
}

func TestExecuteMovesBothLegs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "2.5")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	userID := uuid.New()
	source := createWallet(t, db, userID, "USD", 500_000_000)
	dest := createWallet(t, db, userID, "SLE", 0)

	result, err := svc.Execute(ctx, ExecuteParams{
		UserID:         userID,
		Role:           domain.RoleStandard,
		SourceWalletID: source,
		DestWalletID:   dest,
		AmountMicros:   100_000_000,
		Reference:      "fx-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(-100_000_000), result.DebitTx.AmountMicros)
	assert.Equal(t, int64(2_193_750_000), result.CreditTx.AmountMicros)
	require.NotNil(t, result.CreditTx.RelatedTxID)
	assert.Equal(t, result.DebitTx.ID, *result.CreditTx.RelatedTxID)

	assert.Equal(t, int64(400_000_000), walletBalance(t, db, source))
	assert.Equal(t, int64(2_193_750_000), walletBalance(t, db, dest))
}

func TestExecuteReplaySameReference(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "0")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	userID := uuid.New()
	source := createWallet(t, db, userID, "USD", 500_000_000)
	dest := createWallet(t, db, userID, "SLE", 0)

	arg := ExecuteParams{
		UserID:         userID,
		Role:           domain.RoleStandard,
		SourceWalletID: source,
		DestWalletID:   dest,
		AmountMicros:   100_000_000,
		Reference:      "fx-replay",
	}
	first, err := svc.Execute(ctx, arg)
	require.NoError(t, err)

	second, err := svc.Execute(ctx, arg)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.DebitTx.ID, second.DebitTx.ID)
	assert.Equal(t, first.CreditTx.ID, second.CreditTx.ID)

	// The first execution is the only one that moved funds.
	assert.Equal(t, int64(400_000_000), walletBalance(t, db, source))
}

func TestExecuteInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "0")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	userID := uuid.New()
	source := createWallet(t, db, userID, "USD", 50_000_000)
	dest := createWallet(t, db, userID, "SLE", 0)

	_, err := svc.Execute(ctx, ExecuteParams{
		UserID:         userID,
		Role:           domain.RoleStandard,
		SourceWalletID: source,
		DestWalletID:   dest,
		AmountMicros:   100_000_000,
		Reference:      "fx-broke",
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	// The rejected exchange left no ledger rows behind.
	var count int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&count))
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(50_000_000), walletBalance(t, db, source))
}

func TestExecuteOwnershipAndCurrencyGuards(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 0, 0, "0")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	userID := uuid.New()
	source := createWallet(t, db, userID, "USD", 500_000_000)
	otherDest := createWallet(t, db, uuid.New(), "SLE", 0)

	// Destination belongs to somebody else.
	_, err := svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: otherDest,
		AmountMicros: 10_000_000, Reference: "fx-foreign",
	})
	require.ErrorIs(t, err, models.ErrNotPermitted)

	// Converting USD to USD is meaningless.
	usdTwin := uuid.New()
	_, err = db.Exec(ctx, `
		INSERT INTO wallets (id, user_id, currency, wallet_type, balance_micros, available_micros, status)
		VALUES ($1, $2, 'USD', 'SECONDARY', 0, 0, 'ACTIVE')
	`, usdTwin, userID)
	require.NoError(t, err)
	_, err = svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: usdTwin,
		AmountMicros: 10_000_000, Reference: "fx-same",
	})
	require.ErrorIs(t, err, models.ErrSameCurrency)
}

func TestExecuteDailyLimit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	// Daily cap of 1500 SLE in the reference currency.
	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 1_500_000_000, 0, 0, 0, "0")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	userID := uuid.New()
	source := createWallet(t, db, userID, "USD", 500_000_000)
	dest := createWallet(t, db, userID, "SLE", 0)

	// 100 USD is 2250 SLE in the reference currency, over the cap.
	_, err := svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: dest,
		AmountMicros: 100_000_000, Reference: "fx-capped",
	})
	require.ErrorIs(t, err, models.ErrLimitExceeded)

	// 50 USD fits under the cap.
	_, err = svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: dest,
		AmountMicros: 50_000_000, Reference: "fx-under",
	})
	require.NoError(t, err)

	// The first execution consumed headroom; another 50 USD would exceed it.
	_, err = svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: dest,
		AmountMicros: 50_000_000, Reference: "fx-over",
	})
	require.ErrorIs(t, err, models.ErrLimitExceeded)
}

func TestExecuteMinMaxBounds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	// Min 100 SLE, max 10000 SLE in the reference currency.
	seedPolicy(t, db, domain.RoleStandard, 0, 0, 100_000_000, 10_000_000_000, "0")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	userID := uuid.New()
	source := createWallet(t, db, userID, "USD", 10_000_000_000)
	dest := createWallet(t, db, userID, "SLE", 0)

	_, err := svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: dest,
		AmountMicros: 1_000_000, Reference: "fx-tiny",
	})
	require.ErrorIs(t, err, models.ErrBelowMinimum)

	_, err = svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: dest,
		AmountMicros: 1_000_000_000, Reference: "fx-huge",
	})
	require.ErrorIs(t, err, models.ErrAboveMaximum)
}

func TestUsageTracksDebits(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	seedRate(t, db, "USD", "SLE", "22.50", "0")
	seedPolicy(t, db, domain.RoleStandard, 10_000_000_000, 20_000_000_000, 0, 0, "0")
	svc, _ := newExchangeForTest(t, db)
	ctx := context.Background()

	userID := uuid.New()
	source := createWallet(t, db, userID, "USD", 500_000_000)
	dest := createWallet(t, db, userID, "SLE", 0)

	_, err := svc.Execute(ctx, ExecuteParams{
		UserID: userID, Role: domain.RoleStandard,
		SourceWalletID: source, DestWalletID: dest,
		AmountMicros: 100_000_000, Reference: "fx-usage",
	})
	require.NoError(t, err)

	usage, err := svc.Usage(ctx, userID, domain.RoleStandard)
	require.NoError(t, err)
	// 100 USD spent is 2250 SLE of the daily and monthly allowances.
	assert.Equal(t, int64(2_250_000_000), usage.DailyUsedMicros)
	assert.Equal(t, int64(2_250_000_000), usage.MonthlyUsedMicros)
}
