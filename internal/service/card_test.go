package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCardForTest(t *testing.T, db *pgxpool.Pool) *CardService {
	t.Helper()
	store := repository.NewStore(db)
	return NewCardService(store, NewLedgerService(store))
}

// issueActiveCard requests and activates a card funded by a fresh wallet.
func issueActiveCard(t *testing.T, db *pgxpool.Pool, svc *CardService, balanceMicros int64) (models.IssuedCard, CardSecrets, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	walletID := createWallet(t, db, userID, "USD", balanceMicros)

	card, secrets, err := svc.Request(ctx, RequestCardParams{
		UserID:         userID,
		WalletID:       walletID,
		OnlinePayments: true,
	})
	require.NoError(t, err)

	card, err = svc.Activate(ctx, card.ID, userID, secrets.ActivationCode)
	require.NoError(t, err)
	require.Equal(t, domain.CardStatusActive, card.Status)
	return card, secrets, walletID
}

func authorizeArgs(card models.IssuedCard, secrets CardSecrets, merchantID uuid.UUID, ref string, amount int64) AuthorizeParams {
	return AuthorizeParams{
		CardNumber:   secrets.Number,
		CVV:          secrets.CVV,
		ExpiryMonth:  card.ExpiryMonth,
		ExpiryYear:   card.ExpiryYear,
		MerchantID:   merchantID,
		MerchantRef:  ref,
		AmountMicros: amount,
		Online:       true,
	}
}

func TestCardRequestAndActivate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	userID := uuid.New()
	walletID := createWallet(t, db, userID, "USD", 0)

	card, secrets, err := svc.Request(ctx, RequestCardParams{UserID: userID, WalletID: walletID})
	require.NoError(t, err)
	assert.Equal(t, domain.CardStatusPending, card.Status)
	assert.Len(t, secrets.Number, 16)
	assert.Len(t, secrets.CVV, 3)
	assert.Len(t, secrets.ActivationCode, 6)
	assert.Equal(t, "**** **** **** "+secrets.Number[12:], card.MaskedNumber)

	// A wrong code is rejected without activating.
	_, err = svc.Activate(ctx, card.ID, userID, "000000")
	if secrets.ActivationCode != "000000" {
		require.ErrorIs(t, err, models.ErrActivationMismatch)
	}

	activated, err := svc.Activate(ctx, card.ID, userID, secrets.ActivationCode)
	require.NoError(t, err)
	assert.Equal(t, domain.CardStatusActive, activated.Status)

	// Activating twice is a state conflict.
	_, err = svc.Activate(ctx, card.ID, userID, secrets.ActivationCode)
	require.ErrorIs(t, err, models.ErrStateConflict)
}

func TestCardActivationLockout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	userID := uuid.New()
	walletID := createWallet(t, db, userID, "USD", 0)

	card, secrets, err := svc.Request(ctx, RequestCardParams{UserID: userID, WalletID: walletID})
	require.NoError(t, err)

	wrong := "000000"
	if secrets.ActivationCode == wrong {
		wrong = "000001"
	}
	for i := 0; i < maxActivationAttempts-1; i++ {
		_, err = svc.Activate(ctx, card.ID, userID, wrong)
		require.ErrorIs(t, err, models.ErrActivationMismatch)
		// Each failure must be on record even though Activate errors.
		require.Equal(t, int32(i+1), cardFailedActivations(t, db, card.ID))
	}

	// The final failed attempt blocks the card permanently.
	_, err = svc.Activate(ctx, card.ID, userID, wrong)
	require.ErrorIs(t, err, models.ErrCardBlocked)
	require.Equal(t, domain.CardStatusBlocked, cardStatus(t, db, card.ID))

	// The correct code no longer helps.
	_, err = svc.Activate(ctx, card.ID, userID, secrets.ActivationCode)
	require.ErrorIs(t, err, models.ErrCardBlocked)
}

func cardFailedActivations(t *testing.T, db *pgxpool.Pool, cardID uuid.UUID) int32 {
	t.Helper()
	var n int32
	err := db.QueryRow(context.Background(),
		`SELECT failed_activations FROM cards WHERE id = $1`, cardID).Scan(&n)
	require.NoError(t, err)
	return n
}

func cardStatus(t *testing.T, db *pgxpool.Pool, cardID uuid.UUID) string {
	t.Helper()
	var status string
	err := db.QueryRow(context.Background(),
		`SELECT status FROM cards WHERE id = $1`, cardID).Scan(&status)
	require.NoError(t, err)
	return status
}

func TestCardAuthorizeApproveAndReplay(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	card, secrets, walletID := issueActiveCard(t, db, svc, 100_000_000)
	merchantID := seedMerchant(t, db, true)

	tx, err := svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-1", 30_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.CardTxStatusCompleted, tx.Status)
	assert.NotEmpty(t, tx.AuthCode)
	require.NotNil(t, tx.LedgerTxID)
	assert.Equal(t, int64(70_000_000), walletBalance(t, db, walletID))

	// Retrying the same merchant reference replays the approval.
	replay, err := svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-1", 30_000_000))
	require.NoError(t, err)
	assert.Equal(t, tx.ID, replay.ID)
	assert.Equal(t, int64(70_000_000), walletBalance(t, db, walletID))

	// Spend counters advanced exactly once.
	got, err := svc.Get(ctx, card.ID, card.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(30_000_000), got.SpentDayMicros)
	assert.Equal(t, int64(30_000_000), got.SpentWeekMicros)
	assert.Equal(t, int64(30_000_000), got.SpentMonthMicros)
}

func TestCardAuthorizeUnknownCard(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	merchantID := seedMerchant(t, db, true)

	tx, err := svc.Authorize(context.Background(), AuthorizeParams{
		CardNumber:   "4000111122223333",
		CVV:          "123",
		ExpiryMonth:  12,
		ExpiryYear:   2030,
		MerchantID:   merchantID,
		MerchantRef:  "order-ghost",
		AmountMicros: 1_000_000,
		Online:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CardTxStatusDeclined, tx.Status)
	assert.Equal(t, string(domain.DeclineInvalidCard), tx.DeclineCode)

	// An unknown number leaves no trace in the database.
	var count int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT COUNT(*) FROM card_transactions`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCardAuthorizeDeclines(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	card, secrets, walletID := issueActiveCard(t, db, svc, 100_000_000)
	merchantID := seedMerchant(t, db, true)

	// Wrong CVV.
	arg := authorizeArgs(card, secrets, merchantID, "order-cvv", 1_000_000)
	arg.CVV = "999"
	if secrets.CVV == "999" {
		arg.CVV = "998"
	}
	tx, err := svc.Authorize(ctx, arg)
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeclineInvalidCVV), tx.DeclineCode)

	// Unapproved merchant.
	pending := seedMerchant(t, db, false)
	tx, err = svc.Authorize(ctx, authorizeArgs(card, secrets, pending, "order-unapproved", 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeclineMerchantUnknown), tx.DeclineCode)

	// Insufficient funds.
	tx, err = svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-broke", 200_000_000))
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeclineInsufficientFunds), tx.DeclineCode)

	// Declines never touched the balance or the counters.
	assert.Equal(t, int64(100_000_000), walletBalance(t, db, walletID))
	got, err := svc.Get(ctx, card.ID, card.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.SpentDayMicros)

	// Every attempt is recorded.
	history, err := svc.Transactions(ctx, card.ID, card.UserID, 1, 20)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestCardAuthorizeDailyLimit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	userID := uuid.New()
	walletID := createWallet(t, db, userID, "USD", 500_000_000)

	card, secrets, err := svc.Request(ctx, RequestCardParams{
		UserID:           userID,
		WalletID:         walletID,
		DailyLimitMicros: 50_000_000,
		OnlinePayments:   true,
	})
	require.NoError(t, err)
	card, err = svc.Activate(ctx, card.ID, userID, secrets.ActivationCode)
	require.NoError(t, err)

	merchantID := seedMerchant(t, db, true)

	_, err = svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-a", 40_000_000))
	require.NoError(t, err)

	tx, err := svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-b", 20_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.CardTxStatusDeclined, tx.Status)
	assert.Equal(t, string(domain.DeclineExceedsDaily), tx.DeclineCode)
	assert.Equal(t, int64(460_000_000), walletBalance(t, db, walletID))

	// After the daily reset the same spend goes through.
	_, err = svc.ResetPeriod(ctx, domain.PeriodDaily, time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)

	tx, err = svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-c", 20_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.CardTxStatusCompleted, tx.Status)
}

func TestCardResetPeriodOncePerBoundary(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	card, secrets, _ := issueActiveCard(t, db, svc, 500_000_000)
	merchantID := seedMerchant(t, db, true)

	_, err := svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-reset", 30_000_000))
	require.NoError(t, err)

	// Make the card look like it was last reset yesterday, then sweep at
	// today's boundary the way the worker does.
	_, err = db.Exec(ctx, `UPDATE cards SET last_daily_reset = NOW() - INTERVAL '1 day' WHERE id = $1`, card.ID)
	require.NoError(t, err)
	boundary := time.Now().UTC()

	// Two sweeps racing on the same boundary zero the counter exactly once.
	results := make(chan int64, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			n, err := svc.ResetPeriod(ctx, domain.PeriodDaily, boundary)
			results <- n
			errs <- err
		}()
	}
	var total int64
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		total += <-results
	}
	assert.Equal(t, int64(1), total)

	got, err := svc.Get(ctx, card.ID, card.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.SpentDayMicros)

	// Spend after the reset survives a re-run of the same boundary.
	_, err = svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-post-reset", 10_000_000))
	require.NoError(t, err)

	n, err := svc.ResetPeriod(ctx, domain.PeriodDaily, boundary)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err = svc.Get(ctx, card.ID, card.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), got.SpentDayMicros)
}

func TestCardFreezeBlocksAuthorization(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	card, secrets, _ := issueActiveCard(t, db, svc, 100_000_000)
	merchantID := seedMerchant(t, db, true)

	_, err := svc.Freeze(ctx, card.ID, card.UserID)
	require.NoError(t, err)

	tx, err := svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-frozen", 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeclineCardNotActive), tx.DeclineCode)

	_, err = svc.Unfreeze(ctx, card.ID, card.UserID)
	require.NoError(t, err)

	tx, err = svc.Authorize(ctx, authorizeArgs(card, secrets, merchantID, "order-thawed", 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.CardTxStatusCompleted, tx.Status)

	// Blocked is terminal: unfreezing a blocked card fails.
	_, err = svc.Block(ctx, card.ID, card.UserID)
	require.NoError(t, err)
	_, err = svc.Unfreeze(ctx, card.ID, card.UserID)
	require.ErrorIs(t, err, models.ErrStateConflict)
}

func TestCardMerchantLists(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := newCardForTest(t, db)
	ctx := context.Background()
	userID := uuid.New()
	walletID := createWallet(t, db, userID, "USD", 100_000_000)

	allowed := seedMerchant(t, db, true)
	blocked := seedMerchant(t, db, true)

	card, secrets, err := svc.Request(ctx, RequestCardParams{
		UserID:           userID,
		WalletID:         walletID,
		OnlinePayments:   true,
		AllowedMerchants: []string{allowed.String()},
	})
	require.NoError(t, err)
	card, err = svc.Activate(ctx, card.ID, userID, secrets.ActivationCode)
	require.NoError(t, err)

	tx, err := svc.Authorize(ctx, authorizeArgs(card, secrets, blocked, "order-off-list", 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeclineMerchantBlocked), tx.DeclineCode)

	tx, err = svc.Authorize(ctx, authorizeArgs(card, secrets, allowed, "order-on-list", 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, domain.CardTxStatusCompleted, tx.Status)
}
