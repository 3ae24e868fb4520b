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

func newIntentForTest(t *testing.T, db *pgxpool.Pool) (*IntentService, *CardService) {
	t.Helper()
	store := repository.NewStore(db)
	ledger := NewLedgerService(store)
	wallets := NewWalletService(store, ledger)
	cards := NewCardService(store, ledger)
	return NewIntentService(store, ledger, wallets, cards, 24*time.Hour), cards
}

func TestIntentCreateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	arg := CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-1",
	}
	first, err := svc.Create(ctx, arg)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusRequiresPaymentMethod, first.Status)
	assert.NotEmpty(t, first.ExternalID)
	assert.NotEmpty(t, first.ClientSecret)
	assert.NotEmpty(t, first.QRReference)
	assert.Equal(t, domain.CaptureAutomatic, first.CaptureMethod)
	assert.ElementsMatch(t, []string{domain.MethodWallet, domain.MethodCard, domain.MethodQR, domain.MethodTap}, first.AllowedMethods)

	second, err := svc.Create(ctx, arg)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ExternalID, second.ExternalID)

	var count int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM payment_intents`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIntentConfirmWallet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	payer := uuid.New()
	payerWallet := createWallet(t, db, payer, "USD", 100_000_000)

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-wallet",
	})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   payer,
		PayerWalletID: payerWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusSucceeded, confirmed.Status)
	require.NotNil(t, confirmed.TransactionID)
	assert.Equal(t, int64(50_000_000), walletBalance(t, db, payerWallet))

	// The full lifecycle is on the event log.
	events, err := svc.Events(ctx, intent.ExternalID)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, "payment_intent.created")
	assert.Contains(t, types, "payment_intent.processing")
	assert.Contains(t, types, "payment_intent.succeeded")

	// A succeeded intent cannot be confirmed again.
	_, err = svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   payer,
		PayerWalletID: payerWallet,
	})
	require.ErrorIs(t, err, models.ErrStateConflict)
}

func TestIntentConfirmInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	payer := uuid.New()
	payerWallet := createWallet(t, db, payer, "USD", 10_000_000)

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-broke",
	})
	require.NoError(t, err)

	failed, err := svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   payer,
		PayerWalletID: payerWallet,
	})
	require.Error(t, err)
	assert.Equal(t, domain.IntentStatusFailed, failed.Status)
	assert.Equal(t, int64(10_000_000), walletBalance(t, db, payerWallet))
}

func TestIntentMethodNotAllowed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		AllowedMethods: []string{domain.MethodCard},
		IdempotencyKey: "idem-card-only",
	})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   uuid.New(),
		PayerWalletID: uuid.New(),
	})
	require.ErrorIs(t, err, models.ErrMethodNotAllowed)
}

func TestIntentManualCapture(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	payer := uuid.New()
	payerWallet := createWallet(t, db, payer, "USD", 100_000_000)

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		CaptureMethod:  domain.CaptureManual,
		IdempotencyKey: "idem-manual",
	})
	require.NoError(t, err)

	held, err := svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   payer,
		PayerWalletID: payerWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusRequiresCapture, held.Status)
	assert.Equal(t, int64(50_000_000), walletBalance(t, db, payerWallet))

	captured, err := svc.Capture(ctx, intent.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusSucceeded, captured.Status)

	// Capturing twice is a state conflict.
	_, err = svc.Capture(ctx, intent.ExternalID)
	require.ErrorIs(t, err, models.ErrStateConflict)
}

func TestIntentCancelAfterHoldRefundsPayer(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	payer := uuid.New()
	payerWallet := createWallet(t, db, payer, "USD", 100_000_000)

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		CaptureMethod:  domain.CaptureManual,
		IdempotencyKey: "idem-cancel-hold",
	})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   payer,
		PayerWalletID: payerWallet,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, intent.ExternalID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCanceled, cancelled.Status)
	assert.Equal(t, domain.CancelReasonRequested, cancelled.CancelReason)

	// The held funds went back to the payer.
	assert.Equal(t, int64(100_000_000), walletBalance(t, db, payerWallet))
}

func TestIntentTerminalImmutable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-terminal",
	})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, intent.ExternalID, "no longer needed")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, intent.ExternalID, "again")
	require.ErrorIs(t, err, models.ErrStateConflict)
	_, err = svc.Capture(ctx, intent.ExternalID)
	require.ErrorIs(t, err, models.ErrStateConflict)
}

func TestIntentExpiresLazily(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-expired",
	})
	require.NoError(t, err)

	_, err = db.Exec(ctx, `UPDATE payment_intents SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, intent.ID)
	require.NoError(t, err)

	got, err := svc.Get(ctx, intent.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCanceled, got.Status)
	assert.Equal(t, domain.CancelReasonAbandoned, got.CancelReason)

	// Confirming an expired intent fails the same way.
	_, err = svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   uuid.New(),
		PayerWalletID: uuid.New(),
	})
	require.ErrorIs(t, err, models.ErrStateConflict)
}

func TestIntentConfirmAfterExpiryCancels(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   50_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-expired-confirm",
	})
	require.NoError(t, err)

	_, err = db.Exec(ctx, `UPDATE payment_intents SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, intent.ID)
	require.NoError(t, err)

	// Confirm is the first touch after the deadline. It must report the
	// expiry and still leave the intent canceled on record.
	_, err = svc.Confirm(ctx, ConfirmParams{
		ClientSecret:  intent.ClientSecret,
		Method:        domain.MethodWallet,
		PayerUserID:   uuid.New(),
		PayerWalletID: uuid.New(),
	})
	require.ErrorIs(t, err, models.ErrIntentExpired)

	got, err := svc.Get(ctx, intent.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCanceled, got.Status)
	assert.Equal(t, domain.CancelReasonAbandoned, got.CancelReason)

	events, err := svc.Events(ctx, intent.ExternalID)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, "payment_intent.canceled")
}

func TestIntentConfirmByCard(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, cards := newIntentForTest(t, db)
	ctx := context.Background()

	card, secrets, payerWallet := issueActiveCard(t, db, cards, 100_000_000)
	merchantID := seedMerchant(t, db, true)

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   30_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-card",
	})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, ConfirmParams{
		ClientSecret: intent.ClientSecret,
		Method:       domain.MethodCard,
		CardNumber:   secrets.Number,
		CVV:          secrets.CVV,
		ExpiryMonth:  card.ExpiryMonth,
		ExpiryYear:   card.ExpiryYear,
		MerchantID:   merchantID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusSucceeded, confirmed.Status)
	assert.Equal(t, int64(70_000_000), walletBalance(t, db, payerWallet))

	// The card transaction is keyed to the intent's external id.
	history, err := cards.Transactions(ctx, card.ID, card.UserID, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, intent.ExternalID, history[0].MerchantRef)
	assert.Equal(t, domain.CardTxStatusCompleted, history[0].Status)
}

func TestIntentQRLookup(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newIntentForTest(t, db)
	ctx := context.Background()

	intent, err := svc.Create(ctx, CreateIntentParams{
		AmountMicros:   20_000_000,
		Currency:       "USD",
		IdempotencyKey: "idem-qr",
	})
	require.NoError(t, err)

	got, err := svc.GetByQRReference(ctx, intent.QRReference)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)

	_, err = svc.GetByQRReference(ctx, "qr_nope")
	require.ErrorIs(t, err, models.ErrIntentNotFound)
}
