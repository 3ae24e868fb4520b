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

func newRefundForTest(t *testing.T, db *pgxpool.Pool, holdDelay time.Duration) (*RefundService, *repository.Store) {
	t.Helper()
	store := repository.NewStore(db)
	return NewRefundService(store, NewLedgerService(store), holdDelay), store
}

func TestRefundCreateHoldsFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newRefundForTest(t, db, 5*24*time.Hour)
	ctx := context.Background()

	buyer := uuid.New()
	merchant := uuid.New()
	merchantWallet := createWallet(t, db, merchant, "USD", 100_000_000)
	buyerWallet := createWallet(t, db, buyer, "USD", 0)

	refund, err := svc.Create(ctx, CreateRefundParams{
		ActorID:           merchant,
		SenderWalletID:    merchantWallet,
		RecipientWalletID: buyerWallet,
		AmountMicros:      40_000_000,
		Reason:            "damaged goods",
		Reference:         "refund-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusPending, refund.Status)

	// Sender is debited immediately; the recipient sees nothing yet.
	assert.Equal(t, int64(60_000_000), walletBalance(t, db, merchantWallet))
	assert.Equal(t, int64(0), walletBalance(t, db, buyerWallet))

	// The recipient leg is parked pending until the hold elapses.
	var status string
	require.NoError(t, db.QueryRow(ctx,
		`SELECT status FROM ledger_transactions WHERE id = $1`, refund.RecipientTxID).Scan(&status))
	assert.Equal(t, domain.TxStatusPending, status)
}

func TestRefundCreateReplay(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newRefundForTest(t, db, 5*24*time.Hour)
	ctx := context.Background()

	merchant := uuid.New()
	merchantWallet := createWallet(t, db, merchant, "USD", 100_000_000)
	buyerWallet := createWallet(t, db, uuid.New(), "USD", 0)

	arg := CreateRefundParams{
		ActorID:           merchant,
		SenderWalletID:    merchantWallet,
		RecipientWalletID: buyerWallet,
		AmountMicros:      40_000_000,
		Reference:         "refund-dup",
	}
	first, err := svc.Create(ctx, arg)
	require.NoError(t, err)

	second, err := svc.Create(ctx, arg)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(60_000_000), walletBalance(t, db, merchantWallet))
}

func TestRefundCancelBeforeRelease(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newRefundForTest(t, db, 5*24*time.Hour)
	ctx := context.Background()

	buyer := uuid.New()
	merchant := uuid.New()
	merchantWallet := createWallet(t, db, merchant, "USD", 100_000_000)
	buyerWallet := createWallet(t, db, buyer, "USD", 0)

	refund, err := svc.Create(ctx, CreateRefundParams{
		ActorID:           merchant,
		SenderWalletID:    merchantWallet,
		RecipientWalletID: buyerWallet,
		AmountMicros:      40_000_000,
		Reference:         "refund-cancel",
	})
	require.NoError(t, err)

	// The sender cannot cancel; only the recipient owner or an admin can.
	_, err = svc.Cancel(ctx, refund.ID, merchant, false, "changed my mind")
	require.ErrorIs(t, err, models.ErrNotPermitted)

	cancelled, err := svc.Cancel(ctx, refund.ID, buyer, false, "resolved with merchant")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCancelled, cancelled.Status)

	// Funds went back to the sender.
	assert.Equal(t, int64(100_000_000), walletBalance(t, db, merchantWallet))
	assert.Equal(t, int64(0), walletBalance(t, db, buyerWallet))

	// Sender leg reversed, recipient leg cancelled.
	var status string
	require.NoError(t, db.QueryRow(ctx,
		`SELECT status FROM ledger_transactions WHERE id = $1`, refund.SenderTxID).Scan(&status))
	assert.Equal(t, domain.TxStatusReversed, status)
	require.NoError(t, db.QueryRow(ctx,
		`SELECT status FROM ledger_transactions WHERE id = $1`, refund.RecipientTxID).Scan(&status))
	assert.Equal(t, domain.TxStatusCancelled, status)

	// A second cancel is a state conflict.
	_, err = svc.Cancel(ctx, refund.ID, buyer, false, "again")
	require.ErrorIs(t, err, models.ErrRefundNotPending)
}

func TestRefundCancelAfterReleaseWindow(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newRefundForTest(t, db, 5*24*time.Hour)
	ctx := context.Background()

	buyer := uuid.New()
	merchant := uuid.New()
	merchantWallet := createWallet(t, db, merchant, "USD", 100_000_000)
	buyerWallet := createWallet(t, db, buyer, "USD", 0)

	refund, err := svc.Create(ctx, CreateRefundParams{
		ActorID:           merchant,
		SenderWalletID:    merchantWallet,
		RecipientWalletID: buyerWallet,
		AmountMicros:      40_000_000,
		Reference:         "refund-late",
	})
	require.NoError(t, err)

	advanceRefundRelease(t, db, refund.ID, time.Hour)

	_, err = svc.Cancel(ctx, refund.ID, buyer, false, "too late")
	require.ErrorIs(t, err, models.ErrRefundNotReleased)
}

func TestRefundSweepCompletesDueEscrows(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newRefundForTest(t, db, 5*24*time.Hour)
	ctx := context.Background()

	buyer := uuid.New()
	merchant := uuid.New()
	merchantWallet := createWallet(t, db, merchant, "USD", 100_000_000)
	buyerWallet := createWallet(t, db, buyer, "USD", 0)

	refund, err := svc.Create(ctx, CreateRefundParams{
		ActorID:           merchant,
		SenderWalletID:    merchantWallet,
		RecipientWalletID: buyerWallet,
		AmountMicros:      40_000_000,
		Reference:         "refund-sweep",
	})
	require.NoError(t, err)

	// Nothing is due yet.
	n, err := svc.SweepDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	advanceRefundRelease(t, db, refund.ID, time.Hour)

	n, err = svc.SweepDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, int64(40_000_000), walletBalance(t, db, buyerWallet))

	got, err := svc.Get(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, got.Status)

	var status string
	require.NoError(t, db.QueryRow(ctx,
		`SELECT status FROM ledger_transactions WHERE id = $1`, refund.RecipientTxID).Scan(&status))
	assert.Equal(t, domain.TxStatusCompleted, status)

	// A second sweep finds nothing.
	n, err = svc.SweepDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRefundAdminCanCancel(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc, _ := newRefundForTest(t, db, 5*24*time.Hour)
	ctx := context.Background()

	merchant := uuid.New()
	merchantWallet := createWallet(t, db, merchant, "USD", 100_000_000)
	buyerWallet := createWallet(t, db, uuid.New(), "USD", 0)

	refund, err := svc.Create(ctx, CreateRefundParams{
		ActorID:           merchant,
		SenderWalletID:    merchantWallet,
		RecipientWalletID: buyerWallet,
		AmountMicros:      40_000_000,
		Reference:         "refund-admin",
	})
	require.NoError(t, err)

	admin := uuid.New()
	cancelled, err := svc.Cancel(ctx, refund.ID, admin, true, "fraud review")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, admin, *cancelled.CancelledBy)
}
