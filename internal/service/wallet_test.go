package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureWalletIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewWalletService(store, NewLedgerService(store))
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.EnsureWallet(ctx, userID, "USD", "")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletTypePrimary, first.Type)
	assert.Equal(t, domain.WalletStatusActive, first.Status)
	assert.Equal(t, int64(0), first.BalanceMicros)

	second, err := svc.EnsureWallet(ctx, userID, "USD", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A different type is a distinct wallet for the same currency.
	secondary, err := svc.EnsureWallet(ctx, userID, "USD", domain.WalletTypeSecondary)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, secondary.ID)
}

func TestDebitAndCredit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewWalletService(store, NewLedgerService(store))
	ctx := context.Background()
	walletID := createWallet(t, db, uuid.New(), "USD", 100_000_000)

	tx, err := svc.Debit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 30_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "debit-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-30_000_000), tx.AmountMicros)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, int64(70_000_000), walletBalance(t, db, walletID))

	_, err = svc.Credit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 10_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "credit-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(80_000_000), walletBalance(t, db, walletID))
}

func TestDebitInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewWalletService(store, NewLedgerService(store))
	ctx := context.Background()
	walletID := createWallet(t, db, uuid.New(), "USD", 50_000_000)

	_, err := svc.Debit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 60_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "too-big",
	})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	// Nothing moved and nothing was recorded.
	assert.Equal(t, int64(50_000_000), walletBalance(t, db, walletID))
	var count int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestDebitReplaySameReference(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewWalletService(store, NewLedgerService(store))
	ctx := context.Background()
	walletID := createWallet(t, db, uuid.New(), "USD", 100_000_000)

	first, err := svc.Debit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 25_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "dup-ref",
	})
	require.NoError(t, err)

	second, err := svc.Debit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 25_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "dup-ref",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The balance moved exactly once.
	assert.Equal(t, int64(75_000_000), walletBalance(t, db, walletID))
}

func TestDebitInactiveWallet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewWalletService(store, NewLedgerService(store))
	ctx := context.Background()
	walletID := createWallet(t, db, uuid.New(), "USD", 100_000_000)
	setWalletStatus(t, db, walletID, domain.WalletStatusSuspended)

	_, err := svc.Debit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 10_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "suspended",
	})
	require.ErrorIs(t, err, models.ErrWalletInactive)
}

// Two overdrawing debits race for the same balance; the row lock serializes
// them so exactly one wins.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewWalletService(store, NewLedgerService(store))
	ctx := context.Background()
	walletID := createWallet(t, db, uuid.New(), "USD", 100_000_000)

	amounts := []int64{80_000_000, 90_000_000}
	errs := make(chan error, len(amounts))
	for i, amount := range amounts {
		go func(i int, amount int64) {
			_, err := svc.Debit(ctx, MutationParams{
				WalletID:     walletID,
				AmountMicros: amount,
				Kind:         domain.TxKindTransfer,
				Reference:    uuid.New().String(),
			})
			errs <- err
		}(i, amount)
	}

	var failures int
	for range amounts {
		if err := <-errs; err != nil {
			require.True(t, errors.Is(err, models.ErrInsufficientFunds), "unexpected error: %v", err)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	balance := walletBalance(t, db, walletID)
	assert.True(t, balance == 20_000_000 || balance == 10_000_000, "balance %d", balance)
	assert.GreaterOrEqual(t, balance, int64(0))
}

func TestStatementPagination(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewWalletService(store, NewLedgerService(store))
	ctx := context.Background()
	walletID := createWallet(t, db, uuid.New(), "USD", 0)

	for i := 0; i < 5; i++ {
		_, err := svc.Credit(ctx, MutationParams{
			WalletID:     walletID,
			AmountMicros: 1_000_000,
			Kind:         domain.TxKindTransfer,
			Reference:    uuid.New().String(),
		})
		require.NoError(t, err)
	}

	page1, err := svc.Statement(ctx, walletID, 1, 3)
	require.NoError(t, err)
	assert.Len(t, page1, 3)

	page2, err := svc.Statement(ctx, walletID, 2, 3)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
}

func TestCommitHookFiresAfterCommit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	ledger := NewLedgerService(store)
	svc := NewWalletService(store, ledger)
	ctx := context.Background()
	walletID := createWallet(t, db, uuid.New(), "USD", 100_000_000)

	var seen []string
	ledger.OnCommit(func(tx models.LedgerTransaction) {
		seen = append(seen, tx.Reference)
	})

	_, err := svc.Debit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 60_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "hooked",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hooked"}, seen)

	// A rejected debit commits nothing and notifies nothing.
	_, err = svc.Debit(ctx, MutationParams{
		WalletID:     walletID,
		AmountMicros: 900_000_000,
		Kind:         domain.TxKindTransfer,
		Reference:    "rejected",
	})
	require.Error(t, err)
	assert.Equal(t, []string{"hooked"}, seen)
}
