package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/repository"
)

// WalletService is the exclusive owner of balance mutation primitives. Every
// mutation locks the target wallet row for the duration of the operation;
// reads outside a mutation are unlocked snapshot reads.
type WalletService struct {
	store  QueryStore
	ledger *LedgerService
}

func NewWalletService(store QueryStore, ledger *LedgerService) *WalletService {
	return &WalletService{store: store, ledger: ledger}
}

// EnsureWallet lazily creates the (user, currency, type) wallet and returns
// it. Safe to call repeatedly and concurrently.
func (s *WalletService) EnsureWallet(ctx context.Context, userID uuid.UUID, currency, walletType string) (models.Wallet, error) {
	if currency == "" {
		return models.Wallet{}, errors.New("currency is required")
	}
	if walletType == "" {
		walletType = domain.WalletTypePrimary
	}

	queries := s.store.Queries()
	if err := queries.CreateWalletIfAbsent(ctx, uuid.New(), userID, currency, walletType); err != nil {
		return models.Wallet{}, err
	}
	wallet, err := queries.GetWalletByOwner(ctx, userID, currency, walletType)
	if err != nil {
		return models.Wallet{}, fmt.Errorf("fetch ensured wallet: %w", err)
	}
	return wallet, nil
}

// GetBalance is an unlocked snapshot read of a wallet.
func (s *WalletService) GetBalance(ctx context.Context, walletID uuid.UUID) (models.Wallet, error) {
	wallet, err := s.store.Queries().GetWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Wallet{}, models.ErrWalletNotFound
		}
		return models.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return wallet, nil
}

// GetBalanceByOwner resolves the wallet by (user, currency, type).
func (s *WalletService) GetBalanceByOwner(ctx context.Context, userID uuid.UUID, currency, walletType string) (models.Wallet, error) {
	if walletType == "" {
		walletType = domain.WalletTypePrimary
	}
	wallet, err := s.store.Queries().GetWalletByOwner(ctx, userID, currency, walletType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Wallet{}, models.ErrWalletNotFound
		}
		return models.Wallet{}, fmt.Errorf("get wallet by owner: %w", err)
	}
	return wallet, nil
}

// ListByUser returns every wallet a user owns.
func (s *WalletService) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	return s.store.Queries().ListWalletsByUser(ctx, userID)
}

// Statement lists a wallet's ledger history, newest first.
func (s *WalletService) Statement(ctx context.Context, walletID uuid.UUID, page, pageSize int32) ([]models.LedgerTransaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return s.store.Queries().ListWalletTransactions(ctx, walletID, pageSize, (page-1)*pageSize)
}

// debitLocked validates and debits an already-locked wallet row inside qtx.
// The caller must hold the row lock via GetWalletForUpdate.
func debitLocked(ctx context.Context, qtx *repository.Queries, wallet models.Wallet, amountMicros int64) error {
	if amountMicros <= 0 {
		return fmt.Errorf("invalid debit amount: %d", amountMicros)
	}
	if wallet.Status != domain.WalletStatusActive {
		return models.ErrWalletInactive
	}
	if wallet.AvailableMicros < amountMicros {
		return models.ErrInsufficientFunds
	}
	rows, err := qtx.DebitWallet(ctx, wallet.ID, amountMicros)
	if err != nil {
		return err
	}
	if rows == 0 {
		// Lost a race despite the row lock; treat as insufficient funds.
		return models.ErrInsufficientFunds
	}
	return requireExactlyOne(rows, "debit wallet")
}

// creditLocked credits an already-locked wallet row inside qtx.
func creditLocked(ctx context.Context, qtx *repository.Queries, wallet models.Wallet, amountMicros int64) error {
	if amountMicros <= 0 {
		return fmt.Errorf("invalid credit amount: %d", amountMicros)
	}
	if wallet.Status != domain.WalletStatusActive {
		return models.ErrWalletInactive
	}
	rows, err := qtx.CreditWallet(ctx, wallet.ID, amountMicros)
	if err != nil {
		return err
	}
	return requireExactlyOne(rows, "credit wallet")
}

// MutationParams describes a standalone debit or credit with its ledger row.
type MutationParams struct {
	WalletID     uuid.UUID
	AmountMicros int64
	Kind         string
	Reference    string
	Metadata     []byte
}

// Debit removes funds from a wallet and records one completed ledger
// transaction, as a single all-or-nothing unit. A replayed reference returns
// the prior ledger row and leaves the balance untouched.
func (s *WalletService) Debit(ctx context.Context, arg MutationParams) (models.LedgerTransaction, error) {
	return s.mutate(ctx, arg, -1)
}

// Credit adds funds to a wallet and records one completed ledger transaction.
func (s *WalletService) Credit(ctx context.Context, arg MutationParams) (models.LedgerTransaction, error) {
	return s.mutate(ctx, arg, +1)
}

func (s *WalletService) mutate(ctx context.Context, arg MutationParams, sign int64) (models.LedgerTransaction, error) {
	if arg.AmountMicros <= 0 {
		return models.LedgerTransaction{}, fmt.Errorf("invalid amount: %d", arg.AmountMicros)
	}
	if arg.Kind == "" {
		return models.LedgerTransaction{}, errors.New("transaction kind is required")
	}

	var (
		ledgerTx models.LedgerTransaction
		replayed bool
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		wallet, err := qtx.GetWalletForUpdate(ctx, arg.WalletID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet: %w", err)
		}

		ledgerTx, replayed, err = s.ledger.Record(ctx, qtx, RecordParams{
			WalletID:     wallet.ID,
			AmountMicros: sign * arg.AmountMicros,
			Currency:     wallet.Currency,
			Kind:         arg.Kind,
			Status:       domain.TxStatusCompleted,
			Reference:    arg.Reference,
			Metadata:     arg.Metadata,
		})
		if err != nil {
			return err
		}
		if replayed {
			return nil
		}

		if sign < 0 {
			return debitLocked(ctx, qtx, wallet, arg.AmountMicros)
		}
		return creditLocked(ctx, qtx, wallet, arg.AmountMicros)
	})
	if err != nil {
		return models.LedgerTransaction{}, err
	}
	if !replayed {
		s.ledger.NotifyCommitted(ledgerTx)
	}
	return ledgerTx, nil
}
