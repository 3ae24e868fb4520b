package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/repository"
	"go.uber.org/zap"
)

// Legal ledger status transitions. Completed rows are immutable except for an
// explicit compensating reversal.
var ledgerTransitions = map[string]map[string]struct{}{
	"PENDING": {
		"COMPLETED": {},
		"FAILED":    {},
		"CANCELLED": {},
	},
	"COMPLETED": {
		"REVERSED": {},
	},
	"FAILED": {
		"CANCELLED": {},
	},
	"REVERSED":  {},
	"CANCELLED": {},
}

var ErrInvalidTransition = errors.New("invalid ledger state transition")

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransitionLedger(current, next string) bool {
	nextStates, ok := ledgerTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// CommitHook observes ledger rows after their enclosing transaction commits.
// Hooks run synchronously on the mutating goroutine; side effects stay visible
// and testable instead of hiding in database triggers.
type CommitHook func(tx models.LedgerTransaction)

// LedgerService owns the append-mostly transaction log and its status machine.
type LedgerService struct {
	store QueryStore

	mu    sync.RWMutex
	hooks []CommitHook
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{store: store}
}

// OnCommit registers a post-commit hook.
func (s *LedgerService) OnCommit(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// NotifyCommitted fires registered hooks for rows whose transaction committed.
// Callers invoke it after RunInTx returns nil, never inside the transaction.
func (s *LedgerService) NotifyCommitted(txs ...models.LedgerTransaction) {
	s.mu.RLock()
	hooks := s.hooks
	s.mu.RUnlock()
	for _, hook := range hooks {
		for _, tx := range txs {
			hook(tx)
		}
	}
}

// RecordParams describes one ledger row to append.
type RecordParams struct {
	WalletID     uuid.UUID
	AmountMicros int64 // signed: negative debit, positive credit
	Currency     string
	Kind         string
	Status       string
	Reference    string
	RelatedTxID  *uuid.UUID
	Metadata     []byte
}

// Record appends a ledger row inside the caller's transaction. Re-submitting
// an already-recorded reference returns the prior row with replayed=true
// instead of double-recording.
func (s *LedgerService) Record(ctx context.Context, qtx *repository.Queries, arg RecordParams) (models.LedgerTransaction, bool, error) {
	if arg.Reference == "" {
		return models.LedgerTransaction{}, false, errors.New("ledger reference is required")
	}
	if arg.AmountMicros == 0 {
		return models.LedgerTransaction{}, false, errors.New("ledger amount must be non-zero")
	}

	id := uuid.New()
	rows, err := qtx.InsertLedgerTransaction(ctx, repository.InsertLedgerTransactionParams{
		ID:           id,
		WalletID:     arg.WalletID,
		AmountMicros: arg.AmountMicros,
		Currency:     arg.Currency,
		Kind:         arg.Kind,
		Status:       arg.Status,
		Reference:    arg.Reference,
		RelatedTxID:  arg.RelatedTxID,
		Metadata:     arg.Metadata,
	})
	if err != nil {
		return models.LedgerTransaction{}, false, err
	}

	existing, err := qtx.GetLedgerTransactionByReference(ctx, arg.Reference)
	if err != nil {
		return models.LedgerTransaction{}, false, fmt.Errorf("read back ledger transaction: %w", err)
	}
	if rows == 0 {
		zap.L().Info("ledger record replayed",
			zap.String("reference", arg.Reference),
			zap.String("transaction_id", existing.ID.String()),
		)
		return existing, true, nil
	}
	return existing, false, nil
}

// Transition moves a ledger row to the next status inside the caller's
// transaction, locking the row first. Repeating the current status is a no-op;
// anything outside the transition map fails.
func (s *LedgerService) Transition(ctx context.Context, qtx *repository.Queries, txID uuid.UUID, nextState string) error {
	current, err := qtx.GetLedgerStatusForUpdate(ctx, txID)
	if err != nil {
		return fmt.Errorf("get current ledger state: %w", err)
	}

	if normalizeState(current) == normalizeState(nextState) {
		return nil
	}
	if !canTransitionLedger(current, nextState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, nextState)
	}

	rows, err := qtx.UpdateLedgerStatus(ctx, txID, normalizeState(nextState))
	if err != nil {
		return fmt.Errorf("update ledger state: %w", err)
	}
	return requireExactlyOne(rows, "update ledger state")
}

// Lookup returns a ledger transaction by its unique reference.
func (s *LedgerService) Lookup(ctx context.Context, reference string) (models.LedgerTransaction, error) {
	tx, err := s.store.Queries().GetLedgerTransactionByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LedgerTransaction{}, err
		}
		return models.LedgerTransaction{}, fmt.Errorf("lookup ledger transaction: %w", err)
	}
	return tx, nil
}
