package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/repository"
	"go.uber.org/zap"
)

// RefundService holds refunded funds in escrow. Funds leave the sender wallet
// the moment the refund is created and reach the recipient only after the hold
// window elapses, unless the recipient or an admin cancels first.
type RefundService struct {
	store  QueryStore
	ledger *LedgerService

	holdDelay time.Duration
}

func NewRefundService(store QueryStore, ledger *LedgerService, holdDelay time.Duration) *RefundService {
	if holdDelay <= 0 {
		holdDelay = 5 * 24 * time.Hour
	}
	return &RefundService{store: store, ledger: ledger, holdDelay: holdDelay}
}

// CreateParams describes a refund of funds from a sender wallet to a
// recipient wallet of the same currency.
type CreateRefundParams struct {
	ActorID           uuid.UUID
	SenderWalletID    uuid.UUID
	RecipientWalletID uuid.UUID
	AmountMicros      int64
	Reason            string
	Reference         string
}

// Create debits the sender and parks the amount in escrow. The sender leg is
// recorded completed right away; the recipient leg stays pending until the
// hold elapses. Re-submitting the same reference replays the prior request.
func (s *RefundService) Create(ctx context.Context, arg CreateRefundParams) (models.RefundRequest, error) {
	if arg.AmountMicros <= 0 {
		return models.RefundRequest{}, fmt.Errorf("invalid refund amount: %d", arg.AmountMicros)
	}
	if arg.Reference == "" {
		return models.RefundRequest{}, errors.New("refund reference is required")
	}
	if arg.SenderWalletID == arg.RecipientWalletID {
		return models.RefundRequest{}, errors.New("sender and recipient wallet are identical")
	}

	var (
		request  models.RefundRequest
		senderTx models.LedgerTransaction
		replayed bool
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		sender, err := qtx.GetWalletForUpdate(ctx, arg.SenderWalletID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrSourceNotFound
			}
			return fmt.Errorf("lock sender wallet: %w", err)
		}
		if sender.UserID != arg.ActorID {
			return models.ErrNotPermitted
		}
		recipient, err := qtx.GetWallet(ctx, arg.RecipientWalletID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrDestNotFound
			}
			return fmt.Errorf("get recipient wallet: %w", err)
		}
		if sender.Currency != recipient.Currency {
			return fmt.Errorf("refund currency mismatch: %s vs %s", sender.Currency, recipient.Currency)
		}

		refundID := uuid.New()
		releaseAt := time.Now().UTC().Add(s.holdDelay)
		meta, err := domain.EncodeMeta(domain.RefundMeta{
			RefundID:  refundID.String(),
			Reason:    arg.Reason,
			ReleaseAt: releaseAt,
		})
		if err != nil {
			return fmt.Errorf("encode refund metadata: %w", err)
		}

		senderTx, replayed, err = s.ledger.Record(ctx, qtx, RecordParams{
			WalletID:     sender.ID,
			AmountMicros: -arg.AmountMicros,
			Currency:     sender.Currency,
			Kind:         domain.TxKindRefund,
			Status:       domain.TxStatusCompleted,
			Reference:    arg.Reference,
			Metadata:     meta,
		})
		if err != nil {
			return err
		}
		if replayed {
			var prior domain.RefundMeta
			if err := decodeRefundMeta(senderTx.Metadata, &prior); err != nil {
				return err
			}
			priorID, err := uuid.Parse(prior.RefundID)
			if err != nil {
				return fmt.Errorf("parse replayed refund id: %w", err)
			}
			request, err = qtx.GetRefundRequest(ctx, priorID)
			if err != nil {
				return fmt.Errorf("read back replayed refund: %w", err)
			}
			return nil
		}

		if err := debitLocked(ctx, qtx, sender, arg.AmountMicros); err != nil {
			return err
		}
		recipientTx, _, err := s.ledger.Record(ctx, qtx, RecordParams{
			WalletID:     recipient.ID,
			AmountMicros: arg.AmountMicros,
			Currency:     recipient.Currency,
			Kind:         domain.TxKindRefund,
			Status:       domain.TxStatusPending,
			Reference:    arg.Reference + "-credit",
			RelatedTxID:  &senderTx.ID,
			Metadata:     meta,
		})
		if err != nil {
			return err
		}

		request = models.RefundRequest{
			ID:                refundID,
			SenderWalletID:    sender.ID,
			RecipientWalletID: recipient.ID,
			AmountMicros:      arg.AmountMicros,
			Currency:          sender.Currency,
			Status:            domain.RefundStatusPending,
			Reason:            arg.Reason,
			ReleaseAt:         releaseAt,
			SenderTxID:        senderTx.ID,
			RecipientTxID:     recipientTx.ID,
		}
		return qtx.InsertRefundRequest(ctx, request)
	})
	if err != nil {
		return models.RefundRequest{}, err
	}
	if !replayed {
		s.ledger.NotifyCommitted(senderTx)
		zap.L().Info("refund escrowed",
			zap.String("refund_id", request.ID.String()),
			zap.Int64("amount_micros", request.AmountMicros),
			zap.Time("release_at", request.ReleaseAt),
		)
	}
	return request, nil
}

// Get returns one refund request.
func (s *RefundService) Get(ctx context.Context, id uuid.UUID) (models.RefundRequest, error) {
	request, err := s.store.Queries().GetRefundRequest(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefundRequest{}, models.ErrRefundNotFound
		}
		return models.RefundRequest{}, fmt.Errorf("get refund: %w", err)
	}
	return request, nil
}

// Cancel aborts a pending refund before its hold elapses and returns the
// escrowed funds to the sender. Only the recipient or an admin may cancel.
func (s *RefundService) Cancel(ctx context.Context, refundID, actorID uuid.UUID, isAdmin bool, reason string) (models.RefundRequest, error) {
	var request models.RefundRequest
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		request, err = qtx.GetRefundForUpdate(ctx, refundID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrRefundNotFound
			}
			return fmt.Errorf("lock refund: %w", err)
		}
		if request.Status != domain.RefundStatusPending {
			return models.ErrRefundNotPending
		}
		if !time.Now().UTC().Before(request.ReleaseAt) {
			return models.ErrRefundNotReleased
		}

		if !isAdmin {
			recipient, err := qtx.GetWallet(ctx, request.RecipientWalletID)
			if err != nil {
				return fmt.Errorf("get recipient wallet: %w", err)
			}
			if recipient.UserID != actorID {
				return models.ErrNotPermitted
			}
		}

		rows, err := qtx.CancelRefundRequest(ctx, refundID, actorID, reason)
		if err != nil {
			return fmt.Errorf("cancel refund: %w", err)
		}
		if err := requireExactlyOne(rows, "cancel refund"); err != nil {
			return err
		}

		sender, err := qtx.GetWalletForUpdate(ctx, request.SenderWalletID)
		if err != nil {
			return fmt.Errorf("lock sender wallet: %w", err)
		}
		if err := creditLocked(ctx, qtx, sender, request.AmountMicros); err != nil {
			return err
		}
		if err := s.ledger.Transition(ctx, qtx, request.SenderTxID, domain.TxStatusReversed); err != nil {
			return err
		}
		if err := s.ledger.Transition(ctx, qtx, request.RecipientTxID, domain.TxStatusCancelled); err != nil {
			return err
		}

		request.Status = domain.RefundStatusCancelled
		request.CancelledBy = &actorID
		request.CancelReason = reason
		return nil
	})
	if err != nil {
		return models.RefundRequest{}, err
	}
	zap.L().Info("refund cancelled",
		zap.String("refund_id", refundID.String()),
		zap.String("cancelled_by", actorID.String()),
	)
	return request, nil
}

// SweepDue releases refunds whose hold has elapsed: credits each recipient and
// completes the pending recipient leg. A recipient whose wallet cannot accept
// the credit is logged and left pending for the next sweep. Returns how many
// refunds were released.
func (s *RefundService) SweepDue(ctx context.Context, batchSize int32) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	var (
		released int
		credits  []models.LedgerTransaction
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		due, err := qtx.ClaimDueRefunds(ctx, batchSize)
		if err != nil {
			return fmt.Errorf("claim due refunds: %w", err)
		}
		for _, request := range due {
			recipient, err := qtx.GetWalletForUpdate(ctx, request.RecipientWalletID)
			if err != nil {
				return fmt.Errorf("lock recipient wallet: %w", err)
			}
			if err := creditLocked(ctx, qtx, recipient, request.AmountMicros); err != nil {
				if errors.Is(err, models.ErrWalletInactive) {
					zap.L().Warn("refund release deferred, recipient wallet inactive",
						zap.String("refund_id", request.ID.String()),
						zap.String("wallet_id", recipient.ID.String()),
					)
					continue
				}
				return err
			}
			rows, err := qtx.CompleteRefundRequest(ctx, request.ID)
			if err != nil {
				return fmt.Errorf("complete refund: %w", err)
			}
			if err := requireExactlyOne(rows, "complete refund"); err != nil {
				return err
			}
			if err := s.ledger.Transition(ctx, qtx, request.RecipientTxID, domain.TxStatusCompleted); err != nil {
				return err
			}
			creditTx, err := qtx.GetLedgerTransaction(ctx, request.RecipientTxID)
			if err != nil {
				return fmt.Errorf("read back released credit leg: %w", err)
			}
			credits = append(credits, creditTx)
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.ledger.NotifyCommitted(credits...)
		zap.L().Info("refund escrow sweep released funds", zap.Int("released", released))
	}
	return released, nil
}

func decodeRefundMeta(raw []byte, out *domain.RefundMeta) error {
	if len(raw) == 0 {
		return errors.New("refund ledger row has no metadata")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode refund metadata: %w", err)
	}
	return nil
}
