package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/models"
)

const refundColumns = `id, sender_wallet_id, recipient_wallet_id, amount_micros, currency, status, reason, release_at, sender_tx_id, recipient_tx_id, cancelled_by, cancel_reason, created_at, updated_at`

func scanRefund(row interface{ Scan(...any) error }) (models.RefundRequest, error) {
	var r models.RefundRequest
	err := row.Scan(&r.ID, &r.SenderWalletID, &r.RecipientWalletID, &r.AmountMicros, &r.Currency, &r.Status, &r.Reason, &r.ReleaseAt, &r.SenderTxID, &r.RecipientTxID, &r.CancelledBy, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (q *Queries) InsertRefundRequest(ctx context.Context, r models.RefundRequest) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO refund_requests (id, sender_wallet_id, recipient_wallet_id, amount_micros, currency, status, reason, release_at, sender_tx_id, recipient_tx_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, r.ID, r.SenderWalletID, r.RecipientWalletID, r.AmountMicros, r.Currency, r.Status, r.Reason, r.ReleaseAt, r.SenderTxID, r.RecipientTxID)
	if err != nil {
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

func (q *Queries) GetRefundRequest(ctx context.Context, id uuid.UUID) (models.RefundRequest, error) {
	row := q.db.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id)
	return scanRefund(row)
}

// GetRefundForUpdate locks the request row for a status change.
func (q *Queries) GetRefundForUpdate(ctx context.Context, id uuid.UUID) (models.RefundRequest, error) {
	row := q.db.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id = $1 FOR UPDATE`, id)
	return scanRefund(row)
}

// CompleteRefundRequest marks a pending request settled. The status predicate
// keeps a concurrent sweeper or cancellation from settling twice.
func (q *Queries) CompleteRefundRequest(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE refund_requests SET status = 'COMPLETED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, id)
	if err != nil {
		return 0, fmt.Errorf("complete refund request: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelRefundRequest marks a pending request cancelled and records the actor.
func (q *Queries) CancelRefundRequest(ctx context.Context, id, actorID uuid.UUID, reason string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE refund_requests
		SET status = 'CANCELLED', cancelled_by = $2, cancel_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, id, actorID, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel refund request: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimDueRefunds selects pending requests past their release instant, locking
// them for the enclosing transaction. SKIP LOCKED keeps rows claimed by one
// sweeper invisible to concurrent sweepers.
func (q *Queries) ClaimDueRefunds(ctx context.Context, limit int32) ([]models.RefundRequest, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+refundColumns+` FROM refund_requests
		WHERE status = 'PENDING' AND release_at <= NOW()
		ORDER BY release_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due refunds: %w", err)
	}
	defer rows.Close()

	var out []models.RefundRequest
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SumPendingRefunds returns the per-currency total currently held in escrow.
func (q *Queries) SumPendingRefunds(ctx context.Context) ([]CurrencyAmount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT currency, COALESCE(SUM(amount_micros), 0)
		FROM refund_requests
		WHERE status = 'PENDING'
		GROUP BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("sum pending refunds: %w", err)
	}
	defer rows.Close()

	var out []CurrencyAmount
	for rows.Next() {
		var c CurrencyAmount
		if err := rows.Scan(&c.Currency, &c.AmountMicros); err != nil {
			return nil, fmt.Errorf("scan escrow sum: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
