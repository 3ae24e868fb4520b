package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/models"
)

const intentColumns = `id, external_id, client_secret, amount_micros, currency, capture_method, confirmation_method,
	status, allowed_methods, qr_reference, expires_at, idempotency_key, transaction_id, cancel_reason, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (models.PaymentIntent, error) {
	var p models.PaymentIntent
	err := row.Scan(&p.ID, &p.ExternalID, &p.ClientSecret, &p.AmountMicros, &p.Currency, &p.CaptureMethod, &p.ConfirmationMethod,
		&p.Status, &p.AllowedMethods, &p.QRReference, &p.ExpiresAt, &p.IdempotencyKey, &p.TransactionID, &p.CancelReason, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// InsertPaymentIntent appends a new intent. The unique idempotency key means a
// retried create inserts nothing; the caller then replays the original row.
func (q *Queries) InsertPaymentIntent(ctx context.Context, p models.PaymentIntent) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO payment_intents (id, external_id, client_secret, amount_micros, currency, capture_method, confirmation_method,
			status, allowed_methods, qr_reference, expires_at, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`, p.ID, p.ExternalID, p.ClientSecret, p.AmountMicros, p.Currency, p.CaptureMethod, p.ConfirmationMethod,
		p.Status, p.AllowedMethods, p.QRReference, p.ExpiresAt, p.IdempotencyKey)
	if err != nil {
		return 0, fmt.Errorf("insert payment intent: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetIntentByIdempotencyKey(ctx context.Context, key string) (models.PaymentIntent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE idempotency_key = $1`, key)
	return scanIntent(row)
}

func (q *Queries) GetIntentByExternalID(ctx context.Context, externalID string) (models.PaymentIntent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE external_id = $1`, externalID)
	return scanIntent(row)
}

func (q *Queries) GetIntentByClientSecret(ctx context.Context, clientSecret string) (models.PaymentIntent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE client_secret = $1`, clientSecret)
	return scanIntent(row)
}

func (q *Queries) GetIntentByQRReference(ctx context.Context, qrRef string) (models.PaymentIntent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE qr_reference = $1`, qrRef)
	return scanIntent(row)
}

// GetIntentForUpdate locks the intent row for a state transition.
func (q *Queries) GetIntentForUpdate(ctx context.Context, externalID string) (models.PaymentIntent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE external_id = $1 FOR UPDATE`, externalID)
	return scanIntent(row)
}

// UpdateIntentStatusParams carries a single intent state transition.
type UpdateIntentStatusParams struct {
	ID            uuid.UUID
	Status        string
	CancelReason  string
	TransactionID *uuid.UUID
}

func (q *Queries) UpdateIntentStatus(ctx context.Context, arg UpdateIntentStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE payment_intents
		SET status = $2,
		    cancel_reason = CASE WHEN $3 = '' THEN cancel_reason ELSE $3 END,
		    transaction_id = COALESCE($4, transaction_id),
		    updated_at = NOW()
		WHERE id = $1
	`, arg.ID, arg.Status, arg.CancelReason, arg.TransactionID)
	if err != nil {
		return 0, fmt.Errorf("update intent status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertIntentEvent appends to the per-intent audit/webhook log.
func (q *Queries) InsertIntentEvent(ctx context.Context, intentID uuid.UUID, eventType string, payload []byte) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO payment_intent_events (intent_id, event_type, payload, delivered, attempts, last_error, created_at)
		VALUES ($1, $2, $3, FALSE, 0, '', NOW())
	`, intentID, eventType, payload)
	if err != nil {
		return fmt.Errorf("insert intent event: %w", err)
	}
	return nil
}

const intentEventColumns = `id, intent_id, event_type, payload, delivered, attempts, last_error, created_at`

func scanIntentEvent(row interface{ Scan(...any) error }) (models.PaymentIntentEvent, error) {
	var e models.PaymentIntentEvent
	err := row.Scan(&e.ID, &e.IntentID, &e.EventType, &e.Payload, &e.Delivered, &e.Attempts, &e.LastError, &e.CreatedAt)
	return e, err
}

// ClaimUndeliveredEvents locks a batch of undelivered events for the enclosing
// transaction; concurrent delivery workers skip each other's claims.
func (q *Queries) ClaimUndeliveredEvents(ctx context.Context, limit int32) ([]models.PaymentIntentEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+intentEventColumns+` FROM payment_intent_events
		WHERE delivered = FALSE
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim undelivered events: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentIntentEvent
	for rows.Next() {
		e, err := scanIntentEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) MarkEventDelivered(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE payment_intent_events
		SET delivered = TRUE, attempts = attempts + 1, last_error = ''
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event delivered: %w", err)
	}
	return nil
}

func (q *Queries) MarkEventFailed(ctx context.Context, id int64, deliveryErr string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE payment_intent_events
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`, id, deliveryErr)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

func (q *Queries) ListIntentEvents(ctx context.Context, intentID uuid.UUID) ([]models.PaymentIntentEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+intentEventColumns+` FROM payment_intent_events WHERE intent_id = $1 ORDER BY id
	`, intentID)
	if err != nil {
		return nil, fmt.Errorf("list intent events: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentIntentEvent
	for rows.Next() {
		e, err := scanIntentEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
