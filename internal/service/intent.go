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
	"github.com/sewapay/paycore/internal/observability"
	"github.com/sewapay/paycore/internal/repository"
	"go.uber.org/zap"
)

// IntentService orchestrates channel-agnostic payment collection. An intent
// moves forward through its lifecycle only; settlement happens through the
// wallet or card services so every balance rule applies unchanged.
type IntentService struct {
	store   QueryStore
	ledger  *LedgerService
	wallets *WalletService
	cards   *CardService

	expiry time.Duration
}

func NewIntentService(store QueryStore, ledger *LedgerService, wallets *WalletService, cards *CardService, expiry time.Duration) *IntentService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &IntentService{store: store, ledger: ledger, wallets: wallets, cards: cards, expiry: expiry}
}

// CreateIntentParams describes a new payment collection attempt.
type CreateIntentParams struct {
	AmountMicros       int64
	Currency           string
	CaptureMethod      string
	ConfirmationMethod string
	AllowedMethods     []string
	IdempotencyKey     string
}

var knownMethods = map[string]struct{}{
	domain.MethodWallet: {},
	domain.MethodCard:   {},
	domain.MethodQR:     {},
	domain.MethodTap:    {},
}

// Create creates an intent in requires_payment_method. Re-submitting the same
// idempotency key returns the original intent unchanged, whatever state it
// has reached since.
func (s *IntentService) Create(ctx context.Context, arg CreateIntentParams) (models.PaymentIntent, error) {
	if arg.AmountMicros <= 0 {
		return models.PaymentIntent{}, fmt.Errorf("invalid intent amount: %d", arg.AmountMicros)
	}
	if arg.Currency == "" {
		return models.PaymentIntent{}, errors.New("currency is required")
	}
	if arg.IdempotencyKey == "" {
		return models.PaymentIntent{}, errors.New("idempotency key is required")
	}
	if arg.CaptureMethod == "" {
		arg.CaptureMethod = domain.CaptureAutomatic
	}
	if arg.CaptureMethod != domain.CaptureAutomatic && arg.CaptureMethod != domain.CaptureManual {
		return models.PaymentIntent{}, fmt.Errorf("unknown capture method %q", arg.CaptureMethod)
	}
	if arg.ConfirmationMethod == "" {
		arg.ConfirmationMethod = domain.ConfirmationAutomatic
	}
	if len(arg.AllowedMethods) == 0 {
		arg.AllowedMethods = []string{domain.MethodWallet, domain.MethodCard, domain.MethodQR, domain.MethodTap}
	}
	for _, m := range arg.AllowedMethods {
		if _, ok := knownMethods[m]; !ok {
			return models.PaymentIntent{}, fmt.Errorf("unknown payment method %q", m)
		}
	}

	externalID, err := randomHex(12)
	if err != nil {
		return models.PaymentIntent{}, err
	}
	externalID = "pi_" + externalID
	secretSuffix, err := randomHex(16)
	if err != nil {
		return models.PaymentIntent{}, err
	}
	qrSuffix, err := randomHex(8)
	if err != nil {
		return models.PaymentIntent{}, err
	}

	intent := models.PaymentIntent{
		ID:                 uuid.New(),
		ExternalID:         externalID,
		ClientSecret:       externalID + "_secret_" + secretSuffix,
		AmountMicros:       arg.AmountMicros,
		Currency:           arg.Currency,
		CaptureMethod:      arg.CaptureMethod,
		ConfirmationMethod: arg.ConfirmationMethod,
		Status:             domain.IntentStatusRequiresPaymentMethod,
		AllowedMethods:     arg.AllowedMethods,
		QRReference:        "qr_" + qrSuffix,
		ExpiresAt:          time.Now().UTC().Add(s.expiry),
		IdempotencyKey:     arg.IdempotencyKey,
	}

	var replayed bool
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.InsertPaymentIntent(ctx, intent)
		if err != nil {
			return fmt.Errorf("insert payment intent: %w", err)
		}
		if rows == 0 {
			intent, err = qtx.GetIntentByIdempotencyKey(ctx, arg.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("read back replayed intent: %w", err)
			}
			replayed = true
			return nil
		}
		return s.appendEvent(ctx, qtx, intent, "payment_intent.created")
	})
	if err != nil {
		return models.PaymentIntent{}, err
	}
	if replayed {
		zap.L().Info("payment intent create replayed",
			zap.String("external_id", intent.ExternalID),
			zap.String("status", intent.Status),
		)
	}
	return intent, nil
}

// Get returns an intent by its external id, applying lazy expiry.
func (s *IntentService) Get(ctx context.Context, externalID string) (models.PaymentIntent, error) {
	intent, err := s.store.Queries().GetIntentByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PaymentIntent{}, models.ErrIntentNotFound
		}
		return models.PaymentIntent{}, fmt.Errorf("get intent: %w", err)
	}
	return s.expireIfDue(ctx, intent)
}

// GetByQRReference resolves a scanned QR code to its intent.
func (s *IntentService) GetByQRReference(ctx context.Context, qrRef string) (models.PaymentIntent, error) {
	intent, err := s.store.Queries().GetIntentByQRReference(ctx, qrRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PaymentIntent{}, models.ErrIntentNotFound
		}
		return models.PaymentIntent{}, fmt.Errorf("get intent by qr: %w", err)
	}
	return s.expireIfDue(ctx, intent)
}

// expireIfDue cancels an overdue non-terminal intent on read. Expiry is lazy;
// no background job races the client here.
func (s *IntentService) expireIfDue(ctx context.Context, intent models.PaymentIntent) (models.PaymentIntent, error) {
	if intentTerminal(intent.Status) || time.Now().UTC().Before(intent.ExpiresAt) {
		return intent, nil
	}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		locked, err := qtx.GetIntentForUpdate(ctx, intent.ExternalID)
		if err != nil {
			return fmt.Errorf("lock intent: %w", err)
		}
		if intentTerminal(locked.Status) {
			intent = locked
			return nil
		}
		if err := s.transition(ctx, qtx, &locked, domain.IntentStatusCanceled, domain.CancelReasonAbandoned, nil); err != nil {
			return err
		}
		intent = locked
		return nil
	})
	if err != nil {
		return models.PaymentIntent{}, err
	}
	return intent, nil
}

// transition moves a locked intent to the next status and appends the
// matching lifecycle event, all inside the caller's transaction.
func (s *IntentService) transition(ctx context.Context, qtx *repository.Queries, intent *models.PaymentIntent, next, cancelReason string, transactionID *uuid.UUID) error {
	if !canTransitionIntent(intent.Status, next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrStateConflict, intent.Status, next)
	}
	rows, err := qtx.UpdateIntentStatus(ctx, repository.UpdateIntentStatusParams{
		ID:            intent.ID,
		Status:        next,
		CancelReason:  cancelReason,
		TransactionID: transactionID,
	})
	if err != nil {
		return fmt.Errorf("update intent status: %w", err)
	}
	if err := requireExactlyOne(rows, "update intent status"); err != nil {
		return err
	}
	intent.Status = next
	if cancelReason != "" {
		intent.CancelReason = cancelReason
	}
	if transactionID != nil {
		intent.TransactionID = transactionID
	}
	observability.IncrementIntentTransition(next)
	return s.appendEvent(ctx, qtx, *intent, "payment_intent."+next)
}

func (s *IntentService) appendEvent(ctx context.Context, qtx *repository.Queries, intent models.PaymentIntent, eventType string) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent event payload: %w", err)
	}
	return qtx.InsertIntentEvent(ctx, intent.ID, eventType, payload)
}

// ConfirmParams selects the settlement channel for an intent. Wallet, qr and
// tap settle from the payer's wallet; card goes through the full
// authorization path.
type ConfirmParams struct {
	ClientSecret string
	Method       string

	// wallet, qr and tap
	PayerUserID   uuid.UUID
	PayerWalletID uuid.UUID

	// card
	CardNumber  string
	CVV         string
	ExpiryMonth int32
	ExpiryYear  int32
	MerchantID  uuid.UUID
}

// Confirm attaches a payment method and collects the funds. On a settlement
// failure the intent lands in failed and the causal error is returned
// alongside it.
func (s *IntentService) Confirm(ctx context.Context, arg ConfirmParams) (models.PaymentIntent, error) {
	resolved, err := s.store.Queries().GetIntentByClientSecret(ctx, arg.ClientSecret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PaymentIntent{}, models.ErrIntentNotFound
		}
		return models.PaymentIntent{}, fmt.Errorf("resolve client secret: %w", err)
	}

	var (
		intent     models.PaymentIntent
		expiredErr error
	)
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		expiredErr = nil
		intent, err = qtx.GetIntentForUpdate(ctx, resolved.ExternalID)
		if err != nil {
			return fmt.Errorf("lock intent: %w", err)
		}
		if intentTerminal(intent.Status) {
			return fmt.Errorf("%w: intent is %s", models.ErrStateConflict, intent.Status)
		}
		if !time.Now().UTC().Before(intent.ExpiresAt) {
			// The cancellation must outlive this transaction, so the closure
			// commits it and the expiry error is surfaced afterwards.
			if err := s.transition(ctx, qtx, &intent, domain.IntentStatusCanceled, domain.CancelReasonAbandoned, nil); err != nil {
				return err
			}
			expiredErr = models.ErrIntentExpired
			return nil
		}
		if !methodAllowed(intent.AllowedMethods, arg.Method) {
			return models.ErrMethodNotAllowed
		}
		return s.transition(ctx, qtx, &intent, domain.IntentStatusProcessing, "", nil)
	})
	if err != nil {
		return intent, err
	}
	if expiredErr != nil {
		return intent, expiredErr
	}

	// Settlement runs in its own transaction. A crash between processing and
	// the outcome below leaves the intent stuck in processing; an operator
	// resolves it through Complete once the settlement leg is located in the
	// ledger by its reference.
	ledgerTx, settleErr := s.settle(ctx, intent, arg)
	if settleErr != nil {
		failed, err := s.markFailed(ctx, intent.ExternalID, settleErr)
		if err != nil {
			return intent, err
		}
		return failed, settleErr
	}
	return s.complete(ctx, intent.ExternalID, ledgerTx.ID)
}

func methodAllowed(allowed []string, method string) bool {
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}

func (s *IntentService) settle(ctx context.Context, intent models.PaymentIntent, arg ConfirmParams) (models.LedgerTransaction, error) {
	switch arg.Method {
	case domain.MethodWallet, domain.MethodQR, domain.MethodTap:
		wallet, err := s.wallets.GetBalance(ctx, arg.PayerWalletID)
		if err != nil {
			return models.LedgerTransaction{}, err
		}
		if wallet.UserID != arg.PayerUserID {
			return models.LedgerTransaction{}, models.ErrNotPermitted
		}
		if wallet.Currency != intent.Currency {
			return models.LedgerTransaction{}, fmt.Errorf("intent currency %s does not match wallet currency %s", intent.Currency, wallet.Currency)
		}
		meta, err := domain.EncodeMeta(map[string]string{"payment_intent": intent.ExternalID, "method": arg.Method})
		if err != nil {
			return models.LedgerTransaction{}, err
		}
		return s.wallets.Debit(ctx, MutationParams{
			WalletID:     wallet.ID,
			AmountMicros: intent.AmountMicros,
			Kind:         domain.TxKindSale,
			Reference:    "pi:" + intent.ExternalID,
			Metadata:     meta,
		})

	case domain.MethodCard:
		authTx, err := s.cards.Authorize(ctx, AuthorizeParams{
			CardNumber:   arg.CardNumber,
			CVV:          arg.CVV,
			ExpiryMonth:  arg.ExpiryMonth,
			ExpiryYear:   arg.ExpiryYear,
			MerchantID:   arg.MerchantID,
			MerchantRef:  intent.ExternalID,
			AmountMicros: intent.AmountMicros,
			Online:       true,
		})
		if err != nil {
			return models.LedgerTransaction{}, err
		}
		if authTx.Status != domain.CardTxStatusCompleted {
			return models.LedgerTransaction{}, fmt.Errorf("card authorization declined: %s", authTx.DeclineCode)
		}
		return s.store.Queries().GetLedgerTransaction(ctx, *authTx.LedgerTxID)

	default:
		return models.LedgerTransaction{}, models.ErrMethodNotAllowed
	}
}

// complete lands a processing intent in requires_capture or succeeded
// depending on the capture method, tagging it with its settlement leg.
func (s *IntentService) complete(ctx context.Context, externalID string, transactionID uuid.UUID) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		intent, err = qtx.GetIntentForUpdate(ctx, externalID)
		if err != nil {
			return fmt.Errorf("lock intent: %w", err)
		}
		next := domain.IntentStatusSucceeded
		if intent.CaptureMethod == domain.CaptureManual {
			next = domain.IntentStatusRequiresCapture
		}
		return s.transition(ctx, qtx, &intent, next, "", &transactionID)
	})
	if err != nil {
		return models.PaymentIntent{}, err
	}
	zap.L().Info("payment intent settled",
		zap.String("external_id", intent.ExternalID),
		zap.String("status", intent.Status),
		zap.Int64("amount_micros", intent.AmountMicros),
	)
	return intent, nil
}

// Complete records an out-of-band settlement for a processing intent, for
// channels collected by an external acquirer. The settlement leg must already
// be on the ledger.
func (s *IntentService) Complete(ctx context.Context, externalID string, transactionID uuid.UUID) (models.PaymentIntent, error) {
	if transactionID == uuid.Nil {
		return models.PaymentIntent{}, errors.New("settlement transaction id is required")
	}
	if _, err := s.store.Queries().GetLedgerTransaction(ctx, transactionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PaymentIntent{}, fmt.Errorf("settlement transaction %s not found", transactionID)
		}
		return models.PaymentIntent{}, fmt.Errorf("get settlement transaction: %w", err)
	}
	return s.complete(ctx, externalID, transactionID)
}

func (s *IntentService) markFailed(ctx context.Context, externalID string, cause error) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		intent, err = qtx.GetIntentForUpdate(ctx, externalID)
		if err != nil {
			return fmt.Errorf("lock intent: %w", err)
		}
		return s.transition(ctx, qtx, &intent, domain.IntentStatusFailed, "", nil)
	})
	if err != nil {
		return models.PaymentIntent{}, err
	}
	zap.L().Info("payment intent failed",
		zap.String("external_id", externalID),
		zap.String("cause", cause.Error()),
	)
	return intent, nil
}

// Capture finalizes a requires_capture intent. Funds moved at confirmation;
// capture only completes the lifecycle.
func (s *IntentService) Capture(ctx context.Context, externalID string) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		intent, err = qtx.GetIntentForUpdate(ctx, externalID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrIntentNotFound
			}
			return fmt.Errorf("lock intent: %w", err)
		}
		if intent.Status != domain.IntentStatusRequiresCapture {
			return fmt.Errorf("%w: intent is %s", models.ErrStateConflict, intent.Status)
		}
		return s.transition(ctx, qtx, &intent, domain.IntentStatusSucceeded, "", nil)
	})
	if err != nil {
		return models.PaymentIntent{}, err
	}
	return intent, nil
}

// Cancel aborts a non-terminal intent. Cancelling after settlement but before
// capture reverses the settlement leg and returns the funds.
func (s *IntentService) Cancel(ctx context.Context, externalID, reason string) (models.PaymentIntent, error) {
	if reason == "" {
		reason = domain.CancelReasonRequested
	}
	var intent models.PaymentIntent
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		intent, err = qtx.GetIntentForUpdate(ctx, externalID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrIntentNotFound
			}
			return fmt.Errorf("lock intent: %w", err)
		}
		if intentTerminal(intent.Status) {
			return fmt.Errorf("%w: intent is %s", models.ErrStateConflict, intent.Status)
		}

		if intent.Status == domain.IntentStatusRequiresCapture && intent.TransactionID != nil {
			settleTx, err := qtx.GetLedgerTransaction(ctx, *intent.TransactionID)
			if err != nil {
				return fmt.Errorf("get settlement leg: %w", err)
			}
			wallet, err := qtx.GetWalletForUpdate(ctx, settleTx.WalletID)
			if err != nil {
				return fmt.Errorf("lock payer wallet: %w", err)
			}
			if err := creditLocked(ctx, qtx, wallet, -settleTx.AmountMicros); err != nil {
				return err
			}
			if err := s.ledger.Transition(ctx, qtx, settleTx.ID, domain.TxStatusReversed); err != nil {
				return err
			}
		}
		return s.transition(ctx, qtx, &intent, domain.IntentStatusCanceled, reason, nil)
	})
	if err != nil {
		return models.PaymentIntent{}, err
	}
	zap.L().Info("payment intent canceled",
		zap.String("external_id", externalID),
		zap.String("reason", reason),
	)
	return intent, nil
}

// Events lists the lifecycle log of an intent, oldest first.
func (s *IntentService) Events(ctx context.Context, externalID string) ([]models.PaymentIntentEvent, error) {
	intent, err := s.store.Queries().GetIntentByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrIntentNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return s.store.Queries().ListIntentEvents(ctx, intent.ID)
}
