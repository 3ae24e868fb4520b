package service

import (
	"context"
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

const maxActivationAttempts = 5

// CardService issues closed-loop virtual cards funded by wallets and
// authorizes spend against them. Authorization declines are outcomes, not
// errors: every decline except an unknown card number leaves an audit row.
type CardService struct {
	store  QueryStore
	ledger *LedgerService
}

func NewCardService(store QueryStore, ledger *LedgerService) *CardService {
	return &CardService{store: store, ledger: ledger}
}

// CardSecrets carries the plaintext card credentials, returned exactly once
// at issuance. Only their hashes are persisted.
type CardSecrets struct {
	Number         string `json:"number"`
	CVV            string `json:"cvv"`
	ActivationCode string `json:"activation_code"`
}

// RequestCardParams describes a card issuance request.
type RequestCardParams struct {
	UserID             uuid.UUID
	WalletID           uuid.UUID
	PerTxLimitMicros   int64
	DailyLimitMicros   int64
	WeeklyLimitMicros  int64
	MonthlyLimitMicros int64
	OnlinePayments     bool
	AllowedMerchants   []string
	BlockedMerchants   []string
}

// Request issues a new card in PENDING state. The card must be activated with
// the returned activation code before it can authorize anything.
func (s *CardService) Request(ctx context.Context, arg RequestCardParams) (models.IssuedCard, CardSecrets, error) {
	wallet, err := s.store.Queries().GetWallet(ctx, arg.WalletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IssuedCard{}, CardSecrets{}, models.ErrWalletNotFound
		}
		return models.IssuedCard{}, CardSecrets{}, fmt.Errorf("get funding wallet: %w", err)
	}
	if wallet.UserID != arg.UserID {
		return models.IssuedCard{}, CardSecrets{}, models.ErrNotPermitted
	}
	if wallet.Status != domain.WalletStatusActive {
		return models.IssuedCard{}, CardSecrets{}, models.ErrWalletInactive
	}

	number, err := randomDigits(16)
	if err != nil {
		return models.IssuedCard{}, CardSecrets{}, err
	}
	cvv, err := randomDigits(3)
	if err != nil {
		return models.IssuedCard{}, CardSecrets{}, err
	}
	activation, err := randomDigits(6)
	if err != nil {
		return models.IssuedCard{}, CardSecrets{}, err
	}

	now := time.Now().UTC()
	expiry := now.AddDate(3, 0, 0)
	card := models.IssuedCard{
		ID:            uuid.New(),
		UserID:        arg.UserID,
		WalletID:      arg.WalletID,
		MaskedNumber:  "**** **** **** " + number[12:],
		NumberHash:    hashSecret(number),
		CVVHash:       hashSecret(cvv),
		ActivationHsh: hashSecret(activation),
		ExpiryMonth:   int32(expiry.Month()),
		ExpiryYear:    int32(expiry.Year()),
		Status:        domain.CardStatusPending,
		OnlinePayment: arg.OnlinePayments,

		PerTxLimitMicros:   arg.PerTxLimitMicros,
		DailyLimitMicros:   arg.DailyLimitMicros,
		WeeklyLimitMicros:  arg.WeeklyLimitMicros,
		MonthlyLimitMicros: arg.MonthlyLimitMicros,

		LastDailyReset:   now,
		LastWeeklyReset:  now,
		LastMonthlyReset: now,

		AllowedMerchants: arg.AllowedMerchants,
		BlockedMerchants: arg.BlockedMerchants,
	}
	if err := s.store.Queries().InsertCard(ctx, card); err != nil {
		return models.IssuedCard{}, CardSecrets{}, fmt.Errorf("insert card: %w", err)
	}
	zap.L().Info("card issued",
		zap.String("card_id", card.ID.String()),
		zap.String("masked_number", card.MaskedNumber),
	)
	return card, CardSecrets{Number: number, CVV: cvv, ActivationCode: activation}, nil
}

// Activate moves a PENDING card to ACTIVE when the activation code matches.
// The fifth consecutive mismatch blocks the card permanently.
func (s *CardService) Activate(ctx context.Context, cardID, userID uuid.UUID, activationCode string) (models.IssuedCard, error) {
	var (
		card        models.IssuedCard
		mismatchErr error
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		mismatchErr = nil
		var err error
		card, err = qtx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrCardNotFound
			}
			return fmt.Errorf("lock card: %w", err)
		}
		if card.UserID != userID {
			return models.ErrNotPermitted
		}
		if card.Status == domain.CardStatusBlocked {
			return models.ErrCardBlocked
		}
		if card.Status != domain.CardStatusPending {
			return models.ErrStateConflict
		}

		if hashSecret(activationCode) != card.ActivationHsh {
			// The counter write must commit even though activation fails, so
			// the closure returns nil and the sentinel is surfaced afterwards.
			attempts, err := qtx.IncrementFailedActivations(ctx, cardID)
			if err != nil {
				return err
			}
			mismatchErr = models.ErrActivationMismatch
			if attempts >= maxActivationAttempts {
				if _, err := qtx.UpdateCardStatus(ctx, cardID, domain.CardStatusBlocked, []string{domain.CardStatusPending}); err != nil {
					return err
				}
				zap.L().Warn("card blocked after repeated activation failures",
					zap.String("card_id", cardID.String()),
					zap.Int32("attempts", attempts),
				)
				mismatchErr = models.ErrCardBlocked
			}
			return nil
		}

		rows, err := qtx.UpdateCardStatus(ctx, cardID, domain.CardStatusActive, []string{domain.CardStatusPending})
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "activate card"); err != nil {
			return err
		}
		card.Status = domain.CardStatusActive
		return nil
	})
	if err != nil {
		return models.IssuedCard{}, err
	}
	if mismatchErr != nil {
		return models.IssuedCard{}, mismatchErr
	}
	return card, nil
}

// Get returns a card owned by the caller.
func (s *CardService) Get(ctx context.Context, cardID, userID uuid.UUID) (models.IssuedCard, error) {
	card, err := s.store.Queries().GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IssuedCard{}, models.ErrCardNotFound
		}
		return models.IssuedCard{}, fmt.Errorf("get card: %w", err)
	}
	if card.UserID != userID {
		return models.IssuedCard{}, models.ErrNotPermitted
	}
	return card, nil
}

// List returns all cards belonging to a user.
func (s *CardService) List(ctx context.Context, userID uuid.UUID) ([]models.IssuedCard, error) {
	return s.store.Queries().ListCardsByUser(ctx, userID)
}

// Transactions lists authorization attempts against a card, newest first.
func (s *CardService) Transactions(ctx context.Context, cardID, userID uuid.UUID, page, pageSize int32) ([]models.CardTransaction, error) {
	if _, err := s.Get(ctx, cardID, userID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return s.store.Queries().ListCardTransactions(ctx, cardID, pageSize, (page-1)*pageSize)
}

// setStatus is the shared owner-guarded status transition.
func (s *CardService) setStatus(ctx context.Context, cardID, userID uuid.UUID, next string, from []string) (models.IssuedCard, error) {
	var card models.IssuedCard
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		card, err = qtx.GetCardForUpdate(ctx, cardID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrCardNotFound
			}
			return fmt.Errorf("lock card: %w", err)
		}
		if card.UserID != userID {
			return models.ErrNotPermitted
		}
		rows, err := qtx.UpdateCardStatus(ctx, cardID, next, from)
		if err != nil {
			return err
		}
		if rows == 0 {
			return models.ErrStateConflict
		}
		card.Status = next
		return nil
	})
	if err != nil {
		return models.IssuedCard{}, err
	}
	return card, nil
}

// Freeze suspends an active card reversibly.
func (s *CardService) Freeze(ctx context.Context, cardID, userID uuid.UUID) (models.IssuedCard, error) {
	return s.setStatus(ctx, cardID, userID, domain.CardStatusFrozen, []string{domain.CardStatusActive})
}

// Unfreeze reactivates a frozen card.
func (s *CardService) Unfreeze(ctx context.Context, cardID, userID uuid.UUID) (models.IssuedCard, error) {
	return s.setStatus(ctx, cardID, userID, domain.CardStatusActive, []string{domain.CardStatusFrozen})
}

// Block disables a card permanently. Blocked is terminal.
func (s *CardService) Block(ctx context.Context, cardID, userID uuid.UUID) (models.IssuedCard, error) {
	return s.setStatus(ctx, cardID, userID, domain.CardStatusBlocked, []string{
		domain.CardStatusPending, domain.CardStatusActive, domain.CardStatusFrozen, domain.CardStatusExpired,
	})
}

// Cancel retires a card at the holder's request. Cancelled is terminal.
func (s *CardService) Cancel(ctx context.Context, cardID, userID uuid.UUID) (models.IssuedCard, error) {
	return s.setStatus(ctx, cardID, userID, domain.CardStatusCancelled, []string{
		domain.CardStatusPending, domain.CardStatusActive, domain.CardStatusFrozen, domain.CardStatusExpired,
	})
}

// UpdateLimits replaces the card's spend limits, merchant lists and online
// toggle.
func (s *CardService) UpdateLimits(ctx context.Context, userID uuid.UUID, arg repository.UpdateCardLimitsParams) (models.IssuedCard, error) {
	if arg.PerTxLimitMicros < 0 || arg.DailyLimitMicros < 0 || arg.WeeklyLimitMicros < 0 || arg.MonthlyLimitMicros < 0 {
		return models.IssuedCard{}, errors.New("card limits must not be negative")
	}
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		card, err := qtx.GetCardForUpdate(ctx, arg.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrCardNotFound
			}
			return fmt.Errorf("lock card: %w", err)
		}
		if card.UserID != userID {
			return models.ErrNotPermitted
		}
		rows, err := qtx.UpdateCardLimits(ctx, arg)
		if err != nil {
			return err
		}
		return requireExactlyOne(rows, "update card limits")
	})
	if err != nil {
		return models.IssuedCard{}, err
	}
	return s.store.Queries().GetCard(ctx, arg.ID)
}

// AuthorizeParams is one merchant authorization attempt, presented with card
// credentials rather than an internal card id.
type AuthorizeParams struct {
	CardNumber   string
	CVV          string
	ExpiryMonth  int32
	ExpiryYear   int32
	MerchantID   uuid.UUID
	MerchantRef  string
	AmountMicros int64
	Online       bool
}

// Authorize runs one authorization attempt. A decline is a normal outcome:
// the returned CardTransaction carries status DECLINED with its decline code
// and no balance or counter has moved. Retrying a completed merchant
// reference replays the prior approval.
func (s *CardService) Authorize(ctx context.Context, arg AuthorizeParams) (models.CardTransaction, error) {
	if arg.AmountMicros <= 0 {
		return models.CardTransaction{}, fmt.Errorf("invalid authorization amount: %d", arg.AmountMicros)
	}
	if arg.MerchantRef == "" {
		return models.CardTransaction{}, errors.New("merchant reference is required")
	}

	// An unknown card number declines without an audit row; there is no card
	// to attach the row to.
	probe, err := s.store.Queries().GetCardByNumberHash(ctx, hashSecret(arg.CardNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CardTransaction{
				ID:           uuid.New(),
				AmountMicros: arg.AmountMicros,
				Status:       domain.CardTxStatusDeclined,
				MerchantID:   arg.MerchantID,
				MerchantRef:  arg.MerchantRef,
				DeclineCode:  string(domain.DeclineInvalidCard),
			}, nil
		}
		return models.CardTransaction{}, fmt.Errorf("resolve card: %w", err)
	}

	if prior, err := s.store.Queries().GetCompletedCardTransactionByRef(ctx, probe.ID, arg.MerchantRef); err == nil {
		return prior, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return models.CardTransaction{}, fmt.Errorf("check merchant reference: %w", err)
	}

	var (
		authTx   models.CardTransaction
		ledgerTx models.LedgerTransaction
		approved bool
	)
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		card, err := qtx.GetCardForUpdate(ctx, probe.ID)
		if err != nil {
			return fmt.Errorf("lock card: %w", err)
		}

		decline := func(code domain.DeclineCode) error {
			authTx = models.CardTransaction{
				ID:           uuid.New(),
				CardID:       card.ID,
				AmountMicros: arg.AmountMicros,
				Status:       domain.CardTxStatusDeclined,
				MerchantID:   arg.MerchantID,
				MerchantRef:  arg.MerchantRef,
				DeclineCode:  string(code),
			}
			if _, err := qtx.InsertCardTransaction(ctx, authTx); err != nil {
				return err
			}
			return nil
		}

		if code, ok := s.checkCredentials(card, arg); !ok {
			return decline(code)
		}
		if now := time.Now().UTC(); cardExpired(card, now) {
			if _, err := qtx.UpdateCardStatus(ctx, card.ID, domain.CardStatusExpired, []string{domain.CardStatusActive}); err != nil {
				return err
			}
			return decline(domain.DeclineCardNotActive)
		}
		if card.Status != domain.CardStatusActive {
			return decline(domain.DeclineCardNotActive)
		}
		if arg.Online && !card.OnlinePayment {
			return decline(domain.DeclineOnlineDisabled)
		}

		merchant, err := qtx.GetMerchant(ctx, arg.MerchantID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return decline(domain.DeclineMerchantUnknown)
			}
			return fmt.Errorf("get merchant: %w", err)
		}
		if !merchant.Approved {
			return decline(domain.DeclineMerchantUnknown)
		}
		if code, ok := checkMerchantLists(card, arg.MerchantID); !ok {
			return decline(code)
		}
		if code, ok := checkLimitCounters(card, arg.AmountMicros); !ok {
			return decline(code)
		}

		wallet, err := qtx.GetWalletForUpdate(ctx, card.WalletID)
		if err != nil {
			return fmt.Errorf("lock funding wallet: %w", err)
		}
		if wallet.Status != domain.WalletStatusActive {
			return decline(domain.DeclineWalletInactive)
		}
		if wallet.AvailableMicros < arg.AmountMicros {
			return decline(domain.DeclineInsufficientFunds)
		}

		// Approved: debit, bump counters, record the ledger leg and the
		// completed authorization as one unit.
		if err := debitLocked(ctx, qtx, wallet, arg.AmountMicros); err != nil {
			return err
		}
		rows, err := qtx.ApplyCardSpend(ctx, card.ID, arg.AmountMicros)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "apply card spend"); err != nil {
			return err
		}

		authCode, err := randomDigits(6)
		if err != nil {
			return err
		}
		meta, err := domain.EncodeMeta(domain.CardPaymentMeta{
			CardID:     card.ID.String(),
			MerchantID: arg.MerchantID.String(),
			AuthCode:   authCode,
		})
		if err != nil {
			return fmt.Errorf("encode card payment metadata: %w", err)
		}
		ledgerTx, _, err = s.ledger.Record(ctx, qtx, RecordParams{
			WalletID:     wallet.ID,
			AmountMicros: -arg.AmountMicros,
			Currency:     wallet.Currency,
			Kind:         domain.TxKindCardPayment,
			Status:       domain.TxStatusCompleted,
			Reference:    fmt.Sprintf("card:%s:%s", card.ID, arg.MerchantRef),
			Metadata:     meta,
		})
		if err != nil {
			return err
		}

		authTx = models.CardTransaction{
			ID:           uuid.New(),
			CardID:       card.ID,
			AmountMicros: arg.AmountMicros,
			Status:       domain.CardTxStatusCompleted,
			MerchantID:   arg.MerchantID,
			MerchantRef:  arg.MerchantRef,
			AuthCode:     authCode,
			LedgerTxID:   &ledgerTx.ID,
		}
		rows, err = qtx.InsertCardTransaction(ctx, authTx)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "insert card transaction"); err != nil {
			return err
		}
		approved = true
		return nil
	})
	if err != nil {
		return models.CardTransaction{}, err
	}
	observability.IncrementCardAuthorization(authTx.DeclineCode)
	if approved {
		s.ledger.NotifyCommitted(ledgerTx)
	} else {
		zap.L().Info("card authorization declined",
			zap.String("card_id", authTx.CardID.String()),
			zap.String("decline_code", authTx.DeclineCode),
			zap.Int64("amount_micros", arg.AmountMicros),
		)
	}
	return authTx, nil
}

func (s *CardService) checkCredentials(card models.IssuedCard, arg AuthorizeParams) (domain.DeclineCode, bool) {
	if hashSecret(arg.CVV) != card.CVVHash {
		return domain.DeclineInvalidCVV, false
	}
	if arg.ExpiryMonth != card.ExpiryMonth || arg.ExpiryYear != card.ExpiryYear {
		return domain.DeclineExpiryMismatch, false
	}
	return "", true
}

func cardExpired(card models.IssuedCard, now time.Time) bool {
	// A card is valid through the last instant of its expiry month.
	endOfMonth := time.Date(int(card.ExpiryYear), time.Month(card.ExpiryMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return !now.Before(endOfMonth)
}

func checkMerchantLists(card models.IssuedCard, merchantID uuid.UUID) (domain.DeclineCode, bool) {
	id := merchantID.String()
	for _, blocked := range card.BlockedMerchants {
		if blocked == id {
			return domain.DeclineMerchantBlocked, false
		}
	}
	if len(card.AllowedMerchants) > 0 {
		for _, allowed := range card.AllowedMerchants {
			if allowed == id {
				return "", true
			}
		}
		return domain.DeclineMerchantBlocked, false
	}
	return "", true
}

// checkLimitCounters enforces the per transaction ceiling and the rolling
// period budgets. A zero limit means unlimited.
func checkLimitCounters(card models.IssuedCard, amountMicros int64) (domain.DeclineCode, bool) {
	if card.PerTxLimitMicros > 0 && amountMicros > card.PerTxLimitMicros {
		return domain.DeclineExceedsTxLimit, false
	}
	if card.DailyLimitMicros > 0 && card.SpentDayMicros+amountMicros > card.DailyLimitMicros {
		return domain.DeclineExceedsDaily, false
	}
	if card.WeeklyLimitMicros > 0 && card.SpentWeekMicros+amountMicros > card.WeeklyLimitMicros {
		return domain.DeclineExceedsWeekly, false
	}
	if card.MonthlyLimitMicros > 0 && card.SpentMonthMicros+amountMicros > card.MonthlyLimitMicros {
		return domain.DeclineExceedsMonthly, false
	}
	return "", true
}

// LookupForPayment resolves a card by number and CVV for a checkout preview.
// A wrong CVV answers the same as an unknown number so the endpoint cannot be
// used to probe card numbers. No mutation; the authorization path re-validates
// everything.
func (s *CardService) LookupForPayment(ctx context.Context, cardNumber, cvv string) (models.IssuedCard, error) {
	card, err := s.store.Queries().GetCardByNumberHash(ctx, hashSecret(cardNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IssuedCard{}, models.ErrCardNotFound
		}
		return models.IssuedCard{}, fmt.Errorf("resolve card: %w", err)
	}
	if hashSecret(cvv) != card.CVVHash {
		return models.IssuedCard{}, models.ErrCardNotFound
	}
	return card, nil
}

// RegisterMerchant adds a merchant to the closed loop.
func (s *CardService) RegisterMerchant(ctx context.Context, name string, approved bool) (models.Merchant, error) {
	merchant := models.Merchant{ID: uuid.New(), Name: name, Approved: approved}
	if err := s.store.Queries().InsertMerchant(ctx, merchant); err != nil {
		return models.Merchant{}, fmt.Errorf("insert merchant: %w", err)
	}
	return merchant, nil
}

// ResetPeriod zeroes the spend counter for one period across all cards whose
// counter predates the current boundary. Safe to run concurrently; each card
// resets at most once per boundary.
func (s *CardService) ResetPeriod(ctx context.Context, period string, now time.Time) (int64, error) {
	now = now.UTC()
	q := s.store.Queries()
	switch period {
	case domain.PeriodDaily:
		return q.ResetDailyCounters(ctx, now.Truncate(24*time.Hour))
	case domain.PeriodWeekly:
		return q.ResetWeeklyCounters(ctx, startOfISOWeek(now))
	case domain.PeriodMonthly:
		return q.ResetMonthlyCounters(ctx, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC))
	default:
		return 0, fmt.Errorf("unknown reset period %q", period)
	}
}

// startOfISOWeek returns midnight UTC of the Monday of t's week.
func startOfISOWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, 1-weekday)
}
