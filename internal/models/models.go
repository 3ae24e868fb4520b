package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a per-user, per-currency stored balance. One wallet exists per
// (user, currency, type); wallets are created lazily and never deleted.
type Wallet struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Currency        string    `json:"currency"`
	Type            string    `json:"type"`
	BalanceMicros   int64     `json:"balance_micros"`
	AvailableMicros int64     `json:"available_micros"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LedgerTransaction is an immutable record of a balance-affecting event.
// Amount is signed: negative for debits, positive for credits.
type LedgerTransaction struct {
	ID           uuid.UUID  `json:"id"`
	WalletID     uuid.UUID  `json:"wallet_id"`
	AmountMicros int64      `json:"amount_micros"`
	Currency     string     `json:"currency"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	Reference    string     `json:"reference"`
	RelatedTxID  *uuid.UUID `json:"related_tx_id,omitempty"`
	Metadata     []byte     `json:"metadata,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ExchangeRate is a currency pair quote with a margin applied on top.
type ExchangeRate struct {
	ID           uuid.UUID       `json:"id"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	MarginPct    decimal.Decimal `json:"margin_pct"`
	ActiveFrom   time.Time       `json:"active_from"`
	ActiveTo     *time.Time      `json:"active_to,omitempty"`
	SetBy        uuid.UUID       `json:"set_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ExchangeLimitPolicy is the per-role-tier exchange limit configuration.
// Policies are versioned and effective-dated; the newest effective row per
// role wins.
type ExchangeLimitPolicy struct {
	ID            uuid.UUID       `json:"id"`
	Role          string          `json:"role"`
	DailyMicros   int64           `json:"daily_micros"`
	MonthlyMicros int64           `json:"monthly_micros"`
	MinMicros     int64           `json:"min_micros"`
	MaxMicros     int64           `json:"max_micros"`
	FeePct        decimal.Decimal `json:"fee_pct"`
	Version       int32           `json:"version"`
	EffectiveFrom time.Time       `json:"effective_from"`
}

// RefundRequest holds disputed funds in escrow until release or cancellation.
type RefundRequest struct {
	ID                uuid.UUID  `json:"id"`
	SenderWalletID    uuid.UUID  `json:"sender_wallet_id"`
	RecipientWalletID uuid.UUID  `json:"recipient_wallet_id"`
	AmountMicros      int64      `json:"amount_micros"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	ReleaseAt         time.Time  `json:"release_at"`
	SenderTxID        uuid.UUID  `json:"sender_tx_id"`
	RecipientTxID     uuid.UUID  `json:"recipient_tx_id"`
	CancelledBy       *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IssuedCard is a closed-loop virtual card funded by a wallet. Card number,
// CVV and activation code are stored only as SHA-256 hashes.
type IssuedCard struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	MaskedNumber  string    `json:"masked_number"`
	NumberHash    string    `json:"-"`
	CVVHash       string    `json:"-"`
	ActivationHsh string    `json:"-"`
	ExpiryMonth   int32     `json:"expiry_month"`
	ExpiryYear    int32     `json:"expiry_year"`
	Status        string    `json:"status"`
	OnlinePayment bool      `json:"online_payments_enabled"`

	PerTxLimitMicros   int64 `json:"per_tx_limit_micros"`
	DailyLimitMicros   int64 `json:"daily_limit_micros"`
	WeeklyLimitMicros  int64 `json:"weekly_limit_micros"`
	MonthlyLimitMicros int64 `json:"monthly_limit_micros"`

	SpentDayMicros   int64     `json:"spent_day_micros"`
	SpentWeekMicros  int64     `json:"spent_week_micros"`
	SpentMonthMicros int64     `json:"spent_month_micros"`
	LastDailyReset   time.Time `json:"last_daily_reset"`
	LastWeeklyReset  time.Time `json:"last_weekly_reset"`
	LastMonthlyReset time.Time `json:"last_monthly_reset"`

	AllowedMerchants []string `json:"allowed_merchants,omitempty"`
	BlockedMerchants []string `json:"blocked_merchants,omitempty"`

	FailedActivations int32     `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CardTransaction records a single authorization attempt against a card.
type CardTransaction struct {
	ID           uuid.UUID  `json:"id"`
	CardID       uuid.UUID  `json:"card_id"`
	AmountMicros int64      `json:"amount_micros"`
	Status       string     `json:"status"`
	MerchantID   uuid.UUID  `json:"merchant_id"`
	MerchantRef  string     `json:"merchant_ref"`
	DeclineCode  string     `json:"decline_code,omitempty"`
	AuthCode     string     `json:"auth_code,omitempty"`
	LedgerTxID   *uuid.UUID `json:"ledger_tx_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Merchant is a closed-loop merchant allowed to receive card payments once
// approved.
type Merchant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentIntent is a single channel-agnostic payment collection attempt.
type PaymentIntent struct {
	ID                 uuid.UUID  `json:"id"`
	ExternalID         string     `json:"external_id"`
	ClientSecret       string     `json:"client_secret,omitempty"`
	AmountMicros       int64      `json:"amount_micros"`
	Currency           string     `json:"currency"`
	CaptureMethod      string     `json:"capture_method"`
	ConfirmationMethod string     `json:"confirmation_method"`
	Status             string     `json:"status"`
	AllowedMethods     []string   `json:"allowed_methods"`
	QRReference        string     `json:"qr_reference"`
	ExpiresAt          time.Time  `json:"expires_at"`
	IdempotencyKey     string     `json:"-"`
	TransactionID      *uuid.UUID `json:"transaction_id,omitempty"`
	CancelReason       string     `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PaymentIntentEvent is an append-only audit/webhook log entry for an intent.
// Events are delivered at-least-once to external listeners.
type PaymentIntentEvent struct {
	ID        int64     `json:"id"`
	IntentID  uuid.UUID `json:"intent_id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload,omitempty"`
	Delivered bool      `json:"delivered"`
	Attempts  int32     `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
