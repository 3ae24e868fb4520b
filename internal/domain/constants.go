package domain

// Wallet statuses and types.
const (
	WalletStatusActive    = "ACTIVE"
	WalletStatusSuspended = "SUSPENDED"

	WalletTypePrimary   = "PRIMARY"
	WalletTypeSecondary = "SECONDARY"
)

// Ledger transaction kinds.
const (
	TxKindSale        = "sale"
	TxKindTransfer    = "transfer"
	TxKindExchange    = "exchange"
	TxKindRefund      = "refund"
	TxKindCardPayment = "card_payment"
	TxKindFee         = "fee"
)

// Ledger transaction statuses.
const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
	TxStatusReversed  = "REVERSED"
	TxStatusCancelled = "CANCELLED"
)

// Refund request statuses.
const (
	RefundStatusPending   = "PENDING"
	RefundStatusCompleted = "COMPLETED"
	RefundStatusCancelled = "CANCELLED"
)

// Card statuses.
const (
	CardStatusPending   = "PENDING"
	CardStatusActive    = "ACTIVE"
	CardStatusFrozen    = "FROZEN"
	CardStatusBlocked   = "BLOCKED"
	CardStatusExpired   = "EXPIRED"
	CardStatusCancelled = "CANCELLED"
)

// Card transaction statuses.
const (
	CardTxStatusPending    = "PENDING"
	CardTxStatusAuthorized = "AUTHORIZED"
	CardTxStatusCompleted  = "COMPLETED"
	CardTxStatusDeclined   = "DECLINED"
	CardTxStatusReversed   = "REVERSED"
	CardTxStatusExpired    = "EXPIRED"
)

// Card limit periods.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Payment intent statuses.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresCapture       = "requires_capture"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusFailed                = "failed"
	IntentStatusCanceled              = "canceled"
)

// Capture and confirmation methods.
const (
	CaptureAutomatic = "automatic"
	CaptureManual    = "manual"

	ConfirmationAutomatic = "automatic"
	ConfirmationManual    = "manual"
)

// Payment methods a payment intent can be collected through.
const (
	MethodWallet = "wallet"
	MethodCard   = "card"
	MethodQR     = "qr"
	MethodTap    = "tap"
)

// Payment intent cancellation reasons.
const (
	CancelReasonAbandoned = "abandoned"
	CancelReasonRequested = "requested_by_caller"
)

// Role tiers used by exchange limit policies and route guards.
const (
	RoleStandard = "standard"
	RolePremium  = "premium"
	RoleBusiness = "business"
	RoleAdmin    = "admin"
	RoleService  = "service"
)

// DeclineCode identifies why a card authorization was refused.
type DeclineCode string

const (
	DeclineInvalidCard       DeclineCode = "INVALID_CARD"
	DeclineInvalidCVV        DeclineCode = "INVALID_CVV"
	DeclineExpiryMismatch    DeclineCode = "EXPIRY_MISMATCH"
	DeclineCardNotActive     DeclineCode = "CARD_NOT_ACTIVE"
	DeclineOnlineDisabled    DeclineCode = "ONLINE_PAYMENTS_DISABLED"
	DeclineMerchantUnknown   DeclineCode = "MERCHANT_NOT_APPROVED"
	DeclineMerchantBlocked   DeclineCode = "MERCHANT_BLOCKED"
	DeclineExceedsTxLimit    DeclineCode = "EXCEEDS_TRANSACTION_LIMIT"
	DeclineExceedsDaily      DeclineCode = "EXCEEDS_DAILY_LIMIT"
	DeclineExceedsWeekly     DeclineCode = "EXCEEDS_WEEKLY_LIMIT"
	DeclineExceedsMonthly    DeclineCode = "EXCEEDS_MONTHLY_LIMIT"
	DeclineInsufficientFunds DeclineCode = "INSUFFICIENT_FUNDS"
	DeclineWalletInactive    DeclineCode = "WALLET_INACTIVE"
)
