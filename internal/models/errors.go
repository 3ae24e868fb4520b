package models

import "errors"

// Business errors returned by the financial core. Validation, limit and
// not-found errors never mutate state; callers may correct and retry.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrWalletNotFound  = errors.New("wallet not found")
	ErrWalletInactive  = errors.New("wallet is not active")
	ErrSourceNotFound  = errors.New("source wallet not found")
	ErrDestNotFound    = errors.New("destination wallet not found")
	ErrSameCurrency    = errors.New("source and destination currency are identical")
	ErrRateUnavailable = errors.New("no active exchange rate for currency pair")

	ErrLimitExceeded = errors.New("exchange limit exceeded")
	ErrBelowMinimum  = errors.New("amount below minimum exchange amount")
	ErrAboveMaximum  = errors.New("amount above maximum exchange amount")

	ErrRefundNotFound    = errors.New("refund request not found")
	ErrRefundNotPending  = errors.New("refund request is not pending")
	ErrRefundNotReleased = errors.New("refund escrow window has already elapsed")

	ErrCardNotFound       = errors.New("card not found")
	ErrCardBlocked        = errors.New("card is permanently blocked")
	ErrActivationMismatch = errors.New("activation code mismatch")

	ErrIntentNotFound   = errors.New("payment intent not found")
	ErrIntentExpired    = errors.New("payment intent has expired")
	ErrMethodNotAllowed = errors.New("payment method not in allowed set")

	ErrStateConflict = errors.New("operation invalid for current status")
	ErrNotPermitted  = errors.New("actor not permitted for this operation")
)
