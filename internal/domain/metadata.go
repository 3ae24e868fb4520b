package domain

import (
	"encoding/json"
	"time"
)

// Ledger transaction metadata is a tagged variant per transaction kind where
// the shape is known. Unknown kinds fall back to an open string-keyed map.

// ExchangeMeta annotates both legs of a currency exchange.
type ExchangeMeta struct {
	FromCurrency  string `json:"from_currency"`
	ToCurrency    string `json:"to_currency"`
	Rate          string `json:"rate"`
	MarginPct     string `json:"margin_pct"`
	EffectiveRate string `json:"effective_rate"`
	FeeMicros     int64  `json:"fee_micros"`
	GrossMicros   int64  `json:"gross_micros"`
}

// RefundMeta annotates the escrow legs of a refund.
type RefundMeta struct {
	RefundID  string    `json:"refund_id"`
	Reason    string    `json:"reason,omitempty"`
	ReleaseAt time.Time `json:"release_at"`
}

// CardPaymentMeta annotates the ledger leg of a card authorization.
type CardPaymentMeta struct {
	CardID     string `json:"card_id"`
	MerchantID string `json:"merchant_id"`
	AuthCode   string `json:"auth_code"`
}

// EncodeMeta marshals any metadata variant to JSON for storage.
func EncodeMeta(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
