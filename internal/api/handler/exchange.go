package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/service"
	"github.com/shopspring/decimal"
)

type ExchangeHandler struct {
	svc *service.ExchangeService
}

func NewExchangeHandler(svc *service.ExchangeService) *ExchangeHandler {
	return &ExchangeHandler{svc: svc}
}

// GetQuote prices a conversion without moving funds.
func (h *ExchangeHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	_, role, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	from := strings.ToUpper(r.URL.Query().Get("from"))
	to := strings.ToUpper(r.URL.Query().Get("to"))
	amount, _ := strconv.ParseInt(r.URL.Query().Get("amount_micros"), 10, 64)
	if len(from) != 3 || len(to) != 3 {
		RespondError(w, r, http.StatusBadRequest, "exchange/invalid-pair", "from and to must be 3-letter ISO codes")
		return
	}
	if amount <= 0 {
		RespondError(w, r, http.StatusBadRequest, "exchange/invalid-amount", "amount_micros must be positive")
		return
	}

	quote, err := h.svc.GetQuote(r.Context(), from, to, role, amount)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, quote)
}

// Execute converts funds between two wallets of the caller.
func (h *ExchangeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	actorID, role, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		SourceWalletID string `json:"source_wallet_id"`
		DestWalletID   string `json:"destination_wallet_id"`
		AmountMicros   int64  `json:"amount_micros"`
		Reference      string `json:"reference"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sourceID, err := uuid.Parse(req.SourceWalletID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "exchange/invalid-wallet", "invalid source_wallet_id")
		return
	}
	destID, err := uuid.Parse(req.DestWalletID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "exchange/invalid-wallet", "invalid destination_wallet_id")
		return
	}
	if req.Reference == "" {
		req.Reference = r.Header.Get("Idempotency-Key")
	}
	if req.Reference == "" {
		RespondError(w, r, http.StatusBadRequest, "exchange/missing-reference", "reference or Idempotency-Key is required")
		return
	}

	result, err := h.svc.Execute(r.Context(), service.ExecuteParams{
		UserID:         actorID,
		Role:           role,
		SourceWalletID: sourceID,
		DestWalletID:   destID,
		AmountMicros:   req.AmountMicros,
		Reference:      req.Reference,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}

// GetUsage reports the caller's limit consumption.
func (h *ExchangeHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	actorID, role, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	usage, err := h.svc.Usage(r.Context(), actorID, role)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, usage)
}

// SetRate publishes a new exchange rate. Admin only, enforced at the router.
func (h *ExchangeHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		FromCurrency string `json:"from_currency"`
		ToCurrency   string `json:"to_currency"`
		Rate         string `json:"rate"`
		MarginPct    string `json:"margin_pct"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "exchange/invalid-rate", "invalid rate")
		return
	}
	var margin *decimal.Decimal
	if req.MarginPct != "" {
		m, err := decimal.NewFromString(req.MarginPct)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "exchange/invalid-margin", "invalid margin_pct")
			return
		}
		margin = &m
	}

	row, err := h.svc.SetRate(r.Context(),
		strings.ToUpper(req.FromCurrency), strings.ToUpper(req.ToCurrency), rate, margin, actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, row)
}
