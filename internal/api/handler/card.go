package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/models"
	"github.com/sewapay/paycore/internal/repository"
	"github.com/sewapay/paycore/internal/service"
)

type CardHandler struct {
	svc *service.CardService
}

func NewCardHandler(svc *service.CardService) *CardHandler {
	return &CardHandler{svc: svc}
}

// Request issues a new card. The response carries the plaintext credentials
// exactly once.
func (h *CardHandler) Request(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		WalletID           string   `json:"wallet_id"`
		PerTxLimitMicros   int64    `json:"per_tx_limit_micros"`
		DailyLimitMicros   int64    `json:"daily_limit_micros"`
		WeeklyLimitMicros  int64    `json:"weekly_limit_micros"`
		MonthlyLimitMicros int64    `json:"monthly_limit_micros"`
		OnlinePayments     bool     `json:"online_payments_enabled"`
		AllowedMerchants   []string `json:"allowed_merchants"`
		BlockedMerchants   []string `json:"blocked_merchants"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-wallet", "invalid wallet_id")
		return
	}

	card, secrets, err := h.svc.Request(r.Context(), service.RequestCardParams{
		UserID:             actorID,
		WalletID:           walletID,
		PerTxLimitMicros:   req.PerTxLimitMicros,
		DailyLimitMicros:   req.DailyLimitMicros,
		WeeklyLimitMicros:  req.WeeklyLimitMicros,
		MonthlyLimitMicros: req.MonthlyLimitMicros,
		OnlinePayments:     req.OnlinePayments,
		AllowedMerchants:   req.AllowedMerchants,
		BlockedMerchants:   req.BlockedMerchants,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"card":    card,
		"secrets": secrets,
	})
}

// Activate moves a pending card to active.
func (h *CardHandler) Activate(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	cardID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-id", "invalid card id")
		return
	}

	var req struct {
		ActivationCode string `json:"activation_code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	card, err := h.svc.Activate(r.Context(), cardID, actorID, req.ActivationCode)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, card)
}

// List returns the caller's cards.
func (h *CardHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	cards, err := h.svc.List(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, cards)
}

// Get returns one card, owner only.
func (h *CardHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	cardID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-id", "invalid card id")
		return
	}
	card, err := h.svc.Get(r.Context(), cardID, actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, card)
}

// Transactions lists authorization attempts against a card.
func (h *CardHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	cardID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-id", "invalid card id")
		return
	}
	txs, err := h.svc.Transactions(r.Context(), cardID, actorID,
		queryInt32(r, "page", 1), queryInt32(r, "page_size", 20))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, txs)
}

// Freeze suspends an active card.
func (h *CardHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.withCard(w, r, h.svc.Freeze)
}

// Unfreeze reactivates a frozen card.
func (h *CardHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.withCard(w, r, h.svc.Unfreeze)
}

// Block disables a card permanently.
func (h *CardHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.withCard(w, r, h.svc.Block)
}

// Cancel retires a card.
func (h *CardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withCard(w, r, h.svc.Cancel)
}

// UpdateLimits replaces the card's spend controls.
func (h *CardHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	cardID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-id", "invalid card id")
		return
	}

	var req struct {
		PerTxLimitMicros   int64    `json:"per_tx_limit_micros"`
		DailyLimitMicros   int64    `json:"daily_limit_micros"`
		WeeklyLimitMicros  int64    `json:"weekly_limit_micros"`
		MonthlyLimitMicros int64    `json:"monthly_limit_micros"`
		OnlinePayments     bool     `json:"online_payments_enabled"`
		AllowedMerchants   []string `json:"allowed_merchants"`
		BlockedMerchants   []string `json:"blocked_merchants"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	card, err := h.svc.UpdateLimits(r.Context(), actorID, repository.UpdateCardLimitsParams{
		ID:                 cardID,
		PerTxLimitMicros:   req.PerTxLimitMicros,
		DailyLimitMicros:   req.DailyLimitMicros,
		WeeklyLimitMicros:  req.WeeklyLimitMicros,
		MonthlyLimitMicros: req.MonthlyLimitMicros,
		OnlinePayments:     req.OnlinePayments,
		AllowedMerchants:   req.AllowedMerchants,
		BlockedMerchants:   req.BlockedMerchants,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, card)
}

// Authorize runs one merchant authorization attempt. Service-role callers
// only; the route guard enforces it.
func (h *CardHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardNumber   string `json:"card_number"`
		CVV          string `json:"cvv"`
		ExpiryMonth  int32  `json:"expiry_month"`
		ExpiryYear   int32  `json:"expiry_year"`
		MerchantID   string `json:"merchant_id"`
		MerchantRef  string `json:"merchant_ref"`
		AmountMicros int64  `json:"amount_micros"`
		Online       bool   `json:"online"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-merchant", "invalid merchant_id")
		return
	}

	authTx, err := h.svc.Authorize(r.Context(), service.AuthorizeParams{
		CardNumber:   req.CardNumber,
		CVV:          req.CVV,
		ExpiryMonth:  req.ExpiryMonth,
		ExpiryYear:   req.ExpiryYear,
		MerchantID:   merchantID,
		MerchantRef:  req.MerchantRef,
		AmountMicros: req.AmountMicros,
		Online:       req.Online,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, authTx)
}

// RegisterMerchant adds a merchant to the closed loop. Admin only.
func (h *CardHandler) RegisterMerchant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Approved bool   `json:"approved"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-merchant", "merchant name is required")
		return
	}
	merchant, err := h.svc.RegisterMerchant(r.Context(), req.Name, req.Approved)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, merchant)
}

type cardAction func(ctx context.Context, cardID, userID uuid.UUID) (models.IssuedCard, error)

func (h *CardHandler) withCard(w http.ResponseWriter, r *http.Request, action cardAction) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	cardID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "card/invalid-id", "invalid card id")
		return
	}
	card, err := action(r.Context(), cardID, actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, card)
}

// Lookup previews a card for checkout. Number and CVV must both match; no
// state changes.
func (h *CardHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardNumber string `json:"card_number"`
		CVV        string `json:"cvv"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	card, err := h.svc.LookupForPayment(r.Context(), req.CardNumber, req.CVV)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, card)
}
