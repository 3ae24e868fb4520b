package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/service"
)

type IntentHandler struct {
	svc *service.IntentService
}

func NewIntentHandler(svc *service.IntentService) *IntentHandler {
	return &IntentHandler{svc: svc}
}

// Create opens a new payment intent. The Idempotency-Key header doubles as
// the intent's creation key.
func (h *IntentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AmountMicros       int64    `json:"amount_micros"`
		Currency           string   `json:"currency"`
		CaptureMethod      string   `json:"capture_method"`
		ConfirmationMethod string   `json:"confirmation_method"`
		AllowedMethods     []string `json:"allowed_methods"`
		IdempotencyKey     string   `json:"idempotency_key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if req.IdempotencyKey == "" {
		RespondError(w, r, http.StatusBadRequest, "intent/missing-idempotency-key", "idempotency_key or Idempotency-Key header is required")
		return
	}

	intent, err := h.svc.Create(r.Context(), service.CreateIntentParams{
		AmountMicros:       req.AmountMicros,
		Currency:           req.Currency,
		CaptureMethod:      req.CaptureMethod,
		ConfirmationMethod: req.ConfirmationMethod,
		AllowedMethods:     req.AllowedMethods,
		IdempotencyKey:     req.IdempotencyKey,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, intent)
}

// Get returns an intent by external id.
func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	intent, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, intent)
}

// GetByQR resolves a scanned QR reference to its intent.
func (h *IntentHandler) GetByQR(w http.ResponseWriter, r *http.Request) {
	intent, err := h.svc.GetByQRReference(r.Context(), chi.URLParam(r, "qr"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, intent)
}

// Confirm attaches a payment method and collects the funds.
func (h *IntentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		ClientSecret string `json:"client_secret"`
		Method       string `json:"method"`

		WalletID string `json:"wallet_id"`

		CardNumber  string `json:"card_number"`
		CVV         string `json:"cvv"`
		ExpiryMonth int32  `json:"expiry_month"`
		ExpiryYear  int32  `json:"expiry_year"`
		MerchantID  string `json:"merchant_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClientSecret == "" {
		RespondError(w, r, http.StatusBadRequest, "intent/missing-client-secret", "client_secret is required")
		return
	}

	params := service.ConfirmParams{
		ClientSecret: req.ClientSecret,
		Method:       req.Method,
		PayerUserID:  actorID,
		CardNumber:   req.CardNumber,
		CVV:          req.CVV,
		ExpiryMonth:  req.ExpiryMonth,
		ExpiryYear:   req.ExpiryYear,
	}
	if req.WalletID != "" {
		walletID, err := uuid.Parse(req.WalletID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "intent/invalid-wallet", "invalid wallet_id")
			return
		}
		params.PayerWalletID = walletID
	}
	if req.MerchantID != "" {
		merchantID, err := uuid.Parse(req.MerchantID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "intent/invalid-merchant", "invalid merchant_id")
			return
		}
		params.MerchantID = merchantID
	}

	intent, err := h.svc.Confirm(r.Context(), params)
	if err != nil {
		// A settlement failure still moved the intent; surface both.
		if intent.ExternalID != "" {
			RespondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"intent": intent,
				"error":  err.Error(),
			})
			return
		}
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, intent)
}

// Capture finalizes a requires_capture intent.
func (h *IntentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	intent, err := h.svc.Capture(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, intent)
}

// Cancel aborts a non-terminal intent.
func (h *IntentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	intent, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, intent)
}

// Events lists the lifecycle log of an intent.
func (h *IntentHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, events)
}

// Complete records an out-of-band settlement for a processing intent.
func (h *IntentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	transactionID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "intent/invalid-transaction", "invalid transaction_id")
		return
	}
	intent, err := h.svc.Complete(r.Context(), chi.URLParam(r, "id"), transactionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, intent)
}
