package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/service"
)

type RefundHandler struct {
	svc *service.RefundService
}

func NewRefundHandler(svc *service.RefundService) *RefundHandler {
	return &RefundHandler{svc: svc}
}

// Create escrows a refund from the caller's wallet.
func (h *RefundHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		SenderWalletID    string `json:"sender_wallet_id"`
		RecipientWalletID string `json:"recipient_wallet_id"`
		AmountMicros      int64  `json:"amount_micros"`
		Reason            string `json:"reason"`
		Reference         string `json:"reference"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	senderID, err := uuid.Parse(req.SenderWalletID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "refund/invalid-wallet", "invalid sender_wallet_id")
		return
	}
	recipientID, err := uuid.Parse(req.RecipientWalletID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "refund/invalid-wallet", "invalid recipient_wallet_id")
		return
	}
	if req.Reference == "" {
		req.Reference = r.Header.Get("Idempotency-Key")
	}
	if req.Reference == "" {
		RespondError(w, r, http.StatusBadRequest, "refund/missing-reference", "reference or Idempotency-Key is required")
		return
	}

	request, err := h.svc.Create(r.Context(), service.CreateRefundParams{
		ActorID:           actorID,
		SenderWalletID:    senderID,
		RecipientWalletID: recipientID,
		AmountMicros:      req.AmountMicros,
		Reason:            req.Reason,
		Reference:         req.Reference,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, request)
}

// Get returns one refund request.
func (h *RefundHandler) Get(w http.ResponseWriter, r *http.Request) {
	refundID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "refund/invalid-id", "invalid refund id")
		return
	}
	request, err := h.svc.Get(r.Context(), refundID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, request)
}

// Cancel aborts a pending refund before its hold elapses.
func (h *RefundHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actorID, role, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	refundID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "refund/invalid-id", "invalid refund id")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	request, err := h.svc.Cancel(r.Context(), refundID, actorID, role == domain.RoleAdmin, req.Reason)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, request)
}

// Sweep releases due escrows immediately. Exposed for external schedulers;
// the background sweeper does the same on its own interval.
func (h *RefundHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	released, err := h.svc.SweepDue(r.Context(), 0)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{"released": released})
}
