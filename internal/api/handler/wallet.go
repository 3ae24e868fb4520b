package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sewapay/paycore/internal/service"
)

type WalletHandler struct {
	svc *service.WalletService
}

func NewWalletHandler(svc *service.WalletService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// EnsureWallet lazily creates the caller's wallet for a currency.
func (h *WalletHandler) EnsureWallet(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		Currency string `json:"currency"`
		Type     string `json:"type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(req.Currency) != 3 {
		RespondError(w, r, http.StatusBadRequest, "wallet/invalid-currency", "currency must be a 3-letter ISO code")
		return
	}

	wallet, err := h.svc.EnsureWallet(r.Context(), actorID, req.Currency, req.Type)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, wallet)
}

// ListWallets returns all wallets of the caller.
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	wallets, err := h.svc.ListByUser(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wallets)
}

// GetBalance returns a snapshot of one wallet, owner only.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	walletID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "wallet/invalid-id", "invalid wallet id")
		return
	}

	wallet, err := h.svc.GetBalance(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if wallet.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "not-permitted", "wallet belongs to another user")
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

// GetStatement lists the wallet's ledger history.
func (h *WalletHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	walletID, ok := parseUUIDParam(r, chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "wallet/invalid-id", "invalid wallet id")
		return
	}

	wallet, err := h.svc.GetBalance(r.Context(), walletID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if wallet.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "not-permitted", "wallet belongs to another user")
		return
	}

	page := queryInt32(r, "page", 1)
	pageSize := queryInt32(r, "page_size", 20)
	txs, err := h.svc.Statement(r.Context(), walletID, page, pageSize)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, txs)
}
