package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sewapay/paycore/internal/api/middleware"
	"github.com/sewapay/paycore/internal/api/problem"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/models"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, "", errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, "", errors.New("invalid user_id in auth context")
	}

	role := middleware.UserRoleFromContext(r.Context())
	if role == "" {
		role = domain.RoleStandard
	}
	return actorID, role, nil
}

// respondServiceError maps business sentinels to problem responses. Anything
// unmapped is a 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	type mapping struct {
		target error
		status int
		slug   string
	}
	mappings := []mapping{
		{models.ErrWalletNotFound, http.StatusNotFound, "wallet/not-found"},
		{models.ErrSourceNotFound, http.StatusNotFound, "wallet/source-not-found"},
		{models.ErrDestNotFound, http.StatusNotFound, "wallet/destination-not-found"},
		{models.ErrWalletInactive, http.StatusConflict, "wallet/inactive"},
		{models.ErrInsufficientFunds, http.StatusUnprocessableEntity, "wallet/insufficient-funds"},
		{models.ErrSameCurrency, http.StatusBadRequest, "exchange/same-currency"},
		{models.ErrRateUnavailable, http.StatusUnprocessableEntity, "exchange/rate-unavailable"},
		{models.ErrLimitExceeded, http.StatusUnprocessableEntity, "exchange/limit-exceeded"},
		{models.ErrBelowMinimum, http.StatusUnprocessableEntity, "exchange/below-minimum"},
		{models.ErrAboveMaximum, http.StatusUnprocessableEntity, "exchange/above-maximum"},
		{models.ErrRefundNotFound, http.StatusNotFound, "refund/not-found"},
		{models.ErrRefundNotPending, http.StatusConflict, "refund/not-pending"},
		{models.ErrRefundNotReleased, http.StatusConflict, "refund/hold-elapsed"},
		{models.ErrCardNotFound, http.StatusNotFound, "card/not-found"},
		{models.ErrCardBlocked, http.StatusConflict, "card/blocked"},
		{models.ErrActivationMismatch, http.StatusUnprocessableEntity, "card/activation-mismatch"},
		{models.ErrIntentNotFound, http.StatusNotFound, "intent/not-found"},
		{models.ErrIntentExpired, http.StatusConflict, "intent/expired"},
		{models.ErrMethodNotAllowed, http.StatusUnprocessableEntity, "intent/method-not-allowed"},
		{models.ErrStateConflict, http.StatusConflict, "state-conflict"},
		{models.ErrNotPermitted, http.StatusForbidden, "not-permitted"},
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			RespondError(w, r, m.status, m.slug, err.Error())
			return
		}
	}
	if status, slug, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, slug, msg)
		return
	}
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

func parseUUIDParam(r *http.Request, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func queryInt32(r *http.Request, name string, fallback int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(v)
}
