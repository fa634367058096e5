package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/ledger-service/internal/api/httpx"
	"github.com/baharkarakas/ledger-service/internal/api/validate"
	"github.com/baharkarakas/ledger-service/internal/middleware"
	"github.com/baharkarakas/ledger-service/internal/services"
)

var statusByReason = map[string]int{
	"invalid_amount":        http.StatusBadRequest,
	"amount_below_minimum":  http.StatusBadRequest,
	"amount_above_maximum":  http.StatusBadRequest,
	"self_transfer":         http.StatusBadRequest,
	"invalid_input":         http.StatusBadRequest,
	"account_not_found":     http.StatusNotFound,
	"recipient_not_found":   http.StatusNotFound,
	"loan_not_found":        http.StatusNotFound,
	"insufficient_balance":  http.StatusUnprocessableEntity,
	"loan_limit":            http.StatusUnprocessableEntity,
	"loan_not_approved":     http.StatusUnprocessableEntity,
	"loan_already_approved": http.StatusConflict,
	"loan_already_paid":     http.StatusConflict,
	"storage_conflict":      http.StatusConflict,
	"username_taken":        http.StatusConflict,
	"invalid_credentials":   http.StatusUnauthorized,
	"canceled":              http.StatusServiceUnavailable,
	"timeout":               http.StatusServiceUnavailable,
}

// writeServiceError turns a service error into the API error envelope. Internal errors are
// logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reason := services.Reason(err)
	status, ok := statusByReason[reason]
	if !ok {
		slog.Error("request failed",
			"request_id", middleware.RequestIDFrom(r.Context()),
			"path", r.URL.Path,
			"err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
		return
	}
	httpx.WriteError(w, status, reason, err.Error(), nil)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	var errs validate.Errs
	if errors.As(err, &errs) {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "validation failed", errs)
		return
	}
	httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
}

// decode reads and validates the request body into v; on failure it answers and reports false.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httpx.DecodeJSON(r, v); err != nil {
		writeBadRequest(w, err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeBadRequest(w, err)
		return false
	}
	return true
}

func currentUser(r *http.Request) middleware.UserCtx {
	u, _ := middleware.FromCtx(r.Context())
	return u
}
