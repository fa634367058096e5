package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/ledger-service/internal/api/httpx"
	"github.com/baharkarakas/ledger-service/internal/services"
)

type LoanHandler struct {
	Txns *services.TransactionService
}

func NewLoanHandler(txns *services.TransactionService) *LoanHandler {
	return &LoanHandler{Txns: txns}
}

func (h *LoanHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req amountReq
	if !decode(w, r, &req) {
		return
	}
	loan, err := h.Txns.RequestLoan(r.Context(), currentUser(r).AccountID, req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, loan)
}

func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Txns.ListLoans(r.Context(), currentUser(r).AccountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *LoanHandler) Pay(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Txns.PayLoan(r.Context(), currentUser(r).AccountID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, tx)
}

// Approve is admin only; the route is guarded by RequireRole.
func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Txns.ApproveLoan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}
