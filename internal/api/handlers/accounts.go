package handlers

import (
	"net/http"

	"github.com/baharkarakas/ledger-service/internal/api/httpx"
	"github.com/baharkarakas/ledger-service/internal/services"
)

type AccountHandler struct {
	Accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{Accounts: accounts}
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Accounts.Current(r.Context(), currentUser(r).AccountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, acc)
}

type recipientView struct {
	Username  string `json:"username"`
	AccountNo string `json:"account_no"`
}

// Lookup lets a client confirm a transfer recipient before sending money.
func (h *AccountHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("identifier")
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "identifier is required", nil)
		return
	}
	acc, err := h.Accounts.ResolveRecipient(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recipientView{Username: acc.Username, AccountNo: acc.AccountNo})
}
