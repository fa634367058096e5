package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/ledger-service/internal/api/httpx"
	"github.com/baharkarakas/ledger-service/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	dateLayout      = "2006-01-02"
)

type TransactionHandler struct {
	Txns *services.TransactionService
}

func NewTransactionHandler(txns *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{Txns: txns}
}

type amountReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferReq struct {
	Recipient string          `json:"recipient" validate:"required,max=64"`
	Amount    decimal.Decimal `json:"amount"`
}

func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountReq
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.Txns.Deposit(r.Context(), currentUser(r).AccountID, req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, tx)
}

func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountReq
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.Txns.Withdraw(r.Context(), currentUser(r).AccountID, req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, tx)
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Txns.Transfer(r.Context(), services.TransferCommand{
		SenderAccountID: currentUser(r).AccountID,
		Recipient:       req.Recipient,
		Amount:          req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

// List is the account statement: ?from=YYYY-MM-DD&to=YYYY-MM-DD&limit=&offset=
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseReportFilter(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	rep, err := h.Txns.Report(r.Context(), currentUser(r).AccountID, f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

func parseReportFilter(r *http.Request) (services.ReportFilter, error) {
	q := r.URL.Query()
	f := services.ReportFilter{Limit: defaultPageSize}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, fmt.Errorf("%s must be a date like 2006-01-02", p.name)
		}
		*p.dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}
