package models

import "github.com/shopspring/decimal"

// Report is an account statement: the current balance plus a page of its records.
type Report struct {
	AccountID    string          `json:"account_id"`
	Balance      decimal.Decimal `json:"balance"`
	Transactions []Transaction   `json:"transactions"`
}
