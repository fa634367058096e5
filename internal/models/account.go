package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a party's running balance. Version is bumped on every balance write.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	AccountNo string          `json:"account_no"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// owner fields, joined from users
	Username string `json:"username"`
	Email    string `json:"-"`
}

// Covers reports whether the balance can absorb a debit of amount.
func (a Account) Covers(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
