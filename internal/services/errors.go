package services

import (
	"context"
	"errors"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimals")
	ErrAccountNotFound     = errors.New("account not found")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrSelfTransfer        = errors.New("cannot transfer to the same account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStorageConflict is returned once retries against concurrent writers are exhausted.
	ErrStorageConflict    = errors.New("concurrent modification, try again")
	ErrAmountBelowMinimum = errors.New("amount below minimum")
	ErrAmountAboveMaximum = errors.New("amount above maximum")

	ErrLoanLimit           = errors.New("approved loan limit reached")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrLoanNotApproved     = errors.New("loan is not approved")
	ErrLoanAlreadyApproved = errors.New("loan already approved")
	ErrLoanAlreadyPaid     = errors.New("loan already paid")

	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrRecipientNotFound, "recipient_not_found"},
	{ErrSelfTransfer, "self_transfer"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrStorageConflict, "storage_conflict"},
	{ErrAmountBelowMinimum, "amount_below_minimum"},
	{ErrAmountAboveMaximum, "amount_above_maximum"},
	{ErrLoanLimit, "loan_limit"},
	{ErrLoanNotFound, "loan_not_found"},
	{ErrLoanNotApproved, "loan_not_approved"},
	{ErrLoanAlreadyApproved, "loan_already_approved"},
	{ErrLoanAlreadyPaid, "loan_already_paid"},
	{ErrUsernameTaken, "username_taken"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrInvalidInput, "invalid_input"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "timeout"},
}

// Reason maps an error to a stable code for metrics labels and API responses.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "internal"
}
