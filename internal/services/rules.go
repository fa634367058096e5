package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rule vets an amount against the balance read under lock.
type Rule func(balance, amount decimal.Decimal) error

var (
	depositMin  = decimal.NewFromInt(100)
	withdrawMin = decimal.NewFromInt(500)
	withdrawMax = decimal.NewFromInt(20000)
)

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func MinDeposit(_, amount decimal.Decimal) error {
	if amount.LessThan(depositMin) {
		return fmt.Errorf("%w: deposit must be at least %s", ErrAmountBelowMinimum, depositMin)
	}
	return nil
}

func WithdrawLimits(balance, amount decimal.Decimal) error {
	switch {
	case amount.LessThan(withdrawMin):
		return fmt.Errorf("%w: withdrawal must be at least %s", ErrAmountBelowMinimum, withdrawMin)
	case amount.GreaterThan(withdrawMax):
		return fmt.Errorf("%w: withdrawal must be at most %s", ErrAmountAboveMaximum, withdrawMax)
	case amount.GreaterThan(balance):
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, balance, amount)
	}
	return nil
}

// Repayment requires the balance to cover the loan being paid back. A balance equal to
// the loan is enough.
func Repayment(balance, amount decimal.Decimal) error {
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, loan %s", ErrInsufficientBalance, balance, amount)
	}
	return nil
}
