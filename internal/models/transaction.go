package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit     TransactionKind = "deposit"
	KindWithdrawal  TransactionKind = "withdrawal"
	KindLoan        TransactionKind = "loan"
	KindLoanPaid    TransactionKind = "loan_paid"
	KindTransferOut TransactionKind = "transfer_out"
	KindTransferIn  TransactionKind = "transfer_in"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindLoan, KindLoanPaid, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

// Transaction is an immutable record of one balance-affecting event on one account.
// BalanceAfter is the account balance captured when the record was written.
// Loan records additionally allow LoanApproved to flip once.
type Transaction struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Kind           TransactionKind `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after_transaction"`
	LoanApproved   bool            `json:"loan_approved"`
	TransferID     *string         `json:"transfer_id,omitempty"`
	CounterpartyID *string         `json:"counterparty_id,omitempty"`
	LoanID         *string         `json:"loan_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (t Transaction) IsLoan() bool { return t.Kind == KindLoan }
