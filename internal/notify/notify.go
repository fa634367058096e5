// Package notify delivers best-effort account notifications. Nothing here can fail a
// ledger operation: the Dispatcher runs sends on the worker pool after commit.
package notify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/ledger-service/internal/models"
)

type Template string

const (
	TplTransferSent     Template = "transfer_sent"
	TplTransferReceived Template = "transfer_received"
	TplDeposit          Template = "deposit"
	TplWithdrawal       Template = "withdrawal"
	TplLoanRequested    Template = "loan_requested"
	TplLoanApproved     Template = "loan_approved"
	TplLoanPaid         Template = "loan_paid"
)

type Message struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template Template          `json:"template"`
	Data     map[string]string `json:"data"`
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// Transferred builds the pair of messages for a committed transfer: one to each party.
func Transferred(sender, recipient models.Account, amount decimal.Decimal) []Message {
	data := map[string]string{
		"sender":    sender.Username,
		"recipient": recipient.Username,
		"amount":    money(amount),
	}
	return []Message{
		{
			To:       sender.Email,
			Subject:  fmt.Sprintf("You've transferred %s$", money(amount)),
			Template: TplTransferSent,
			Data:     data,
		},
		{
			To:       recipient.Email,
			Subject:  fmt.Sprintf("You've received %s$", money(amount)),
			Template: TplTransferReceived,
			Data:     data,
		},
	}
}

// Single builds the message for a single-account operation.
func Single(acc models.Account, t models.Transaction) Message {
	m := Message{
		To: acc.Email,
		Data: map[string]string{
			"username": acc.Username,
			"amount":   money(t.Amount),
			"balance":  money(t.BalanceAfter),
		},
	}
	switch t.Kind {
	case models.KindDeposit:
		m.Subject, m.Template = "Deposit message", TplDeposit
	case models.KindWithdrawal:
		m.Subject, m.Template = "Withdrawal message", TplWithdrawal
	case models.KindLoan:
		if t.LoanApproved {
			m.Subject, m.Template = "Loan approved", TplLoanApproved
		} else {
			m.Subject, m.Template = "Loan request message", TplLoanRequested
		}
	case models.KindLoanPaid:
		m.Subject, m.Template = "Loan paid", TplLoanPaid
	default:
		m.Subject, m.Template = "Account activity", TplDeposit
	}
	return m
}
