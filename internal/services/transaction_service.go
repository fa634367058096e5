package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/ledger-service/internal/lock"
	"github.com/baharkarakas/ledger-service/internal/metrics"
	"github.com/baharkarakas/ledger-service/internal/models"
	"github.com/baharkarakas/ledger-service/internal/notify"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
	"github.com/baharkarakas/ledger-service/internal/worker"
)

// Notifier queues messages for delivery after commit.
type Notifier interface {
	Send(msgs ...notify.Message)
}

type LedgerOptions struct {
	MaxAttempts int
	RetryBase   time.Duration
}

// TransactionService owns every balance change. Each operation locks the accounts it
// touches, re-reads them inside one storage transaction, and retries the whole sequence
// when a concurrent writer gets in first.
type TransactionService struct {
	repos repo.Repositories
	locks lock.Locker
	notes Notifier
	wp    *worker.Pool
	log   *slog.Logger

	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
}

func NewTransactionService(repos repo.Repositories, locks lock.Locker, notes Notifier, wp *worker.Pool, log *slog.Logger, opts LedgerOptions) *TransactionService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &TransactionService{
		repos:       repos,
		locks:       locks,
		notes:       notes,
		wp:          wp,
		log:         log,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ----------------- Helpers -----------------

// commit runs fn under the account locks, retrying on conflicts with jittered backoff.
func (s *TransactionService) commit(ctx context.Context, op string, accountIDs []string, fn func(repo.LedgerTx) error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, backoff(s.retryBase, attempt-1)); serr != nil {
				return serr
			}
		}
		err = s.tryCommit(ctx, accountIDs, fn)
		if !errors.Is(err, ErrStorageConflict) {
			return err
		}
		metrics.StorageConflicts.Inc()
		s.log.Warn("storage conflict", "op", op, "attempt", attempt+1, "err", err)
	}
	return err
}

func (s *TransactionService) tryCommit(ctx context.Context, accountIDs []string, fn func(repo.LedgerTx) error) error {
	unlock, err := s.locks.Lock(ctx, accountIDs...)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("%w: %w", ErrStorageConflict, err)
		}
		return err
	}
	defer unlock()

	err = s.repos.Ledger.WithTx(ctx, fn)
	if errors.Is(err, repo.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrStorageConflict, err)
	}
	return err
}

// lockAccounts loads accounts for update, mapping a vanished row to notFound.
func lockAccounts(ctx context.Context, tx repo.LedgerTx, notFound error, ids ...string) (map[string]models.Account, error) {
	accs, err := tx.ForUpdate(ctx, ids...)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", notFound, err)
	}
	return accs, err
}

func (s *TransactionService) account(ctx context.Context, id string) (models.Account, error) {
	a, err := s.repos.Accounts.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return a, err
}

func (s *TransactionService) audit(entityType, entityID, action string, details map[string]any) {
	l := models.AuditLog{EntityType: entityType, EntityID: entityID, Action: action, Details: details}
	ok := s.wp.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repos.AuditLogs.Create(ctx, l); err != nil {
			s.log.Warn("audit log failed", "entity_id", entityID, "action", action, "err", err)
		}
	})
	if !ok {
		s.log.Warn("audit log dropped, queue full", "entity_id", entityID, "action", action)
	}
}

// reject counts and audits a failed operation, then hands err back.
func (s *TransactionService) reject(op, accountID string, amount decimal.Decimal, err error) error {
	reason := Reason(err)
	metrics.TransactionsRejected.WithLabelValues(reason).Inc()
	if reason == "internal" {
		s.log.Error("ledger operation failed", "op", op, "account_id", accountID, "err", err)
	} else {
		s.log.Info("ledger operation rejected", "op", op, "account_id", accountID, "reason", reason)
	}
	s.audit("account", accountID, op+"_rejected", map[string]any{
		"reason": reason,
		"amount": amount.String(),
		"error":  err.Error(),
	})
	return err
}

// ----------------- TRANSFER -----------------

type TransferCommand struct {
	SenderAccountID string
	// Recipient is a username or an account number.
	Recipient string
	Amount    decimal.Decimal
}

type TransferResult struct {
	SenderTransaction    models.Transaction `json:"sender_transaction"`
	RecipientTransaction models.Transaction `json:"recipient_transaction"`
}

// Transfer moves Amount from the sender to the recipient and writes one record per side.
// Either both balances and both records are committed or nothing is.
func (s *TransactionService) Transfer(ctx context.Context, cmd TransferCommand) (TransferResult, error) {
	const op = "transfer"
	if err := validAmount(cmd.Amount); err != nil {
		return TransferResult{}, s.reject(op, cmd.SenderAccountID, cmd.Amount, err)
	}
	sender, err := s.account(ctx, cmd.SenderAccountID)
	if err != nil {
		return TransferResult{}, s.reject(op, cmd.SenderAccountID, cmd.Amount, err)
	}
	recipient, err := s.repos.Accounts.FindByIdentifier(ctx, cmd.Recipient)
	if errors.Is(err, repo.ErrNotFound) {
		err = fmt.Errorf("%w: %q", ErrRecipientNotFound, cmd.Recipient)
	}
	if err != nil {
		return TransferResult{}, s.reject(op, sender.ID, cmd.Amount, err)
	}
	if recipient.ID == sender.ID {
		return TransferResult{}, s.reject(op, sender.ID, cmd.Amount, ErrSelfTransfer)
	}

	var res TransferResult
	err = s.commit(ctx, op, []string{sender.ID, recipient.ID}, func(tx repo.LedgerTx) error {
		accs, err := lockAccounts(ctx, tx, ErrAccountNotFound, sender.ID, recipient.ID)
		if err != nil {
			return err
		}
		from, to := accs[sender.ID], accs[recipient.ID]
		if !from.Covers(cmd.Amount) {
			return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, from.Balance, cmd.Amount)
		}

		from, err = tx.SetBalance(ctx, from.ID, from.Balance.Sub(cmd.Amount))
		if err != nil {
			return err
		}
		to, err = tx.SetBalance(ctx, to.ID, to.Balance.Add(cmd.Amount))
		if err != nil {
			return err
		}

		transferID := uuid.NewString()
		at := s.now()
		out, err := tx.InsertTransaction(ctx, models.Transaction{
			AccountID:      from.ID,
			Kind:           models.KindTransferOut,
			Amount:         cmd.Amount,
			BalanceAfter:   from.Balance,
			TransferID:     &transferID,
			CounterpartyID: &to.ID,
			CreatedAt:      at,
		})
		if err != nil {
			return err
		}
		in, err := tx.InsertTransaction(ctx, models.Transaction{
			AccountID:      to.ID,
			Kind:           models.KindTransferIn,
			Amount:         cmd.Amount,
			BalanceAfter:   to.Balance,
			TransferID:     &transferID,
			CounterpartyID: &from.ID,
			CreatedAt:      at,
		})
		if err != nil {
			return err
		}
		res = TransferResult{SenderTransaction: out, RecipientTransaction: in}
		return nil
	})
	if err != nil {
		return TransferResult{}, s.reject(op, sender.ID, cmd.Amount, err)
	}

	metrics.TransactionsTotal.WithLabelValues(op).Inc()
	s.log.Info("transfer committed",
		"transfer_id", *res.SenderTransaction.TransferID,
		"from", sender.ID, "to", recipient.ID, "amount", cmd.Amount.String())
	s.notes.Send(notify.Transferred(sender, recipient, cmd.Amount)...)
	return res, nil
}

// ----------------- SINGLE ACCOUNT -----------------

// Mutation describes a single-account change: Delta is applied to the balance (it may be
// zero), Check vets the amount against the locked balance and Guard runs any extra
// checks inside the unit of work before anything is written.
type Mutation struct {
	AccountID    string
	Kind         models.TransactionKind
	Amount       decimal.Decimal
	Delta        decimal.Decimal
	Check        Rule
	Guard        func(ctx context.Context, tx repo.LedgerTx) error
	LoanApproved bool
	LoanID       *string
}

// Apply commits m as one balance write plus one record, then notifies the owner.
func (s *TransactionService) Apply(ctx context.Context, m Mutation) (models.Transaction, error) {
	op := string(m.Kind)
	if err := validAmount(m.Amount); err != nil {
		return models.Transaction{}, s.reject(op, m.AccountID, m.Amount, err)
	}
	acc, err := s.account(ctx, m.AccountID)
	if err != nil {
		return models.Transaction{}, s.reject(op, m.AccountID, m.Amount, err)
	}

	var out models.Transaction
	err = s.commit(ctx, op, []string{m.AccountID}, func(tx repo.LedgerTx) error {
		if m.Guard != nil {
			if err := m.Guard(ctx, tx); err != nil {
				return err
			}
		}
		accs, err := lockAccounts(ctx, tx, ErrAccountNotFound, m.AccountID)
		if err != nil {
			return err
		}
		cur := accs[m.AccountID]
		if m.Check != nil {
			if err := m.Check(cur.Balance, m.Amount); err != nil {
				return err
			}
		}
		next := cur.Balance.Add(m.Delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, cur.Balance, m.Amount)
		}
		if !m.Delta.IsZero() {
			if _, err := tx.SetBalance(ctx, cur.ID, next); err != nil {
				return err
			}
		}
		out, err = tx.InsertTransaction(ctx, models.Transaction{
			AccountID:    cur.ID,
			Kind:         m.Kind,
			Amount:       m.Amount,
			BalanceAfter: next,
			LoanApproved: m.LoanApproved,
			LoanID:       m.LoanID,
			CreatedAt:    s.now(),
		})
		return err
	})
	if err != nil {
		return models.Transaction{}, s.reject(op, m.AccountID, m.Amount, err)
	}

	metrics.TransactionsTotal.WithLabelValues(op).Inc()
	s.log.Info("ledger operation committed", "op", op, "account_id", acc.ID, "amount", m.Amount.String())
	s.notes.Send(notify.Single(acc, out))
	return out, nil
}

func (s *TransactionService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (models.Transaction, error) {
	return s.Apply(ctx, Mutation{
		AccountID: accountID,
		Kind:      models.KindDeposit,
		Amount:    amount,
		Delta:     amount,
		Check:     MinDeposit,
	})
}

func (s *TransactionService) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (models.Transaction, error) {
	return s.Apply(ctx, Mutation{
		AccountID: accountID,
		Kind:      models.KindWithdrawal,
		Amount:    amount,
		Delta:     amount.Neg(),
		Check:     WithdrawLimits,
	})
}

// ----------------- LOANS -----------------

const maxApprovedLoans = 3

// RequestLoan records a pending loan. The balance moves only once it is approved.
func (s *TransactionService) RequestLoan(ctx context.Context, accountID string, amount decimal.Decimal) (models.Transaction, error) {
	return s.Apply(ctx, Mutation{
		AccountID: accountID,
		Kind:      models.KindLoan,
		Amount:    amount,
		Delta:     decimal.Zero,
		Guard: func(ctx context.Context, tx repo.LedgerTx) error {
			n, err := tx.CountApprovedLoans(ctx, accountID)
			if err != nil {
				return err
			}
			if n >= maxApprovedLoans {
				return fmt.Errorf("%w: %d approved loans", ErrLoanLimit, n)
			}
			return nil
		},
	})
}

func (s *TransactionService) loan(ctx context.Context, loanID string) (models.Transaction, error) {
	if _, err := uuid.Parse(loanID); err != nil {
		return models.Transaction{}, fmt.Errorf("%w: %s", ErrLoanNotFound, loanID)
	}
	l, err := s.repos.Transactions.GetByID(ctx, loanID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !l.IsLoan()) {
		return models.Transaction{}, fmt.Errorf("%w: %s", ErrLoanNotFound, loanID)
	}
	return l, err
}

// ApproveLoan flips the loan's approval flag and credits its amount in one unit of work.
func (s *TransactionService) ApproveLoan(ctx context.Context, loanID string) (models.Transaction, error) {
	const op = "loan_approve"
	l, err := s.loan(ctx, loanID)
	if err != nil {
		return models.Transaction{}, s.reject(op, "", decimal.Zero, err)
	}
	acc, err := s.account(ctx, l.AccountID)
	if err != nil {
		return models.Transaction{}, s.reject(op, l.AccountID, l.Amount, err)
	}

	var balance decimal.Decimal
	err = s.commit(ctx, op, []string{l.AccountID}, func(tx repo.LedgerTx) error {
		cur, err := tx.TransactionForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if cur.LoanApproved {
			return fmt.Errorf("%w: %s", ErrLoanAlreadyApproved, loanID)
		}
		n, err := tx.CountApprovedLoans(ctx, cur.AccountID)
		if err != nil {
			return err
		}
		if n >= maxApprovedLoans {
			return fmt.Errorf("%w: %d approved loans", ErrLoanLimit, n)
		}
		accs, err := lockAccounts(ctx, tx, ErrAccountNotFound, cur.AccountID)
		if err != nil {
			return err
		}
		updated, err := tx.SetBalance(ctx, cur.AccountID, accs[cur.AccountID].Balance.Add(cur.Amount))
		if err != nil {
			return err
		}
		balance = updated.Balance
		return tx.ApproveLoan(ctx, loanID)
	})
	if err != nil {
		return models.Transaction{}, s.reject(op, l.AccountID, l.Amount, err)
	}

	l.LoanApproved = true
	metrics.TransactionsTotal.WithLabelValues(op).Inc()
	s.audit("loan", l.ID, "approved", map[string]any{"account_id": l.AccountID, "amount": l.Amount.String()})
	s.log.Info("loan approved", "loan_id", l.ID, "account_id", l.AccountID)

	msg := l
	msg.BalanceAfter = balance
	s.notes.Send(notify.Single(acc, msg))
	return l, nil
}

// PayLoan settles an approved loan of the account in full.
func (s *TransactionService) PayLoan(ctx context.Context, accountID, loanID string) (models.Transaction, error) {
	l, err := s.loan(ctx, loanID)
	if err == nil && l.AccountID != accountID {
		err = fmt.Errorf("%w: %s", ErrLoanNotFound, loanID)
	}
	if err != nil {
		return models.Transaction{}, s.reject(string(models.KindLoanPaid), accountID, decimal.Zero, err)
	}

	out, err := s.Apply(ctx, Mutation{
		AccountID: accountID,
		Kind:      models.KindLoanPaid,
		Amount:    l.Amount,
		Delta:     l.Amount.Neg(),
		Check:     Repayment,
		LoanID:    &l.ID,
		Guard: func(ctx context.Context, tx repo.LedgerTx) error {
			cur, err := tx.TransactionForUpdate(ctx, loanID)
			if err != nil {
				return err
			}
			if !cur.LoanApproved {
				return fmt.Errorf("%w: %s", ErrLoanNotApproved, loanID)
			}
			paid, err := tx.LoanPaid(ctx, loanID)
			if err != nil {
				return err
			}
			if paid {
				return fmt.Errorf("%w: %s", ErrLoanAlreadyPaid, loanID)
			}
			return nil
		},
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.audit("loan", l.ID, "paid", map[string]any{"account_id": accountID, "amount": l.Amount.String()})
	return out, nil
}

func (s *TransactionService) ListLoans(ctx context.Context, accountID string) ([]models.Transaction, error) {
	return s.repos.Transactions.ListLoans(ctx, accountID)
}

// ----------------- REPORT -----------------

// ReportFilter selects whole days: From and To are both inclusive. Zero means unbounded.
type ReportFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (s *TransactionService) Report(ctx context.Context, accountID string, f ReportFilter) (models.Report, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return models.Report{}, fmt.Errorf("%w: end date before start date", ErrInvalidInput)
	}
	acc, err := s.account(ctx, accountID)
	if err != nil {
		return models.Report{}, err
	}
	q := repo.TxFilter{Limit: f.Limit, Offset: f.Offset}
	if !f.From.IsZero() {
		q.From = startOfDay(f.From)
	}
	if !f.To.IsZero() {
		q.To = startOfDay(f.To).AddDate(0, 0, 1)
	}
	txs, err := s.repos.Transactions.List(ctx, accountID, q)
	if err != nil {
		return models.Report{}, err
	}
	return models.Report{AccountID: acc.ID, Balance: acc.Balance, Transactions: txs}, nil
}
