package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/ledger-service/internal/models"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
)

type ledgerRepo struct{ pool *pgxpool.Pool }

// WithTx runs fn inside a serializable transaction. Serialization failures surface as
// repo.ErrConflict so the caller can retry the whole unit.
func (r *ledgerRepo) WithTx(ctx context.Context, fn func(repo.LedgerTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return mapErr(err, "ledger: begin")
	}
	lt := &ledgerTx{tx: tx, locked: map[string]models.Account{}}
	if err := fn(lt); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return mapErr(tx.Commit(ctx), "ledger: commit")
}

type ledgerTx struct {
	tx     pgx.Tx
	locked map[string]models.Account
}

// ForUpdate row-locks the accounts in id order so two units never wait on each other in a cycle.
func (t *ledgerTx) ForUpdate(ctx context.Context, ids ...string) (map[string]models.Account, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]models.Account, len(sorted))
	for _, id := range sorted {
		if _, dup := out[id]; dup {
			continue
		}
		a, err := scanAccount(t.tx.QueryRow(ctx, accountSelect+` WHERE a.id=$1 FOR UPDATE OF a`, id))
		if err != nil {
			return nil, mapErr(err, "lock account %s", id)
		}
		t.locked[id] = a
		out[id] = a
	}
	return out, nil
}

func (t *ledgerTx) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) (models.Account, error) {
	a, ok := t.locked[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("set balance of %s: account not locked in this unit", accountID)
	}
	if balance.IsNegative() {
		return models.Account{}, fmt.Errorf("set balance of %s: negative balance %s", accountID, balance)
	}
	err := t.tx.QueryRow(ctx,
		`UPDATE accounts SET balance=$2, version=version+1, updated_at=now()
		  WHERE id=$1 AND version=$3
		  RETURNING balance, version, updated_at`,
		accountID, balance, a.Version,
	).Scan(&a.Balance, &a.Version, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, fmt.Errorf("set balance of %s: %w", accountID, repo.ErrConflict)
	}
	if err != nil {
		return models.Account{}, mapErr(err, "set balance of %s", accountID)
	}
	t.locked[accountID] = a
	return a, nil
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, m models.Transaction) (models.Transaction, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions(id, account_id, kind, amount, balance_after, loan_approved,
		                          transfer_id, counterparty_id, loan_id, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ID, m.AccountID, m.Kind, m.Amount, m.BalanceAfter, m.LoanApproved,
		m.TransferID, m.CounterpartyID, m.LoanID, m.CreatedAt,
	)
	if err != nil {
		// a second repayment of the same loan trips the partial unique index
		if pgCode(err) == codeUniqueViolation && m.Kind == models.KindLoanPaid {
			return models.Transaction{}, fmt.Errorf("insert loan repayment %s: %w", *m.LoanID, repo.ErrConflict)
		}
		return models.Transaction{}, mapErr(err, "insert %s transaction", m.Kind)
	}
	return m, nil
}

func (t *ledgerTx) TransactionForUpdate(ctx context.Context, id string) (models.Transaction, error) {
	m, err := scanTransaction(t.tx.QueryRow(ctx, transactionSelect+` WHERE id=$1 FOR UPDATE`, id))
	return m, mapErr(err, "lock transaction %s", id)
}

func (t *ledgerTx) ApproveLoan(ctx context.Context, loanID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE transactions SET loan_approved=true WHERE id=$1 AND kind=$2 AND NOT loan_approved`,
		loanID, models.KindLoan)
	if err != nil {
		return mapErr(err, "approve loan %s", loanID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approve loan %s: %w", loanID, repo.ErrConflict)
	}
	return nil
}

func (t *ledgerTx) CountApprovedLoans(ctx context.Context, accountID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM transactions WHERE account_id=$1 AND kind=$2 AND loan_approved`,
		accountID, models.KindLoan).Scan(&n)
	return n, mapErr(err, "count approved loans of %s", accountID)
}

func (t *ledgerTx) LoanPaid(ctx context.Context, loanID string) (bool, error) {
	var paid bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE loan_id=$1 AND kind=$2)`,
		loanID, models.KindLoanPaid).Scan(&paid)
	return paid, mapErr(err, "check repayment of loan %s", loanID)
}
