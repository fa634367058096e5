package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/ledger-service/internal/models"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const transactionSelect = `
SELECT id, account_id, kind, amount, balance_after, loan_approved,
       transfer_id, counterparty_id, loan_id, created_at
  FROM transactions`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.LoanApproved,
		&t.TransferID, &t.CounterpartyID, &t.LoanID, &t.CreatedAt)
	return t, err
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	out := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, transactionSelect+` WHERE id=$1`, id))
	return t, mapErr(err, "get transaction %s", id)
}

func (r *transactionsRepo) List(ctx context.Context, accountID string, f repo.TxFilter) ([]models.Transaction, error) {
	where := []string{"account_id=$1"}
	args := []any{accountID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < "+arg(f.To))
	}

	q := transactionSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err, "list transactions of %s", accountID)
	}
	out, err := collectTransactions(rows)
	return out, mapErr(err, "list transactions of %s", accountID)
}

func (r *transactionsRepo) ListLoans(ctx context.Context, accountID string) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		transactionSelect+` WHERE account_id=$1 AND kind=$2 ORDER BY created_at DESC, id DESC`,
		accountID, models.KindLoan)
	if err != nil {
		return nil, mapErr(err, "list loans of %s", accountID)
	}
	out, err := collectTransactions(rows)
	return out, mapErr(err, "list loans of %s", accountID)
}
