package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/ledger-service/internal/models"
)

type accountsRepo struct{ pool *pgxpool.Pool }

const accountSelect = `
SELECT a.id, a.user_id, a.account_no, a.balance, a.version, a.created_at, a.updated_at,
       u.username, u.email
  FROM accounts a
  JOIN users u ON u.id = a.user_id`

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.AccountNo, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt,
		&a.Username, &a.Email)
	return a, err
}

func (r *accountsRepo) Open(ctx context.Context, u models.User, a models.Account) (models.Account, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Account{}, mapErr(err, "open account: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO users(id, username, email, password_hash, role) VALUES($1,$2,$3,$4,$5)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role,
	); err != nil {
		return models.Account{}, mapErr(err, "open account: insert user %q", u.Username)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts(id, user_id, account_no, balance) VALUES($1,$2,$3,$4)`,
		a.ID, u.ID, a.AccountNo, a.Balance,
	); err != nil {
		return models.Account{}, mapErr(err, "open account: insert account %s", a.AccountNo)
	}
	out, err := scanAccount(tx.QueryRow(ctx, accountSelect+` WHERE a.id=$1`, a.ID))
	if err != nil {
		return models.Account{}, mapErr(err, "open account: reload %s", a.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Account{}, mapErr(err, "open account: commit")
	}
	return out, nil
}

func (r *accountsRepo) GetByID(ctx context.Context, id string) (models.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, accountSelect+` WHERE a.id=$1`, id))
	return a, mapErr(err, "get account %s", id)
}

func (r *accountsRepo) GetByUserID(ctx context.Context, userID string) (models.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, accountSelect+` WHERE a.user_id=$1`, userID))
	return a, mapErr(err, "get account of user %s", userID)
}

func (r *accountsRepo) FindByIdentifier(ctx context.Context, identifier string) (models.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, accountSelect+` WHERE lower(u.username)=lower($1)`, identifier))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, mapErr(err, "find account %q", identifier)
	}
	a, err = scanAccount(r.pool.QueryRow(ctx, accountSelect+` WHERE a.account_no=$1`, identifier))
	return a, mapErr(err, "find account %q", identifier)
}
