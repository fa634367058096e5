package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/ledger-service/internal/models"
)

type usersRepo struct{ pool *pgxpool.Pool }

const userSelect = `SELECT id, username, email, password_hash, role, created_at FROM users`

func (r *usersRepo) GetByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, userSelect+` WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, mapErr(err, "get user %s", id)
}

func (r *usersRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, userSelect+` WHERE lower(username)=lower($1)`, username).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, mapErr(err, "get user %q", username)
}
