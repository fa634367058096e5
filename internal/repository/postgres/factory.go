package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/baharkarakas/ledger-service/internal/repository"
)

func NewRepositories(pool *pgxpool.Pool) repo.Repositories {
	return repo.Repositories{
		Users:        &usersRepo{pool},
		Accounts:     &accountsRepo{pool},
		Transactions: &transactionsRepo{pool},
		AuditLogs:    &auditLogsRepo{pool},
		Ledger:       &ledgerRepo{pool},
	}
}

// SQLSTATE codes the ledger cares about.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	// a malformed uuid literal; no row can match it
	codeInvalidTextRepresentation = "22P02"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapErr translates driver errors into repository sentinels, keeping the cause in the chain.
func mapErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == codeInvalidTextRepresentation {
		return fmt.Errorf("%s: %w", what, repo.ErrNotFound)
	}
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%s: %w: %w", what, repo.ErrConflict, err)
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w: %w", what, repo.ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
