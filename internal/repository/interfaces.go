package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/ledger-service/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict means a concurrent writer changed a row this unit of work read.
	// The whole unit is safe to retry.
	ErrConflict = errors.New("concurrent modification")
)

type Users interface {
	GetByID(ctx context.Context, id string) (models.User, error)
	GetByUsername(ctx context.Context, username string) (models.User, error)
}

type Accounts interface {
	// Open creates the user and its account in one step.
	Open(ctx context.Context, u models.User, a models.Account) (models.Account, error)
	GetByID(ctx context.Context, id string) (models.Account, error)
	GetByUserID(ctx context.Context, userID string) (models.Account, error)
	// FindByIdentifier matches a username (case-insensitively) first, then an account number.
	FindByIdentifier(ctx context.Context, identifier string) (models.Account, error)
}

// TxFilter narrows a statement. Zero From/To means unbounded.
type TxFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

type Transactions interface {
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	// List returns records newest first.
	List(ctx context.Context, accountID string, f TxFilter) ([]models.Transaction, error)
	ListLoans(ctx context.Context, accountID string) ([]models.Transaction, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}

// Ledger runs balance mutations as one atomic unit of work.
type Ledger interface {
	// WithTx commits fn's writes together, or none of them when fn fails.
	WithTx(ctx context.Context, fn func(LedgerTx) error) error
}

// LedgerTx is the view a unit of work has of the ledger. Accounts must be loaded with
// ForUpdate before their balance is written; commit fails with ErrConflict when another
// unit changed them in between.
type LedgerTx interface {
	ForUpdate(ctx context.Context, ids ...string) (map[string]models.Account, error)
	SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) (models.Account, error)
	InsertTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)

	TransactionForUpdate(ctx context.Context, id string) (models.Transaction, error)
	ApproveLoan(ctx context.Context, loanID string) error
	CountApprovedLoans(ctx context.Context, accountID string) (int, error)
	LoanPaid(ctx context.Context, loanID string) (bool, error)
}

type Repositories struct {
	Users        Users
	Accounts     Accounts
	Transactions Transactions
	AuditLogs    AuditLogs
	Ledger       Ledger
}
