//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/baharkarakas/ledger-service/internal/db"
	"github.com/baharkarakas/ledger-service/internal/logger"
	"github.com/baharkarakas/ledger-service/internal/models"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.RunMigrations(pool, logger.Discard()))
	return pool
}

func openAccount(t *testing.T, r repo.Repositories, username, no string, balance int64) models.Account {
	t.Helper()
	a, err := r.Accounts.Open(context.Background(),
		models.User{Username: username, Email: username + "@example.com", PasswordHash: "x", Role: models.RoleUser},
		models.Account{AccountNo: no, Balance: decimal.NewFromInt(balance)},
	)
	require.NoError(t, err)
	return a
}

func TestIntegration_Ledger(t *testing.T) {
	pool := setupPool(t)
	r := NewRepositories(pool)
	ctx := context.Background()

	alice := openAccount(t, r, "alice", "1000000001", 1000)
	bob := openAccount(t, r, "bob", "1000000002", 200)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := r.Accounts.Open(ctx,
			models.User{Username: "Alice", Email: "a@b.c", PasswordHash: "x", Role: models.RoleUser},
			models.Account{AccountNo: "1000000003"})
		assert.ErrorIs(t, err, repo.ErrDuplicate)
	})

	t.Run("lookup by identifier", func(t *testing.T) {
		got, err := r.Accounts.FindByIdentifier(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, bob.ID, got.ID)
		got, err = r.Accounts.FindByIdentifier(ctx, "1000000001")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)
		_, err = r.Accounts.FindByIdentifier(ctx, "carol")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		_, err := r.Transactions.GetByID(ctx, "abc")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("transfer commits both legs", func(t *testing.T) {
		amount := decimal.NewFromInt(300)
		err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
			accs, err := tx.ForUpdate(ctx, bob.ID, alice.ID)
			if err != nil {
				return err
			}
			from, err := tx.SetBalance(ctx, alice.ID, accs[alice.ID].Balance.Sub(amount))
			if err != nil {
				return err
			}
			to, err := tx.SetBalance(ctx, bob.ID, accs[bob.ID].Balance.Add(amount))
			if err != nil {
				return err
			}
			if _, err := tx.InsertTransaction(ctx, models.Transaction{
				AccountID: alice.ID, Kind: models.KindTransferOut, Amount: amount, BalanceAfter: from.Balance,
				CounterpartyID: &bob.ID,
			}); err != nil {
				return err
			}
			_, err = tx.InsertTransaction(ctx, models.Transaction{
				AccountID: bob.ID, Kind: models.KindTransferIn, Amount: amount, BalanceAfter: to.Balance,
				CounterpartyID: &alice.ID,
			})
			return err
		})
		require.NoError(t, err)

		a, _ := r.Accounts.GetByID(ctx, alice.ID)
		b, _ := r.Accounts.GetByID(ctx, bob.ID)
		assert.True(t, a.Balance.Equal(decimal.NewFromInt(700)))
		assert.True(t, b.Balance.Equal(decimal.NewFromInt(500)))

		txs, err := r.Transactions.List(ctx, bob.ID, repo.TxFilter{})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.True(t, txs[0].BalanceAfter.Equal(decimal.NewFromInt(500)))
		require.NotNil(t, txs[0].CounterpartyID)
		assert.Equal(t, alice.ID, *txs[0].CounterpartyID)
	})

	t.Run("failed unit leaves no trace", func(t *testing.T) {
		err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
			if _, err := tx.ForUpdate(ctx, alice.ID); err != nil {
				return err
			}
			if _, err := tx.SetBalance(ctx, alice.ID, decimal.Zero); err != nil {
				return err
			}
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		a, _ := r.Accounts.GetByID(ctx, alice.ID)
		assert.True(t, a.Balance.Equal(decimal.NewFromInt(700)))
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
					accs, err := tx.ForUpdate(ctx, alice.ID)
					if err != nil {
						return err
					}
					next := accs[alice.ID].Balance.Sub(decimal.NewFromInt(100))
					if next.IsNegative() {
						return assert.AnError
					}
					_, err = tx.SetBalance(ctx, alice.ID, next)
					return err
				})
				if err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		a, _ := r.Accounts.GetByID(ctx, alice.ID)
		assert.False(t, a.Balance.IsNegative())
		assert.True(t, a.Balance.Equal(decimal.NewFromInt(700-int64(ok)*100)))
	})

	t.Run("loan repaid once", func(t *testing.T) {
		var loan models.Transaction
		require.NoError(t, r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
			var err error
			loan, err = tx.InsertTransaction(ctx, models.Transaction{
				AccountID: bob.ID, Kind: models.KindLoan, Amount: decimal.NewFromInt(50), BalanceAfter: decimal.NewFromInt(500),
			})
			return err
		}))
		require.NoError(t, r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
			return tx.ApproveLoan(ctx, loan.ID)
		}))
		err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
			return tx.ApproveLoan(ctx, loan.ID)
		})
		assert.ErrorIs(t, err, repo.ErrConflict)

		pay := func() error {
			return r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
				_, err := tx.InsertTransaction(ctx, models.Transaction{
					AccountID: bob.ID, Kind: models.KindLoanPaid, Amount: loan.Amount,
					BalanceAfter: decimal.NewFromInt(450), LoanID: &loan.ID,
				})
				return err
			})
		}
		require.NoError(t, pay())
		assert.ErrorIs(t, pay(), repo.ErrConflict)

		loans, err := r.Transactions.ListLoans(ctx, bob.ID)
		require.NoError(t, err)
		require.Len(t, loans, 1)
		assert.True(t, loans[0].LoanApproved)
	})
}
