package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/ledger-service/internal/models"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
)

func open(t *testing.T, r repo.Repositories, username, no string, balance int64) models.Account {
	t.Helper()
	a, err := r.Accounts.Open(context.Background(),
		models.User{Username: username, Email: username + "@example.com", Role: models.RoleUser},
		models.Account{AccountNo: no, Balance: decimal.NewFromInt(balance)},
	)
	require.NoError(t, err)
	return a
}

func TestOpenAndLookup(t *testing.T) {
	r := NewRepositories(New())
	ctx := context.Background()
	a := open(t, r, "alice", "1000000001", 10)

	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, "alice@example.com", a.Email)

	byName, err := r.Accounts.FindByIdentifier(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)

	byNo, err := r.Accounts.FindByIdentifier(ctx, "1000000001")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byNo.ID)

	_, err = r.Accounts.FindByIdentifier(ctx, "nobody")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = r.Accounts.Open(ctx, models.User{Username: "ALICE", Email: "x@y.z"}, models.Account{AccountNo: "1000000002"})
	assert.ErrorIs(t, err, repo.ErrDuplicate)
}

func TestWithTxCommitsAllWrites(t *testing.T) {
	r := NewRepositories(New())
	ctx := context.Background()
	a := open(t, r, "alice", "1", 100)

	err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		accs, err := tx.ForUpdate(ctx, a.ID)
		require.NoError(t, err)
		updated, err := tx.SetBalance(ctx, a.ID, accs[a.ID].Balance.Add(decimal.NewFromInt(50)))
		require.NoError(t, err)
		_, err = tx.InsertTransaction(ctx, models.Transaction{
			AccountID: a.ID, Kind: models.KindDeposit,
			Amount: decimal.NewFromInt(50), BalanceAfter: updated.Balance,
		})
		return err
	})
	require.NoError(t, err)

	got, err := r.Accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(2), got.Version)

	txs, err := r.Transactions.List(ctx, a.ID, repo.TxFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].BalanceAfter.Equal(decimal.NewFromInt(150)))
}

func TestWithTxDiscardsOnError(t *testing.T) {
	r := NewRepositories(New())
	ctx := context.Background()
	a := open(t, r, "alice", "1", 100)

	err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		_, _ = tx.ForUpdate(ctx, a.ID)
		_, _ = tx.SetBalance(ctx, a.ID, decimal.Zero)
		_, _ = tx.InsertTransaction(ctx, models.Transaction{AccountID: a.ID, Kind: models.KindWithdrawal})
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, _ := r.Accounts.GetByID(ctx, a.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	txs, _ := r.Transactions.List(ctx, a.ID, repo.TxFilter{})
	assert.Empty(t, txs)
}

func TestWithTxDetectsConcurrentWriter(t *testing.T) {
	r := NewRepositories(New())
	ctx := context.Background()
	a := open(t, r, "alice", "1", 100)

	err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		_, err := tx.ForUpdate(ctx, a.ID)
		require.NoError(t, err)

		// another unit of work sneaks in and commits first
		inner := r.Ledger.WithTx(ctx, func(tx2 repo.LedgerTx) error {
			_, _ = tx2.ForUpdate(ctx, a.ID)
			_, err := tx2.SetBalance(ctx, a.ID, decimal.NewFromInt(10))
			return err
		})
		require.NoError(t, inner)

		_, err = tx.SetBalance(ctx, a.ID, decimal.NewFromInt(0))
		return err
	})
	assert.ErrorIs(t, err, repo.ErrConflict)

	got, _ := r.Accounts.GetByID(ctx, a.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))
}

func TestSetBalanceRequiresForUpdate(t *testing.T) {
	r := NewRepositories(New())
	ctx := context.Background()
	a := open(t, r, "alice", "1", 100)

	err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		_, err := tx.SetBalance(ctx, a.ID, decimal.Zero)
		return err
	})
	assert.Error(t, err)

	err = r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		_, _ = tx.ForUpdate(ctx, a.ID)
		_, err := tx.SetBalance(ctx, a.ID, decimal.NewFromInt(-1))
		return err
	})
	assert.Error(t, err)
}

func TestLoanApprovalAndPayment(t *testing.T) {
	r := NewRepositories(New())
	ctx := context.Background()
	a := open(t, r, "alice", "1", 1000)

	var loan models.Transaction
	require.NoError(t, r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		var err error
		loan, err = tx.InsertTransaction(ctx, models.Transaction{
			AccountID: a.ID, Kind: models.KindLoan, Amount: decimal.NewFromInt(300), BalanceAfter: a.Balance,
		})
		return err
	}))

	require.NoError(t, r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		n, err := tx.CountApprovedLoans(ctx, a.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, tx.ApproveLoan(ctx, loan.ID))
		got, err := tx.TransactionForUpdate(ctx, loan.ID)
		require.NoError(t, err)
		assert.True(t, got.LoanApproved)
		return nil
	}))

	// approving again from a stale view conflicts
	err := r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		return tx.ApproveLoan(ctx, loan.ID)
	})
	assert.ErrorIs(t, err, repo.ErrConflict)

	require.NoError(t, r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		n, _ := tx.CountApprovedLoans(ctx, a.ID)
		assert.Equal(t, 1, n)
		_, err := tx.InsertTransaction(ctx, models.Transaction{
			AccountID: a.ID, Kind: models.KindLoanPaid, Amount: loan.Amount, LoanID: &loan.ID,
		})
		return err
	}))

	require.NoError(t, r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		paid, err := tx.LoanPaid(ctx, loan.ID)
		require.NoError(t, err)
		assert.True(t, paid)
		return nil
	}))

	loans, err := r.Transactions.ListLoans(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.True(t, loans[0].LoanApproved)
}

func TestListFiltersAndPages(t *testing.T) {
	s := New()
	r := NewRepositories(s)
	ctx := context.Background()
	a := open(t, r, "alice", "1", 0)

	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.Ledger.WithTx(ctx, func(tx repo.LedgerTx) error {
		for i := 0; i < 5; i++ {
			_, err := tx.InsertTransaction(ctx, models.Transaction{
				AccountID: a.ID, Kind: models.KindDeposit,
				Amount: decimal.NewFromInt(int64(i + 1)), CreatedAt: day.AddDate(0, 0, i),
			})
			require.NoError(t, err)
		}
		return nil
	}))

	all, err := r.Transactions.List(ctx, a.ID, repo.TxFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.True(t, all[0].Amount.Equal(decimal.NewFromInt(5)), "newest first")

	ranged, err := r.Transactions.List(ctx, a.ID, repo.TxFilter{
		From: day.AddDate(0, 0, 1).Truncate(24 * time.Hour),
		To:   day.AddDate(0, 0, 3).Truncate(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, ranged, 2)

	page, err := r.Transactions.List(ctx, a.ID, repo.TxFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].Amount.Equal(decimal.NewFromInt(4)))
}
