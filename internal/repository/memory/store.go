// Package memory is an in-process store. Units of work are optimistic: they read
// account versions and fail to commit with repository.ErrConflict when another
// unit changed one of those accounts first.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/ledger-service/internal/models"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
)

type Store struct {
	mu        sync.RWMutex
	users     map[string]models.User
	accounts  map[string]models.Account
	txns      map[string]models.Transaction
	order     []string          // txn ids in insert order
	paidLoans map[string]string // loan id -> loan_paid txn id
	audit     []models.AuditLog
	now       func() time.Time
}

func New() *Store {
	return &Store{
		users:     make(map[string]models.User),
		accounts:  make(map[string]models.Account),
		txns:      make(map[string]models.Transaction),
		paidLoans: make(map[string]string),
		now:       time.Now,
	}
}

func NewRepositories(s *Store) repo.Repositories {
	return repo.Repositories{
		Users:        &usersRepo{s},
		Accounts:     &accountsRepo{s},
		Transactions: &transactionsRepo{s},
		AuditLogs:    &auditLogsRepo{s},
		Ledger:       &ledgerRepo{s},
	}
}

// AuditLogs returns a copy of every audit entry written so far.
func (s *Store) AuditLogs() []models.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

// withOwner must be called with s.mu held.
func (s *Store) withOwner(a models.Account) models.Account {
	if u, ok := s.users[a.UserID]; ok {
		a.Username = u.Username
		a.Email = u.Email
	}
	return a
}

// ----------------- users -----------------

type usersRepo struct{ s *Store }

func (r *usersRepo) GetByID(_ context.Context, id string) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, repo.ErrNotFound)
	}
	return u, nil
}

func (r *usersRepo) GetByUsername(_ context.Context, username string) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("user %q: %w", username, repo.ErrNotFound)
}

// ----------------- accounts -----------------

type accountsRepo struct{ s *Store }

func (r *accountsRepo) Open(_ context.Context, u models.User, a models.Account) (models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return models.Account{}, fmt.Errorf("username %q: %w", u.Username, repo.ErrDuplicate)
		}
	}
	for _, existing := range r.s.accounts {
		if existing.AccountNo == a.AccountNo {
			return models.Account{}, fmt.Errorf("account no %s: %w", a.AccountNo, repo.ErrDuplicate)
		}
	}

	now := r.s.now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = now
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.UserID = u.ID
	a.Version = 1
	a.CreatedAt, a.UpdatedAt = now, now

	r.s.users[u.ID] = u
	r.s.accounts[a.ID] = a
	return r.s.withOwner(a), nil
}

func (r *accountsRepo) GetByID(_ context.Context, id string) (models.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, repo.ErrNotFound)
	}
	return r.s.withOwner(a), nil
}

func (r *accountsRepo) GetByUserID(_ context.Context, userID string) (models.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.accounts {
		if a.UserID == userID {
			return r.s.withOwner(a), nil
		}
	}
	return models.Account{}, fmt.Errorf("account of user %s: %w", userID, repo.ErrNotFound)
}

func (r *accountsRepo) FindByIdentifier(_ context.Context, identifier string) (models.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if !strings.EqualFold(u.Username, identifier) {
			continue
		}
		for _, a := range r.s.accounts {
			if a.UserID == u.ID {
				return r.s.withOwner(a), nil
			}
		}
	}
	for _, a := range r.s.accounts {
		if a.AccountNo == identifier {
			return r.s.withOwner(a), nil
		}
	}
	return models.Account{}, fmt.Errorf("account %q: %w", identifier, repo.ErrNotFound)
}

// ----------------- transactions -----------------

type transactionsRepo struct{ s *Store }

func (r *transactionsRepo) GetByID(_ context.Context, id string) (models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.txns[id]
	if !ok {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
	}
	return t, nil
}

func (r *transactionsRepo) List(_ context.Context, accountID string, f repo.TxFilter) ([]models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []models.Transaction{}
	skipped := 0
	for i := len(r.s.order) - 1; i >= 0; i-- {
		t := r.s.txns[r.s.order[i]]
		if t.AccountID != accountID {
			continue
		}
		if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *transactionsRepo) ListLoans(_ context.Context, accountID string) ([]models.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []models.Transaction{}
	for i := len(r.s.order) - 1; i >= 0; i-- {
		t := r.s.txns[r.s.order[i]]
		if t.AccountID == accountID && t.Kind == models.KindLoan {
			out = append(out, t)
		}
	}
	return out, nil
}

// ----------------- audit -----------------

type auditLogsRepo struct{ s *Store }

func (r *auditLogsRepo) Create(_ context.Context, l models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.s.now().UTC()
	}
	r.s.audit = append(r.s.audit, l)
	return nil
}

// ----------------- ledger -----------------

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) WithTx(ctx context.Context, fn func(repo.LedgerTx) error) error {
	tx := &ledgerTx{
		s:         r.s,
		read:      make(map[string]int64),
		staged:    make(map[string]models.Account),
		approvals: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.s.commit(tx)
}

func (s *Store) commit(tx *ledgerTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seen := range tx.read {
		cur, ok := s.accounts[id]
		if !ok || cur.Version != seen {
			return fmt.Errorf("account %s: %w", id, repo.ErrConflict)
		}
	}
	for id := range tx.approvals {
		if s.txns[id].LoanApproved {
			return fmt.Errorf("loan %s: %w", id, repo.ErrConflict)
		}
	}
	for _, t := range tx.inserts {
		if t.Kind == models.KindLoanPaid && t.LoanID != nil {
			if _, paid := s.paidLoans[*t.LoanID]; paid {
				return fmt.Errorf("loan %s: %w", *t.LoanID, repo.ErrConflict)
			}
		}
	}

	// validated; apply everything
	ids := make([]string, 0, len(tx.staged))
	for id := range tx.staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := tx.staged[id]
		a.Username, a.Email = "", ""
		s.accounts[id] = a
	}
	for id := range tx.approvals {
		t := s.txns[id]
		t.LoanApproved = true
		s.txns[id] = t
	}
	for _, t := range tx.inserts {
		s.txns[t.ID] = t
		s.order = append(s.order, t.ID)
		if t.Kind == models.KindLoanPaid && t.LoanID != nil {
			s.paidLoans[*t.LoanID] = t.ID
		}
	}
	return nil
}

type ledgerTx struct {
	s         *Store
	read      map[string]int64
	staged    map[string]models.Account
	inserts   []models.Transaction
	approvals map[string]bool
}

func (tx *ledgerTx) ForUpdate(_ context.Context, ids ...string) (map[string]models.Account, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	out := make(map[string]models.Account, len(ids))
	for _, id := range ids {
		if a, ok := tx.staged[id]; ok {
			out[id] = a
			continue
		}
		a, ok := tx.s.accounts[id]
		if !ok {
			return nil, fmt.Errorf("account %s: %w", id, repo.ErrNotFound)
		}
		if _, seen := tx.read[id]; !seen {
			tx.read[id] = a.Version
		}
		out[id] = tx.s.withOwner(a)
	}
	return out, nil
}

func (tx *ledgerTx) SetBalance(_ context.Context, accountID string, balance decimal.Decimal) (models.Account, error) {
	seen, ok := tx.read[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s was not loaded for update", accountID)
	}
	if balance.IsNegative() {
		return models.Account{}, fmt.Errorf("account %s: balance would become %s", accountID, balance)
	}
	a, ok := tx.staged[accountID]
	if !ok {
		tx.s.mu.RLock()
		a = tx.s.withOwner(tx.s.accounts[accountID])
		tx.s.mu.RUnlock()
	}
	a.Balance = balance
	a.Version = seen + 1
	a.UpdatedAt = tx.s.now().UTC()
	tx.staged[accountID] = a
	return a, nil
}

func (tx *ledgerTx) InsertTransaction(_ context.Context, t models.Transaction) (models.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tx.s.now().UTC()
	}
	tx.inserts = append(tx.inserts, t)
	return t, nil
}

func (tx *ledgerTx) TransactionForUpdate(_ context.Context, id string) (models.Transaction, error) {
	for _, t := range tx.inserts {
		if t.ID == id {
			return t, nil
		}
	}
	tx.s.mu.RLock()
	t, ok := tx.s.txns[id]
	tx.s.mu.RUnlock()
	if !ok {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, repo.ErrNotFound)
	}
	if tx.approvals[id] {
		t.LoanApproved = true
	}
	return t, nil
}

func (tx *ledgerTx) ApproveLoan(_ context.Context, loanID string) error {
	tx.approvals[loanID] = true
	return nil
}

func (tx *ledgerTx) CountApprovedLoans(_ context.Context, accountID string) (int, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	n := 0
	for _, t := range tx.s.txns {
		if t.AccountID == accountID && t.Kind == models.KindLoan && t.LoanApproved {
			n++
		}
	}
	return n, nil
}

func (tx *ledgerTx) LoanPaid(_ context.Context, loanID string) (bool, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	_, paid := tx.s.paidLoans[loanID]
	return paid, nil
}
