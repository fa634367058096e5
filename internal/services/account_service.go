package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/ledger-service/internal/auth"
	"github.com/baharkarakas/ledger-service/internal/models"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
)

const (
	accountNoDigits = 10
	openAttempts    = 5
)

// AccountService is the account directory: sign-up, login and lookups.
type AccountService struct {
	repos  repo.Repositories
	tokens *auth.TokenManager
	log    *slog.Logger
	admins map[string]bool
}

// NewAccountService opens accounts for the listed usernames with the admin role.
func NewAccountService(repos repo.Repositories, tokens *auth.TokenManager, log *slog.Logger, admins ...string) *AccountService {
	s := &AccountService{repos: repos, tokens: tokens, log: log, admins: map[string]bool{}}
	for _, a := range admins {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			s.admins[a] = true
		}
	}
	return s
}

func newAccountNo() (string, error) {
	var b strings.Builder
	for i := 0; i < accountNoDigits; i++ {
		lo := int64(0)
		if i == 0 {
			lo = 1
		}
		n, err := rand.Int(rand.Reader, big.NewInt(10-lo))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + lo + n.Int64()))
	}
	return b.String(), nil
}

// OpenAccount registers a user with an empty account under a fresh account number.
func (s *AccountService) OpenAccount(ctx context.Context, username, email, password string) (models.Account, error) {
	u := models.User{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Role:     models.RoleUser,
	}
	if err := u.Validate(); err != nil {
		return models.Account{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if s.admins[strings.ToLower(u.Username)] {
		u.Role = models.RoleAdmin
	}
	if _, err := s.repos.Users.GetByUsername(ctx, u.Username); err == nil {
		return models.Account{}, fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.Account{}, err
	}
	u.PasswordHash = hash

	// a clash is either the username (final) or the random account number (retry)
	for i := 0; i < openAttempts; i++ {
		no, err := newAccountNo()
		if err != nil {
			return models.Account{}, err
		}
		a, err := s.repos.Accounts.Open(ctx, u, models.Account{AccountNo: no, Balance: decimal.Zero})
		if err == nil {
			s.log.Info("account opened", "account_id", a.ID, "user_id", a.UserID)
			return a, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return models.Account{}, err
		}
		if _, uerr := s.repos.Users.GetByUsername(ctx, u.Username); uerr == nil {
			return models.Account{}, fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
		}
	}
	return models.Account{}, fmt.Errorf("open account: no free account number after %d attempts", openAttempts)
}

func (s *AccountService) Login(ctx context.Context, username, password string) (auth.Pair, error) {
	u, err := s.repos.Users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return auth.Pair{}, ErrInvalidCredentials
	}
	if err != nil {
		return auth.Pair{}, err
	}
	if err := auth.VerifyPassword(password, u.PasswordHash); err != nil {
		return auth.Pair{}, ErrInvalidCredentials
	}
	a, err := s.repos.Accounts.GetByUserID(ctx, u.ID)
	if err != nil {
		return auth.Pair{}, err
	}
	return s.tokens.GeneratePair(u.ID, a.ID, u.Role)
}

// Refresh trades a valid refresh token for a new pair.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (auth.Pair, error) {
	c, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return auth.Pair{}, ErrInvalidCredentials
	}
	u, err := s.repos.Users.GetByID(ctx, c.UserID)
	if err != nil {
		return auth.Pair{}, ErrInvalidCredentials
	}
	return s.tokens.GeneratePair(u.ID, c.AccountID, u.Role)
}

func (s *AccountService) Current(ctx context.Context, accountID string) (models.Account, error) {
	a, err := s.repos.Accounts.GetByID(ctx, accountID)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return a, err
}

// ResolveRecipient matches a username first, then an account number.
func (s *AccountService) ResolveRecipient(ctx context.Context, identifier string) (models.Account, error) {
	a, err := s.repos.Accounts.FindByIdentifier(ctx, strings.TrimSpace(identifier))
	if errors.Is(err, repo.ErrNotFound) {
		return models.Account{}, fmt.Errorf("%w: %q", ErrRecipientNotFound, identifier)
	}
	return a, err
}
