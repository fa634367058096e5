package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/ledger-service/internal/api/httpx"
	"github.com/baharkarakas/ledger-service/internal/auth"
	"github.com/baharkarakas/ledger-service/internal/config"
	"github.com/baharkarakas/ledger-service/internal/lock"
	"github.com/baharkarakas/ledger-service/internal/logger"
	"github.com/baharkarakas/ledger-service/internal/models"
	"github.com/baharkarakas/ledger-service/internal/notify"
	"github.com/baharkarakas/ledger-service/internal/repository/memory"
	"github.com/baharkarakas/ledger-service/internal/services"
	"github.com/baharkarakas/ledger-service/internal/worker"
)

type testAPI struct {
	t *testing.T
	h http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repos := memory.NewRepositories(memory.New())
	pool := worker.NewPool(1, 100)
	t.Cleanup(pool.Stop)
	log := logger.Discard()

	tm := auth.NewTokenManager("access", "refresh", time.Minute, time.Hour)
	accounts := services.NewAccountService(repos, tm, log, "root")
	disp := notify.NewDispatcher(notify.NewLogNotifier(log), pool, time.Second, log)
	txns := services.NewTransactionService(repos, lock.NewLocal(time.Second), disp, pool, log,
		services.LedgerOptions{MaxAttempts: 3, RetryBase: time.Millisecond})

	return &testAPI{t: t, h: NewRouter(RouterDeps{
		Cfg:      config.Config{RateRPS: 1000, RateBurst: 1000},
		Tokens:   tm,
		Accounts: accounts,
		Txns:     txns,
	})}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) signup(username string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username, "email": username + "@example.com", "password": "secret123",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username, "password": "secret123",
	})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[auth.Pair](a.t, rec).AccessToken
}

func assertCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode[httpx.APIError](t, rec).Code)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "al", "email": "nope", "password": "secret123",
	})
	assertCode(t, rec, http.StatusBadRequest, "validation_failed")

	rec = a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{"username": "alice", "extra": "x"})
	assertCode(t, rec, http.StatusBadRequest, "bad_request")

	a.signup("alice")

	rec = a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "Alice", "email": "other@example.com", "password": "secret123",
	})
	assertCode(t, rec, http.StatusConflict, "username_taken")

	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "wrong-pass"})
	assertCode(t, rec, http.StatusUnauthorized, "invalid_credentials")

	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decode[auth.Pair](t, rec)

	rec = a.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[auth.Pair](t, rec).AccessToken)

	assertCode(t, a.do(http.MethodGet, "/api/v1/accounts/me", "", nil), http.StatusUnauthorized, "unauthorized")
	assertCode(t, a.do(http.MethodGet, "/api/v1/accounts/me", pair.RefreshToken, nil), http.StatusUnauthorized, "unauthorized")

	rec = a.do(http.MethodGet, "/api/v1/accounts/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[models.Account](t, rec)
	assert.Equal(t, "alice", me.Username)
	assert.True(t, me.Balance.IsZero())
}

func TestMoneyFlow(t *testing.T) {
	a := newTestAPI(t)
	alice := a.signup("alice")
	bob := a.signup("bob")

	rec := a.do(http.MethodPost, "/api/v1/transactions/deposit", alice, map[string]string{"amount": "1000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dep := decode[models.Transaction](t, rec)
	assert.True(t, dep.BalanceAfter.Equal(decimal.NewFromInt(1000)))

	assertCode(t, a.do(http.MethodPost, "/api/v1/transactions/deposit", alice, map[string]string{"amount": "50"}),
		http.StatusBadRequest, "amount_below_minimum")

	rec = a.do(http.MethodPost, "/api/v1/transactions/transfer", alice, map[string]string{"recipient": "bob", "amount": "300"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[services.TransferResult](t, rec)
	assert.True(t, res.SenderTransaction.BalanceAfter.Equal(decimal.NewFromInt(700)))
	assert.True(t, res.RecipientTransaction.BalanceAfter.Equal(decimal.NewFromInt(300)))

	assertCode(t, a.do(http.MethodPost, "/api/v1/transactions/transfer", alice, map[string]string{"recipient": "bob", "amount": "5000"}),
		http.StatusUnprocessableEntity, "insufficient_balance")
	assertCode(t, a.do(http.MethodPost, "/api/v1/transactions/transfer", alice, map[string]string{"recipient": "alice", "amount": "1"}),
		http.StatusBadRequest, "self_transfer")
	assertCode(t, a.do(http.MethodPost, "/api/v1/transactions/transfer", alice, map[string]string{"recipient": "nobody", "amount": "1"}),
		http.StatusNotFound, "recipient_not_found")
	assertCode(t, a.do(http.MethodPost, "/api/v1/transactions/transfer", alice, map[string]string{"recipient": "bob", "amount": "-1"}),
		http.StatusBadRequest, "invalid_amount")
	assertCode(t, a.do(http.MethodPost, "/api/v1/transactions/transfer", alice, map[string]string{"amount": "1"}),
		http.StatusBadRequest, "validation_failed")

	rec = a.do(http.MethodPost, "/api/v1/transactions/withdraw", bob, map[string]string{"amount": "400"})
	assertCode(t, rec, http.StatusBadRequest, "amount_below_minimum")

	rec = a.do(http.MethodGet, "/api/v1/transactions", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[models.Report](t, rec)
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(700)))
	require.Len(t, report.Transactions, 2)
	assert.Equal(t, models.KindTransferOut, report.Transactions[0].Kind)

	today := time.Now().UTC().Format("2006-01-02")
	rec = a.do(http.MethodGet, "/api/v1/transactions?from="+today+"&to="+today+"&limit=1", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.Report](t, rec).Transactions, 1)

	assertCode(t, a.do(http.MethodGet, "/api/v1/transactions?from=yesterday", alice, nil), http.StatusBadRequest, "bad_request")

	rec = a.do(http.MethodGet, "/api/v1/accounts/lookup?identifier=bob", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"bob"`)
}

func TestLoanFlow(t *testing.T) {
	a := newTestAPI(t)
	alice := a.signup("alice")
	root := a.signup("root")

	rec := a.do(http.MethodPost, "/api/v1/loans", alice, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loan := decode[models.Transaction](t, rec)
	assert.False(t, loan.LoanApproved)

	assertCode(t, a.do(http.MethodPost, "/api/v1/loans/"+loan.ID+"/pay", alice, nil), http.StatusUnprocessableEntity, "loan_not_approved")
	assertCode(t, a.do(http.MethodPost, "/api/v1/loans/abc/pay", alice, nil), http.StatusNotFound, "loan_not_found")
	assertCode(t, a.do(http.MethodPost, "/api/v1/loans/abc/approve", root, nil), http.StatusNotFound, "loan_not_found")
	assertCode(t, a.do(http.MethodPost, "/api/v1/loans/"+loan.ID+"/approve", alice, nil), http.StatusForbidden, "forbidden")

	rec = a.do(http.MethodPost, "/api/v1/loans/"+loan.ID+"/approve", root, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[models.Transaction](t, rec).LoanApproved)
	assertCode(t, a.do(http.MethodPost, "/api/v1/loans/"+loan.ID+"/approve", root, nil), http.StatusConflict, "loan_already_approved")

	rec = a.do(http.MethodPost, "/api/v1/loans/"+loan.ID+"/pay", alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.KindLoanPaid, decode[models.Transaction](t, rec).Kind)
	assertCode(t, a.do(http.MethodPost, "/api/v1/loans/"+loan.ID+"/pay", alice, nil), http.StatusConflict, "loan_already_paid")

	rec = a.do(http.MethodGet, "/api/v1/loans", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loans := decode[[]models.Transaction](t, rec)
	require.Len(t, loans, 1)
	assert.True(t, loans[0].LoanApproved)
}
