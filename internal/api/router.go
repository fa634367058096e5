package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/ledger-service/internal/api/handlers"
	"github.com/baharkarakas/ledger-service/internal/auth"
	"github.com/baharkarakas/ledger-service/internal/config"
	"github.com/baharkarakas/ledger-service/internal/metrics"
	"github.com/baharkarakas/ledger-service/internal/middleware"
	"github.com/baharkarakas/ledger-service/internal/models"
	"github.com/baharkarakas/ledger-service/internal/services"
)

type RouterDeps struct {
	Cfg      config.Config
	Tokens   *auth.TokenManager
	Accounts *services.AccountService
	Txns     *services.TransactionService
}

func NewRouter(d RouterDeps) http.Handler {
	authH := handlers.NewAuthHandler(d.Accounts)
	accH := handlers.NewAccountHandler(d.Accounts)
	txH := handlers.NewTransactionHandler(d.Txns)
	loanH := handlers.NewLoanHandler(d.Txns)
	authMW := middleware.NewAuthMiddleware(d.Tokens)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(d.Cfg.RateRPS, d.Cfg.RateBurst))

		// ---------- auth ----------
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Auth)

			r.Get("/accounts/me", accH.Me)
			r.Get("/accounts/lookup", accH.Lookup)

			// ---------- transactions ----------
			r.Get("/transactions", txH.List)
			r.Post("/transactions/deposit", txH.Deposit)
			r.Post("/transactions/withdraw", txH.Withdraw)
			r.Post("/transactions/transfer", txH.Transfer)

			// ---------- loans ----------
			r.Get("/loans", loanH.List)
			r.Post("/loans", loanH.Request)
			r.Post("/loans/{id}/pay", loanH.Pay)
			r.With(middleware.RequireRole(models.RoleAdmin)).Post("/loans/{id}/approve", loanH.Approve)
		})
	})

	return r
}
