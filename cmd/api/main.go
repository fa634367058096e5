package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baharkarakas/ledger-service/internal/api"
	"github.com/baharkarakas/ledger-service/internal/auth"
	"github.com/baharkarakas/ledger-service/internal/config"
	"github.com/baharkarakas/ledger-service/internal/db"
	"github.com/baharkarakas/ledger-service/internal/lock"
	"github.com/baharkarakas/ledger-service/internal/logger"
	"github.com/baharkarakas/ledger-service/internal/metrics"
	"github.com/baharkarakas/ledger-service/internal/notify"
	repo "github.com/baharkarakas/ledger-service/internal/repository"
	"github.com/baharkarakas/ledger-service/internal/repository/memory"
	"github.com/baharkarakas/ledger-service/internal/repository/postgres"
	"github.com/baharkarakas/ledger-service/internal/services"
	"github.com/baharkarakas/ledger-service/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	repos, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locks, closeLocks, err := openLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocks()

	notifier, closeNotifier, err := openNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	wp := worker.NewPool(cfg.Workers, cfg.WorkerQueue)
	// stopped before the notifier is closed so queued sends drain first
	defer wp.Stop()
	dispatcher := notify.NewDispatcher(notifier, wp, cfg.NotifyTimeout, log)

	tokens := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	accounts := services.NewAccountService(repos, tokens, log, cfg.AdminUsernames...)
	txns := services.NewTransactionService(repos, locks, dispatcher, wp, log, services.LedgerOptions{
		MaxAttempts: cfg.LedgerMaxAttempts,
		RetryBase:   cfg.LedgerRetryBase,
	})

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterDeps{
			Cfg:      cfg,
			Tokens:   tokens,
			Accounts: accounts,
			Txns:     txns,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "storage", cfg.StorageDriver, "notify", cfg.NotifyDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repo.Repositories, func(), error) {
	switch cfg.StorageDriver {
	case "memory":
		log.Warn("using in-memory storage; data is lost on exit")
		return memory.NewRepositories(memory.New()), func() {}, nil
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return repo.Repositories{}, nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.Migrate {
			if err := db.RunMigrations(pool, log); err != nil {
				pool.Close()
				return repo.Repositories{}, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		return postgres.NewRepositories(pool), pool.Close, nil
	}
	return repo.Repositories{}, nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
}

func openLocker(ctx context.Context, cfg config.Config, log *slog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(cfg.LockTTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("account locks backed by redis", "addr", cfg.RedisAddr)
	return lock.NewRedis(client, cfg.LockTTL), func() { _ = client.Close() }, nil
}

func openNotifier(cfg config.Config, log *slog.Logger) (notify.Notifier, func(), error) {
	switch cfg.NotifyDriver {
	case "log":
		return notify.NewLogNotifier(log), func() {}, nil
	case "smtp":
		return notify.NewSMTPNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPassword), func() {}, nil
	case "amqp":
		n, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp: %w", err)
		}
		return n, func() { _ = n.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown NOTIFY_DRIVER %q", cfg.NotifyDriver)
}
