package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "STORAGE_DRIVER", "LEDGER_MAX_ATTEMPTS", "LOCK_TTL", "APP_MIGRATE"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "postgres", cfg.StorageDriver)
	assert.Equal(t, 3, cfg.LedgerMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.True(t, cfg.Migrate)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")
	t.Setenv("LEDGER_RETRY_BASE", "1ms")
	t.Setenv("RATE_RPS", "2.5")
	t.Setenv("APP_MIGRATE", "false")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ADMIN_USERNAMES", "root, ops ,")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, 5, cfg.LedgerMaxAttempts)
	assert.Equal(t, time.Millisecond, cfg.LedgerRetryBase)
	assert.Equal(t, 2.5, cfg.RateRPS)
	assert.False(t, cfg.Migrate)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"root", "ops"}, cfg.AdminUsernames)
}

func TestLoadInvalidFallsBack(t *testing.T) {
	t.Setenv("LEDGER_MAX_ATTEMPTS", "-1")
	t.Setenv("NOTIFY_TIMEOUT", "soon")
	t.Setenv("WORKERS", "many")

	cfg := Load()
	assert.Equal(t, 3, cfg.LedgerMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, 4, cfg.Workers)
}
