package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("STORE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "inproc", cfg.Dispatcher)
	assert.Equal(t, 3, cfg.SettlementMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.True(t, cfg.PrecheckBalance)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("DISPATCHER", "RabbitMQ")
	t.Setenv("SETTLEMENT_MAX_ATTEMPTS", "5")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("PRECHECK_BALANCE", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "rabbitmq", cfg.Dispatcher)
	assert.Equal(t, 5, cfg.SettlementMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.False(t, cfg.PrecheckBalance)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("WORKERS", "many")
	_, err := Load()
	assert.ErrorContains(t, err, "WORKERS")

	t.Setenv("WORKERS", "2")
	t.Setenv("STORE", "sqlite")
	_, err = Load()
	assert.ErrorContains(t, err, "STORE")

	t.Setenv("STORE", "memory")
	t.Setenv("APP_ENV", "prod")
	_, err = Load()
	assert.ErrorContains(t, err, "JWT secrets")
}
