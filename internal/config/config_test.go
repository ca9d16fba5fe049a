package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ENGINE_DEFAULT_COMMISSION_RATE", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Engine.DefaultCommissionRate.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "USD", cfg.Engine.Currency)
	assert.False(t, cfg.Engine.AutoApprovePayments)
	assert.Equal(t, 5, cfg.Engine.StockMaxRetries)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_DEFAULT_COMMISSION_RATE", "8.5")
	t.Setenv("ENGINE_CURRENCY", "eur")
	t.Setenv("ENGINE_AUTO_APPROVE_PAYMENTS", "true")
	t.Setenv("ENGINE_STOCK_MAX_RETRIES", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Engine.DefaultCommissionRate.Equal(decimal.RequireFromString("8.5")))
	assert.Equal(t, "EUR", cfg.Engine.Currency)
	assert.True(t, cfg.Engine.AutoApprovePayments)
	assert.Equal(t, 5, cfg.Engine.StockMaxRetries)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
}

func TestLoadRejectsOutOfRangeCommission(t *testing.T) {
	t.Setenv("ENGINE_DEFAULT_COMMISSION_RATE", "101")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ENGINE_DEFAULT_COMMISSION_RATE", "ten")
	_, err = Load()
	assert.Error(t, err)
}
