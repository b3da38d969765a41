package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfigFile(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if body != "" {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	t.Setenv("SWAP_CONFIG", path)
	t.Setenv("SWAP_AUTH_JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	useConfigFile(t, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, CacheMemory, cfg.Rates.Cache)
	assert.Equal(t, 5*time.Minute, cfg.Rates.CacheTTL)
	assert.Equal(t, operation.BRL, cfg.Ledger.HomeCurrency)
	assert.True(t, cfg.Ledger.DefaultAnnualLimit.IsZero())
	assert.Equal(t, "0 0 0 1 1 *", cfg.Usage.RolloverSchedule)
	assert.Equal(t, "provider.settlements", cfg.Kafka.Topics.Settlements)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	useConfigFile(t, `
storage:
  driver: memory
rates:
  cache: none
  provider_timeout: 3s
ledger:
  default_annual_limit: "100000"
kafka:
  enabled: true
  topics:
    operations: ledger.operations
`)
	t.Setenv("SWAP_LEDGER_HOME_CURRENCY", "usd")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, CacheNone, cfg.Rates.Cache)
	assert.Equal(t, 3*time.Second, cfg.Rates.ProviderTimeout)
	assert.Equal(t, "100000", cfg.Ledger.DefaultAnnualLimit.String())
	assert.Equal(t, operation.USD, cfg.Ledger.HomeCurrency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ledger.operations", cfg.Kafka.Topics.Operations)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"driver":   "storage:\n  driver: sqlite\n",
		"cache":    "rates:\n  cache: disk\n",
		"currency": "ledger:\n  home_currency: JPY\n",
		"limit":    "ledger:\n  default_annual_limit: \"-5\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			useConfigFile(t, body)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	useConfigFile(t, "")
	t.Setenv("SWAP_AUTH_JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "jwt_secret")
}
