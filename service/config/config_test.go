package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Pin optional integrations off regardless of the host environment.
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("ETH_RPC_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://toncenter.com", cfg.TONCenterBaseURL)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "https://blockstream.info/api", cfg.EsploraBaseURL)
	assert.Equal(t, "https://api.coingecko.com", cfg.CoinGeckoBaseURL)
	assert.Equal(t, 30*time.Second, cfg.PriceCacheTTL)
	assert.Equal(t, 5*time.Second, cfg.DefaultPollInterval)
	assert.Equal(t, time.Second, cfg.MinPollInterval)
	assert.Equal(t, time.Hour, cfg.DefaultMonitorTimeout)
	assert.Equal(t, int64(1), cfg.DefaultMinConfirmations)
	assert.Equal(t, 10*time.Minute, cfg.SessionRetention)
	assert.Equal(t, 30*time.Second, cfg.ChainCallTimeout)

	// Optional integrations stay off without explicit URLs.
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.Ethereum.RPCURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/coinwatch")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("TONCENTER_API_KEY", "secret")
	t.Setenv("ETH_RPC_URL", "https://eth.example.com")
	t.Setenv("ETH_EXPLORER_API_KEY", "scan-key")
	t.Setenv("DEFAULT_POLL_INTERVAL", "10s")
	t.Setenv("PRICE_CACHE_TTL", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "postgres://localhost/coinwatch", cfg.DatabaseURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "secret", cfg.TONCenterAPIKey)
	assert.Equal(t, "https://eth.example.com", cfg.Ethereum.RPCURL)
	assert.Equal(t, "https://api.etherscan.io", cfg.Ethereum.ExplorerURL)
	assert.Equal(t, "scan-key", cfg.Ethereum.ExplorerAPIKey)
	assert.Equal(t, 10*time.Second, cfg.DefaultPollInterval)
	assert.Equal(t, 2*time.Minute, cfg.PriceCacheTTL)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("DEFAULT_POLL_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_POLL_INTERVAL")
}

func TestLoad_MinIntervalAboveDefault(t *testing.T) {
	t.Setenv("MIN_POLL_INTERVAL", "30s")
	t.Setenv("DEFAULT_POLL_INTERVAL", "5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MinPollInterval")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServerAddr:              ":8080",
			TONCenterBaseURL:        "https://toncenter.com",
			SolanaRPCURL:            "https://api.mainnet-beta.solana.com",
			EsploraBaseURL:          "https://blockstream.info/api",
			CoinGeckoBaseURL:        "https://api.coingecko.com",
			DefaultPollInterval:     5 * time.Second,
			MinPollInterval:         time.Second,
			DefaultMonitorTimeout:   time.Hour,
			DefaultMinConfirmations: 1,
			SessionRetention:        10 * time.Minute,
			ChainCallTimeout:        30 * time.Second,
		}
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.TONCenterBaseURL = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.DefaultMonitorTimeout = time.Second
	assert.Error(t, c.Validate())

	c = valid()
	c.DefaultMinConfirmations = -1
	assert.Error(t, c.Validate())

	c = valid()
	c.SessionRetention = 0
	assert.Error(t, c.Validate())
}
