package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EVMChain holds the endpoints for one EVM network. A chain is enabled
// only when its RPC URL is set.
type EVMChain struct {
	RPCURL         string
	ExplorerURL    string
	ExplorerAPIKey string
}

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration. Optional; outcome persistence is disabled
	// when empty.
	DatabaseURL string

	// NATS configuration. Optional; outcome events are disabled when empty.
	NATSURL string

	// TON configuration
	TONCenterBaseURL string
	TONCenterAPIKey  string

	// Solana configuration
	SolanaRPCURL string

	// Bitcoin-family explorer configuration. LTC and DOGE are enabled only
	// when their explorer URLs are set.
	EsploraBaseURL     string
	LTCEsploraBaseURL  string
	DogeEsploraBaseURL string

	// EVM networks
	Ethereum EVMChain
	BNB      EVMChain
	Polygon  EVMChain

	// Price oracle configuration
	CoinGeckoBaseURL string
	PriceCacheTTL    time.Duration

	// Monitor configuration
	DefaultPollInterval     time.Duration
	MinPollInterval         time.Duration
	DefaultMonitorTimeout   time.Duration
	DefaultMinConfirmations int64
	SessionRetention        time.Duration
	ChainCallTimeout        time.Duration
}

// Load reads configuration from environment variables and validates it.
// Returns an error listing every invalid field.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Optional integrations
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Chain endpoints
	cfg.TONCenterBaseURL = getEnvOrDefault("TONCENTER_BASE_URL", "https://toncenter.com")
	cfg.TONCenterAPIKey = os.Getenv("TONCENTER_API_KEY")
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	cfg.EsploraBaseURL = getEnvOrDefault("ESPLORA_BASE_URL", "https://blockstream.info/api")
	cfg.LTCEsploraBaseURL = os.Getenv("LTC_ESPLORA_BASE_URL")
	cfg.DogeEsploraBaseURL = os.Getenv("DOGE_ESPLORA_BASE_URL")

	cfg.Ethereum = EVMChain{
		RPCURL:         os.Getenv("ETH_RPC_URL"),
		ExplorerURL:    getEnvOrDefault("ETH_EXPLORER_URL", "https://api.etherscan.io"),
		ExplorerAPIKey: os.Getenv("ETH_EXPLORER_API_KEY"),
	}
	cfg.BNB = EVMChain{
		RPCURL:         os.Getenv("BNB_RPC_URL"),
		ExplorerURL:    getEnvOrDefault("BNB_EXPLORER_URL", "https://api.bscscan.com"),
		ExplorerAPIKey: os.Getenv("BNB_EXPLORER_API_KEY"),
	}
	cfg.Polygon = EVMChain{
		RPCURL:         os.Getenv("MATIC_RPC_URL"),
		ExplorerURL:    getEnvOrDefault("MATIC_EXPLORER_URL", "https://api.polygonscan.com"),
		ExplorerAPIKey: os.Getenv("MATIC_EXPLORER_API_KEY"),
	}

	// Price oracle
	cfg.CoinGeckoBaseURL = getEnvOrDefault("COINGECKO_BASE_URL", "https://api.coingecko.com")
	if ttl, err := parseDuration("PRICE_CACHE_TTL", "30s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceCacheTTL = ttl
	}

	// Monitor configuration
	if d, err := parseDuration("DEFAULT_POLL_INTERVAL", "5s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultPollInterval = d
	}
	if d, err := parseDuration("MIN_POLL_INTERVAL", "1s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = d
	}
	if d, err := parseDuration("DEFAULT_MONITOR_TIMEOUT", "1h"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultMonitorTimeout = d
	}
	if d, err := parseDuration("SESSION_RETENTION", "10m"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.SessionRetention = d
	}
	if d, err := parseDuration("CHAIN_CALL_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.ChainCallTimeout = d
	}
	if n, err := parseInt("DEFAULT_MIN_CONFIRMATIONS", 1); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultMinConfirmations = int64(n)
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("ServerAddr is required"))
	}
	if c.TONCenterBaseURL == "" {
		errs = append(errs, fmt.Errorf("TONCenterBaseURL is required"))
	}
	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}
	if c.EsploraBaseURL == "" {
		errs = append(errs, fmt.Errorf("EsploraBaseURL is required"))
	}
	if c.CoinGeckoBaseURL == "" {
		errs = append(errs, fmt.Errorf("CoinGeckoBaseURL is required"))
	}
	if c.MinPollInterval > c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval (%v) cannot be greater than DefaultPollInterval (%v)",
			c.MinPollInterval, c.DefaultPollInterval))
	}
	if c.DefaultPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultPollInterval must be at least 1 second"))
	}
	if c.DefaultMonitorTimeout < c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("DefaultMonitorTimeout must be at least one poll interval"))
	}
	if c.DefaultMinConfirmations < 0 {
		errs = append(errs, fmt.Errorf("DefaultMinConfirmations cannot be negative"))
	}
	if c.SessionRetention <= 0 {
		errs = append(errs, fmt.Errorf("SessionRetention must be positive"))
	}
	if c.ChainCallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ChainCallTimeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
