package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/chain/bitcoin"
	"github.com/brojonat/coinwatch/service/chain/evm"
	"github.com/brojonat/coinwatch/service/chain/solana"
	"github.com/brojonat/coinwatch/service/chain/ton"
	"github.com/brojonat/coinwatch/service/config"
	"github.com/brojonat/coinwatch/service/db"
	"github.com/brojonat/coinwatch/service/metrics"
	"github.com/brojonat/coinwatch/service/monitor"
	"github.com/brojonat/coinwatch/service/nats"
	"github.com/brojonat/coinwatch/service/price"
	"github.com/brojonat/coinwatch/service/server"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)

	// Chain adapters. TON, Solana, and BTC are always on; the rest are
	// enabled by their endpoint configuration.
	adapters := []chain.Adapter{
		ton.New(cfg.TONCenterBaseURL, nil, logger, ton.WithAPIKey(cfg.TONCenterAPIKey)),
		solana.New(solana.NewRPCClient(cfg.SolanaRPCURL), logger),
		bitcoin.New("btc", cfg.EsploraBaseURL, logger, bitcoin.WithNetParams(&chaincfg.MainNetParams)),
	}
	if cfg.LTCEsploraBaseURL != "" {
		adapters = append(adapters, bitcoin.New("ltc", cfg.LTCEsploraBaseURL, logger))
	}
	if cfg.DogeEsploraBaseURL != "" {
		adapters = append(adapters, bitcoin.New("doge", cfg.DogeEsploraBaseURL, logger))
	}
	for _, evmChain := range []struct {
		currency string
		conf     config.EVMChain
	}{
		{"eth", cfg.Ethereum},
		{"bnb", cfg.BNB},
		{"matic", cfg.Polygon},
	} {
		if evmChain.conf.RPCURL == "" {
			continue
		}
		node, err := ethclient.DialContext(ctx, evmChain.conf.RPCURL)
		if err != nil {
			logger.Error("failed to dial EVM node", "currency", evmChain.currency, "error", err)
			os.Exit(1)
		}
		adapters = append(adapters, evm.New(
			evmChain.currency,
			node,
			evmChain.conf.ExplorerURL,
			logger,
			evm.WithAPIKey(evmChain.conf.ExplorerAPIKey),
		))
	}
	chains := chain.NewRegistry(adapters...)
	logger.Info("chain adapters initialized", "currencies", chains.Currencies())

	// Price oracle with TTL cache.
	oracle := price.NewCachedOracle(
		price.NewCoinGeckoClient(cfg.CoinGeckoBaseURL, &http.Client{Timeout: 10 * time.Second}, logger),
		cfg.PriceCacheTTL,
	)

	// Optional outcome persistence.
	var store *db.Store
	var handlers []monitor.OutcomeHandler
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store = db.NewStore(dbPool)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		handlers = append(handlers, persistOutcomes(store, logger))
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, outcome persistence disabled")
	}

	// Optional outcome eventing.
	if cfg.NATSURL != "" {
		publisher, err := nats.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to initialize NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		handlers = append(handlers, publishOutcomes(publisher, logger))
	} else {
		logger.Warn("NATS_URL not set, outcome events disabled")
	}

	registry := monitor.NewRegistry(chains, oracle, monitor.Config{
		Retention:               cfg.SessionRetention,
		CallTimeout:             cfg.ChainCallTimeout,
		DefaultPollInterval:     cfg.DefaultPollInterval,
		MinPollInterval:         cfg.MinPollInterval,
		DefaultTimeout:          cfg.DefaultMonitorTimeout,
		DefaultMinConfirmations: cfg.DefaultMinConfirmations,
	}, logger, m, handlers...)

	httpServer := server.New(cfg.ServerAddr, registry, chains, oracle, store, m, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}
		if err := registry.Close(shutdownCtx); err != nil {
			logger.Error("failed to close monitor registry gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// persistOutcomes returns an outcome handler that records terminal outcomes
// in the database.
func persistOutcomes(store *db.Store, logger *slog.Logger) monitor.OutcomeHandler {
	return func(ctx context.Context, req monitor.Request, outcome *monitor.Outcome) {
		params := db.RecordOutcomeParams{
			UserID:      req.UserID,
			Currency:    req.Target.Currency,
			Address:     req.Target.Address,
			Status:      string(outcome.Status),
			FiatValue:   outcome.FiatValue,
			CompletedAt: outcome.CompletedAt,
		}
		if outcome.Reason != "" {
			reason := outcome.Reason
			params.Reason = &reason
		}
		if txn := outcome.Transaction; txn != nil {
			params.TxID = &txn.ID
			if txn.FromAddress != "" {
				params.TxFromAddress = &txn.FromAddress
			}
			params.TxAmount = &txn.Amount
			params.TxMemo = txn.Memo
			params.TxConfirmations = &txn.Confirmations
			if !txn.BlockTime.IsZero() {
				params.TxBlockTime = &txn.BlockTime
			}
		}

		if _, err := store.RecordOutcome(ctx, params); err != nil {
			logger.Error("failed to persist outcome",
				"user_id", req.UserID,
				"currency", req.Target.Currency,
				"status", outcome.Status,
				"error", err,
			)
		}
	}
}

// publishOutcomes returns an outcome handler that publishes terminal
// outcomes to NATS.
func publishOutcomes(publisher nats.Publisher, logger *slog.Logger) monitor.OutcomeHandler {
	return func(ctx context.Context, req monitor.Request, outcome *monitor.Outcome) {
		event := nats.FromOutcome(req, outcome)
		if err := publisher.PublishOutcome(ctx, event); err != nil {
			logger.Error("failed to publish outcome event",
				"user_id", req.UserID,
				"currency", req.Target.Currency,
				"status", outcome.Status,
				"error", err,
			)
		}
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
