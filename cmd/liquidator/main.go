// Package main runs the liquidation bot: it follows new blocks on a lending
// pool, tracks under-collateralized borrowers and liquidates the riskiest one
// through a flash-loan executor contract.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	httpadapter "github.com/archon-research/stl-liquidator/internal/adapters/inbound/http"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/alchemy"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/ethnode"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/redis"
	snsadapter "github.com/archon-research/stl-liquidator/internal/adapters/outbound/sns"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-liquidator/internal/domain/entity"
	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain"
	"github.com/archon-research/stl-liquidator/internal/pkg/env"
	"github.com/archon-research/stl-liquidator/internal/pkg/logring"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
	"github.com/archon-research/stl-liquidator/internal/services/liquidator"
)

const (
	serviceName     = "stl-liquidator"
	shutdownTimeout = 25 * time.Second
	logRingSize     = 50
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "kind", entity.ErrorKind(err), "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	rpcHTTPURL   string
	rpcWSURL     string
	privateKey   string
	executor     common.Address
	chainID      int64
	protocol     blockchain.ProtocolConfig
	fallback     []entity.AccountID
	redisAddr    string
	dbURL        string
	snsTopicARN  string
	otelEndpoint string
	healthAddr   string
	rpcRateLimit float64

	backfillWindow uint64
	backfillChunk  uint64
	backfillDelay  time.Duration
	batchSize      int
	minDebt        decimal.Decimal
	gasLimit       uint64
	evictAfter     int
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("liquidator", flag.ContinueOnError)
	rpcURL := fs.String("rpc", "", "HTTP RPC endpoint")
	wsURL := fs.String("ws", "", "WebSocket RPC endpoint (derived from -rpc when empty)")
	chainID := fs.Int64("chain", 0, "chain ID selecting the protocol preset")
	dbURL := fs.String("db", "", "PostgreSQL connection URL for attempt history")
	redisAddr := fs.String("redis", "", "Redis address for status and the execution lock")
	healthAddr := fs.String("health-addr", "", "health and status server address")
	gasLimit := fs.Uint64("gas-limit", 0, "gas limit for liquidation transactions")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		rpcHTTPURL:   firstNonEmpty(*rpcURL, env.Get("RPC_HTTP_URL", "")),
		rpcWSURL:     firstNonEmpty(*wsURL, env.Get("RPC_WS_URL", "")),
		privateKey:   env.Get("PRIVATE_KEY", ""),
		chainID:      *chainID,
		redisAddr:    firstNonEmpty(*redisAddr, env.Get("REDIS_ADDR", "")),
		dbURL:        firstNonEmpty(*dbURL, env.Get("DATABASE_URL", "")),
		snsTopicARN:  env.Get("SNS_TOPIC_ARN", ""),
		otelEndpoint: env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		healthAddr:   firstNonEmpty(*healthAddr, env.Get("HEALTH_ADDR", ":8080")),
		rpcRateLimit: env.GetFloat("RPC_RATE_LIMIT", 10),
		gasLimit:     *gasLimit,
	}

	if cfg.rpcHTTPURL == "" {
		return cliConfig{}, fmt.Errorf("RPC URL not provided (use -rpc flag or RPC_HTTP_URL env var)")
	}
	if cfg.privateKey == "" {
		return cliConfig{}, fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	executor := env.Get("LIQUIDATOR_CONTRACT_ADDRESS", "")
	if executor == "" {
		return cliConfig{}, fmt.Errorf("LIQUIDATOR_CONTRACT_ADDRESS environment variable is required")
	}
	var err error
	if cfg.executor, err = parseAddress("LIQUIDATOR_CONTRACT_ADDRESS", executor); err != nil {
		return cliConfig{}, err
	}

	if cfg.rpcWSURL == "" {
		if cfg.rpcWSURL, err = deriveWebSocketURL(cfg.rpcHTTPURL); err != nil {
			return cliConfig{}, err
		}
	}

	if cfg.chainID == 0 {
		cfg.chainID = int64(env.GetInt("CHAIN_ID", int(blockchain.ChainIDBase)))
	}
	protocol, ok := blockchain.GetProtocolConfig(cfg.chainID)
	if !ok {
		return cliConfig{}, fmt.Errorf("no protocol preset for chain ID %d", cfg.chainID)
	}
	if err := overrideProtocol(&protocol); err != nil {
		return cliConfig{}, err
	}
	cfg.protocol = protocol

	for _, raw := range env.GetList("FALLBACK_ACCOUNTS", protocol.FallbackAccounts) {
		addr, err := parseAddress("FALLBACK_ACCOUNTS", raw)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.fallback = append(cfg.fallback, addr)
	}

	defaults := liquidator.ConfigDefaults()
	cfg.backfillWindow = env.GetUint64("BACKFILL_WINDOW", defaults.BackfillWindow)
	cfg.backfillChunk = env.GetUint64("BACKFILL_CHUNK", defaults.BackfillChunk)
	cfg.backfillDelay = env.GetDuration("BACKFILL_DELAY", defaults.BackfillDelay)
	cfg.batchSize = env.GetInt("BATCH_SIZE", defaults.BatchSize)
	cfg.evictAfter = env.GetInt("EVICT_AFTER", defaults.EvictAfter)
	if cfg.gasLimit == 0 {
		cfg.gasLimit = env.GetUint64("GAS_LIMIT", defaults.GasLimit)
	}
	cfg.minDebt = defaults.MinDebt
	if raw := env.Get("MIN_DEBT", ""); raw != "" {
		if cfg.minDebt, err = decimal.NewFromString(raw); err != nil {
			return cliConfig{}, fmt.Errorf("invalid MIN_DEBT %q: %w", raw, err)
		}
	}

	return cfg, nil
}

// overrideProtocol applies POOL_ADDRESS, BORROW_ASSET, COLLATERAL_ASSET and
// BORROW_ASSET_DECIMALS on top of the preset.
func overrideProtocol(p *blockchain.ProtocolConfig) error {
	overrides := []struct {
		key string
		dst *common.Address
	}{
		{"POOL_ADDRESS", &p.PoolAddress},
		{"BORROW_ASSET", &p.BorrowAsset},
		{"COLLATERAL_ASSET", &p.CollateralAsset},
	}
	for _, o := range overrides {
		raw := env.Get(o.key, "")
		if raw == "" {
			continue
		}
		addr, err := parseAddress(o.key, raw)
		if err != nil {
			return err
		}
		*o.dst = addr
	}
	p.BorrowAssetDecimals = int32(env.GetInt("BORROW_ASSET_DECIMALS", int(p.BorrowAssetDecimals)))
	return nil
}

func parseAddress(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}

// deriveWebSocketURL maps http(s) to ws(s) on the same host and path.
func deriveWebSocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("invalid RPC URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("cannot derive WebSocket URL from scheme %q (set RPC_WS_URL)", u.Scheme)
	}
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	level := env.ParseLogLevel(slog.LevelInfo)
	ring := logring.New(logRingSize)
	logger := slog.New(logring.Tee(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
		ring,
		slog.LevelInfo,
	))
	slog.SetDefault(logger)

	logger.Info("starting liquidator",
		"protocol", cfg.protocol.Name,
		"chainID", cfg.chainID,
		"pool", cfg.protocol.PoolAddress.Hex(),
		"executor", cfg.executor.Hex())

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:  serviceName,
		Environment:  env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint: cfg.otelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer shutdownWithTimeout(logger, "tracer", shutdownTracer)

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:  serviceName,
		Environment:  env.Get("ENVIRONMENT", "development"),
		OTLPEndpoint: cfg.otelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownWithTimeout(logger, "metrics", shutdownMetrics)

	metrics, err := telemetry.NewMetrics(serviceName)
	if err != nil {
		return fmt.Errorf("creating metrics recorder: %w", err)
	}

	key, err := ethnode.ParsePrivateKey(cfg.privateKey)
	if err != nil {
		return fmt.Errorf("%w: %w", entity.ErrCriticalStartup, err)
	}
	ledgerConfig := ethnode.LedgerConfigDefaults()
	ledgerConfig.PoolAddress = cfg.protocol.PoolAddress
	ledgerConfig.ExecutorAddress = cfg.executor
	ledgerConfig.ChainID = big.NewInt(cfg.chainID)
	ledgerConfig.PrivateKey = key
	ledgerConfig.RequestsPerSecond = cfg.rpcRateLimit
	ledgerConfig.Logger = logger

	ledger, ethClient, err := ethnode.Dial(ctx, cfg.rpcHTTPURL, ledgerConfig)
	if err != nil {
		return fmt.Errorf("%w: %w", entity.ErrCriticalStartup, err)
	}
	defer ethClient.Close()
	logger.Info("node client ready", "signer", ledger.From().Hex())

	subscriberConfig := alchemy.SubscriberConfigDefaults()
	subscriberConfig.WebSocketURL = cfg.rpcWSURL
	subscriberConfig.Logger = logger
	subscriber, err := alchemy.NewSubscriber(subscriberConfig)
	if err != nil {
		return fmt.Errorf("creating subscriber: %w", err)
	}

	var (
		lock       outbound.ExecutionLock = memory.NewExecutionLock()
		statusSink outbound.StatusSink
		attempts   outbound.AttemptRepository = memory.NewAttemptRepository()
		notifier   outbound.AttemptNotifier
	)

	if cfg.redisAddr != "" {
		redisConfig := redis.ConfigDefaults()
		redisConfig.Addr = cfg.redisAddr
		redisConfig.Password = env.Get("REDIS_PASSWORD", "")
		redisClient, err := redis.NewClient(redisConfig, logger)
		if err != nil {
			return fmt.Errorf("creating Redis client: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close Redis connection", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		if lock, err = redis.NewExecutionLock(redisClient); err != nil {
			return fmt.Errorf("creating execution lock: %w", err)
		}
		if statusSink, err = redis.NewStatusSink(redisClient); err != nil {
			return fmt.Errorf("creating status sink: %w", err)
		}
		logger.Info("Redis connected", "addr", cfg.redisAddr, "channel", redisClient.StatusChannel())
	}

	if cfg.dbURL != "" {
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL))
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		if attempts, err = postgres.NewAttemptRepository(pool, logger); err != nil {
			return fmt.Errorf("creating attempt repository: %w", err)
		}
		logger.Info("PostgreSQL connected, attempt history enabled")
	}

	if cfg.snsTopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(env.Get("AWS_REGION", "eu-west-1")),
		)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		snsClient := awssns.NewFromConfig(awsCfg, func(o *awssns.Options) {
			if endpoint := env.Get("AWS_SNS_ENDPOINT", ""); endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		snsNotifier, err := snsadapter.NewNotifier(snsClient, snsadapter.Config{
			TopicARN: cfg.snsTopicARN,
			ChainID:  cfg.chainID,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("creating SNS notifier: %w", err)
		}
		defer snsNotifier.Close()
		notifier = snsNotifier
		logger.Info("SNS notifications enabled", "topic", cfg.snsTopicARN)
	}

	engineConfig := liquidator.Config{
		BackfillWindow:      cfg.backfillWindow,
		BackfillChunk:       cfg.backfillChunk,
		BackfillDelay:       cfg.backfillDelay,
		BatchSize:           cfg.batchSize,
		MinDebt:             cfg.minDebt,
		EvictAfter:          cfg.evictAfter,
		GasLimit:            cfg.gasLimit,
		BorrowAsset:         cfg.protocol.BorrowAsset,
		BorrowAssetDecimals: cfg.protocol.BorrowAssetDecimals,
		CollateralAsset:     cfg.protocol.CollateralAsset,
		FallbackAccounts:    cfg.fallback,
		LogLines:            ring.Lines,
		Logger:              logger,
		Metrics:             metrics,
	}
	engine, err := liquidator.NewEngine(engineConfig, liquidator.EngineDeps{
		Ledger:     ledger,
		Subscriber: subscriber,
		Lock:       lock,
		StatusSink: statusSink,
		Attempts:   attempts,
		Notifier:   notifier,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	var shuttingDown atomic.Bool
	healthServer := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
		Addr:    cfg.healthAddr,
		Logger:  logger,
		Handler: httpadapter.NewHandler(ctx, engine, attempts, logger),
	}, engine, &shuttingDown)
	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}
	defer func() {
		if err := healthServer.Shutdown(5 * time.Second); err != nil {
			logger.Warn("failed to shut down health server", "error", err)
		}
	}()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	logger.Info("engine started, waiting for blocks...")

	<-ctx.Done()
	shuttingDown.Store(true)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := engine.Stop(); err != nil {
			logger.Error("error stopping engine", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return errors.New("shutdown timed out")
	}
	return nil
}

func shutdownWithTimeout(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", "provider", name, "error", err)
	}
}
