package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gasrails/internal/balance"
	"gasrails/internal/chain"
	"gasrails/internal/config"
	"gasrails/internal/history"
	"gasrails/internal/notify"
	"gasrails/internal/ratelimit"
	"gasrails/internal/relay"
	"gasrails/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	account, err := relay.NewAccount(cfg.Chain.PrivateKey)
	if err != nil {
		logger.Fatal("relayer account error", zap.Error(err))
	}
	logger.Info("relayer account loaded", zap.String("address", account.Address().Hex()))

	chainClient, err := chain.DialEthClient(ctx, chain.EthClientConfig{
		RPCURL:              cfg.Chain.RPCURL,
		NetworkName:         cfg.Seed.Chain.Name,
		RPCTimeout:          cfg.Chain.RPCTimeout,
		ReceiptPollInterval: cfg.Chain.ReceiptPollInterval,
	}, logger)
	if err != nil {
		logger.Fatal("chain client error", zap.Error(err))
	}
	defer chainClient.Close()

	identity, err := chainClient.NetworkIdentity(ctx)
	if err != nil {
		logger.Fatal("network identity error", zap.Error(err))
	}

	var store history.Store = history.NewMemoryStore()
	if cfg.Service.HistoryDSN != "" {
		pgStore, err := history.NewPostgresStore(ctx, cfg.Service.HistoryDSN)
		if err != nil {
			logger.Fatal("history store error", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
	}

	monitor := balance.NewMonitor(chainClient, account.Address(),
		cfg.Relayer.MinBalanceWei, cfg.Relayer.BalanceInterval, logger)

	dispatcher := notify.NewDispatcher(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret,
		cfg.Notify.WebhookTimeout, logger)
	defer dispatcher.Close()

	registry, err := relay.NewRegistry(cfg.Seed.Limits.MaxMemoLength)
	if err != nil {
		logger.Fatal("capability registry error", zap.Error(err))
	}

	engine := relay.NewEngine(chainClient, monitor, account, registry, dispatcher, store,
		relay.EngineConfig{
			Forwarder:      common.HexToAddress(cfg.Deployment.Contracts.GaslessForwarder),
			ChainID:        identity.ChainID,
			GasLimit:       cfg.Relayer.GasLimit,
			ConfirmTimeout: cfg.Chain.ConfirmationTimeout,
		}, logger)

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.Service.RequestsPerMinute, time.Minute)
	if cfg.Service.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Service.RedisURL)
		if err != nil {
			logger.Fatal("redis url error", zap.Error(err))
		}
		limiter = ratelimit.NewRedisLimiter(redis.NewClient(redisOpts),
			cfg.Service.RequestsPerMinute, time.Minute)
	}

	apiServer := server.NewServer(cfg, server.Options{
		Engine:   engine,
		Monitor:  monitor,
		Store:    store,
		Limiter:  limiter,
		Chain:    chainClient,
		Identity: identity,
		Logger:   logger,
	})
	dispatcher.OnResult = apiServer.NotificationResultHook()

	go monitor.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownGrace)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
