package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sewapay/paycore/internal/api"
	"github.com/sewapay/paycore/internal/api/middleware"
	"github.com/sewapay/paycore/internal/config"
	"github.com/sewapay/paycore/internal/db"
	"github.com/sewapay/paycore/internal/idempotency"
	"github.com/sewapay/paycore/internal/notify"
	"github.com/sewapay/paycore/internal/observability"
	"github.com/sewapay/paycore/internal/repository"
	"github.com/sewapay/paycore/internal/service"
	"github.com/sewapay/paycore/internal/worker"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool)

	ledgerSvc := service.NewLedgerService(store)
	walletSvc := service.NewWalletService(store, ledgerSvc)

	policyCache := service.NewPolicyCache(store)
	if err := policyCache.Refresh(ctx); err != nil {
		logger.Warn("initial limit policy load failed", zap.Error(err))
	}
	go refreshPolicies(ctx, policyCache, cfg.PolicyRefreshInterval, logger)

	exchangeSvc := service.NewExchangeService(store, ledgerSvc, policyCache, cfg.ReferenceCurrency, cfg.DefaultMarginPct)
	refundSvc := service.NewRefundService(store, ledgerSvc, cfg.RefundHoldDelay)
	cardSvc := service.NewCardService(store, ledgerSvc)
	intentSvc := service.NewIntentService(store, ledgerSvc, walletSvc, cardSvc, cfg.IntentExpiry)

	reconSvc := service.NewReconciliationService(store)
	reconSvc.OnDivergence(func(currency string, walletMicros, ledgerMicros int64) {
		observability.IncrementLedgerDivergence(currency)
	})

	sweeper := worker.NewRefundSweeper(refundSvc).
		WithPollInterval(cfg.RefundSweepInterval).
		WithBatchSize(cfg.RefundSweepBatch)
	stopSweeper := sweeper.Run(ctx)
	logger.Info("refund sweeper started", zap.Duration("interval", cfg.RefundSweepInterval), zap.Int32("batch", cfg.RefundSweepBatch))

	cardReset := worker.NewCardResetWorker(cardSvc).WithPollInterval(cfg.CardResetInterval)
	stopCardReset := cardReset.Run(ctx)
	logger.Info("card reset worker started", zap.Duration("interval", cfg.CardResetInterval))

	eventWorker := worker.NewEventWorker(store, notify.NewLogNotifier()).
		WithPollInterval(cfg.EventPollInterval).
		WithBatchSize(cfg.EventBatchSize)
	stopEvents := eventWorker.Run(ctx)
	logger.Info("event delivery worker started", zap.Duration("interval", cfg.EventPollInterval), zap.Int32("batch", cfg.EventBatchSize))

	reconWorker := worker.NewReconciliationWorker(reconSvc).WithInterval(cfg.ReconciliationInterval)
	stopRecon := reconWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, pool, redisClient, idemStore, api.Services{
		Wallets:  walletSvc,
		Exchange: exchangeSvc,
		Refunds:  refundSvc,
		Cards:    cardSvc,
		Intents:  intentSvc,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSweeper()
	stopCardReset()
	stopEvents()
	stopRecon()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func refreshPolicies(ctx context.Context, cache *service.PolicyCache, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cache.Refresh(ctx); err != nil {
				logger.Warn("limit policy refresh failed", zap.Error(err))
			}
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
