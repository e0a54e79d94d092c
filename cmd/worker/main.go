package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peertrade/internal/config"
	"peertrade/internal/db"
	"peertrade/internal/ledger"
	"peertrade/internal/notify"
	"peertrade/internal/pricing"
	"peertrade/internal/settlement"
	"peertrade/internal/store"
	"peertrade/internal/wallet"
	"peertrade/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if cfg.DB.DSN != "" {
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			zap.L().Fatal("db connect failed", zap.Error(err))
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
	} else {
		sqlite, err := store.NewSQLite(ctx, cfg.DB.SQLitePath)
		if err != nil {
			zap.L().Fatal("sqlite open failed", zap.Error(err))
		}
		defer sqlite.Close()
		st = sqlite
	}

	key, err := config.DecodeVaultKey(cfg.Vault.Key)
	if err != nil {
		zap.L().Fatal("vault key invalid", zap.Error(err))
	}
	vault, err := wallet.NewVault(key)
	if err != nil {
		zap.L().Fatal("vault init failed", zap.Error(err))
	}

	gateway := wallet.NewHTTPGateway(wallet.HTTPGatewayConfig{
		BaseURL:        cfg.Gateway.BaseURL,
		APIKey:         cfg.Gateway.APIKey,
		NetworkUTXO:    cfg.Gateway.NetworkUTXO,
		NetworkAccount: cfg.Gateway.NetworkAccount,
		Timeout:        time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
	})

	mailer := notify.NewAsyncMailer(notify.LogMailer{}, 256)
	defer mailer.Close()
	dispatcher := notify.NewDispatcher(nil, mailer, st)

	calc := ledger.NewCalculator(st, gateway, vault, int32(cfg.Platform.CoinPrecision))
	engine := settlement.NewEngine(st, calc, gateway, vault, dispatcher)

	w := &worker.Worker{
		Store:      st,
		Settlement: engine,
		Interval:   time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		BatchSize:  cfg.Worker.BatchSize,
	}
	if cfg.Pricing.FeedURL != "" {
		w.Pricing = &pricing.Refresher{
			Store: st,
			Feed:  pricing.NewHTTPFeed(cfg.Pricing.FeedURL, 10*time.Second),
		}
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	zap.L().Info("settlement worker started",
		zap.Int64("interval_seconds", cfg.Worker.IntervalSeconds))
	w.Run(ctx)
}
