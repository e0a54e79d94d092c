package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peertrade/internal/accounts"
	"peertrade/internal/config"
	"peertrade/internal/db"
	internalhttp "peertrade/internal/http"
	"peertrade/internal/ledger"
	"peertrade/internal/notify"
	"peertrade/internal/offers"
	"peertrade/internal/settlement"
	"peertrade/internal/store"
	"peertrade/internal/trades"
	"peertrade/internal/wallet"

	"github.com/shopspring/decimal"
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

	ctx := context.Background()

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
	deriver := wallet.TreasuryDeriver{XPub: cfg.Wallet.XPub, Prefix: cfg.Wallet.Bech32Prefix}

	hub := notify.NewHub()
	mailer := notify.NewAsyncMailer(notify.LogMailer{}, 256)
	defer mailer.Close()
	dispatcher := notify.NewDispatcher(hub, mailer, st)

	calc := ledger.NewCalculator(st, gateway, vault, int32(cfg.Platform.CoinPrecision))
	offerSvc := offers.NewService(st, calc)
	feePercent := decimal.NewFromFloat(cfg.Platform.TradeFeePercent)
	tradeSvc := trades.NewService(st, calc, offerSvc, dispatcher, feePercent)
	engine := settlement.NewEngine(st, calc, gateway, vault, dispatcher)
	accountSvc := accounts.NewService(st, gateway, vault, deriver)

	if err := accountSvc.EnsurePlatformAddresses(ctx); err != nil {
		zap.L().Warn("platform address bootstrap incomplete", zap.Error(err))
	}

	h := internalhttp.NewHandler(accountSvc, offerSvc, tradeSvc, engine, calc, st, hub)
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		zap.L().Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
