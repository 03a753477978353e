package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/ports/adapter"
	pg "hotspot-billing/internal/infra/db/postgres"
	"hotspot-billing/internal/infra/logging"
	"hotspot-billing/internal/infra/metrics"
	"hotspot-billing/internal/infra/notify"
	"hotspot-billing/internal/infra/payment"
	"hotspot-billing/internal/infra/poller"
	"hotspot-billing/internal/infra/pricing"
	"hotspot-billing/internal/infra/provision"
	red "hotspot-billing/internal/infra/redis"
	"hotspot-billing/internal/infra/sched"
	"hotspot-billing/internal/infra/web"
	"hotspot-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed checks)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis (optional: sweep lock + poller snapshot sharing) ----
	var locker red.Locker
	var snapStore poller.SnapshotStore
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
		snapStore = red.NewSnapshotCache(redisClient, cfg.Redis.TTL)
	} else {
		logger.Warn().Msg("redis not configured; sweep lock and snapshot sharing disabled")
	}

	// ---- Repositories ----
	orderRepo := pg.NewOrderRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Adapters ----
	gateway := payment.NewMercadoPagoGateway(cfg.Gateway, logger)
	accounts := provision.NewClient(cfg.Provisioner, logger)
	priceResolver, err := pricing.NewStaticResolver(cfg.Pricing, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pricing")
	}

	var notifier adapter.Notifier
	if cfg.Notify.TelegramToken != "" {
		notifier, err = notify.NewTelegramNotifier(cfg.Notify, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier")
		}
	} else {
		logger.Warn().Msg("notify.telegram_token not set; notifications go to the log only")
		notifier = notify.NewNoopNotifier(logger)
	}

	// ---- Use cases ----
	reconcileUC := usecase.NewReconcileUseCase(orderRepo, txManager, gateway, accounts, notifier, logger)
	orderUC := usecase.NewOrderUseCase(orderRepo, gateway, priceResolver, cfg.Gateway.ReturnURL, logger)

	// ---- Background workers ----
	sweep := sched.NewSweepWorker(reconcileUC, orderRepo, locker, cfg.Sweep, logger)
	sweep.Start(ctx)
	defer sweep.Stop()

	accountPoller := poller.NewAccountPoller(accounts, snapStore, cfg.Poller, logger)
	accountPoller.Start(ctx)
	defer accountPoller.Stop()

	// ---- HTTP server ----
	srv := web.NewServer(cfg.Web, orderUC, reconcileUC, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
