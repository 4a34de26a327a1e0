package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baharkarakas/wallet-ledger/internal/api"
	"github.com/baharkarakas/wallet-ledger/internal/app"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/events"
	"github.com/baharkarakas/wallet-ledger/internal/logger"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	idem, closeIdem, err := app.IdempotencyStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeIdem()

	var queue services.SettlementQueue
	switch cfg.Dispatcher {
	case "rabbitmq":
		// Settlement runs in cmd/worker.
		rmq, err := app.DialRabbit(cfg, "wallet-ledger-api")
		if err != nil {
			return err
		}
		defer func() { _ = rmq.Close() }()
		queue = events.NewRabbitPublisher(rmq.Channel)
	default:
		notifier, closeNotifier, err := app.Notifier(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeNotifier()

		// Deferred calls run in reverse: the settle pool drains first, and
		// its jobs may still hand completions to the notify pool.
		notifyPool := worker.NewPool(2, 256)
		defer notifyPool.Stop()
		completion := events.NewCompletionDispatcher(notifyPool, notifier, log)

		engine := services.NewSettlementEngine(stores.Ledger, stores.Users, completion, log)
		settlePool := worker.NewPool(cfg.Workers, 1024)
		defer settlePool.Stop()
		queue = events.NewSettlementDispatcher(settlePool, engine,
			events.RetryPolicy(cfg.SettlementMaxAttempts, cfg.SettlementRetryBase), log)
	}

	tokens := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	router := api.NewRouter(api.RouterDeps{
		Cfg:         cfg,
		Tokens:      tokens,
		UserSvc:     services.NewUserService(stores.Users, tokens, log),
		BalanceSvc:  services.NewBalanceService(stores.Users),
		TxnSvc:      services.NewTransactionService(stores.Users, stores.Transactions, stores.AuditLogs, queue, cfg.PrecheckBalance, log),
		Idempotency: idem,
		Ready: func(r *http.Request) error {
			if stores.Ping == nil {
				return nil
			}
			return stores.Ping(r.Context())
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "port", cfg.HTTPPort, "store", cfg.Store, "dispatcher", cfg.Dispatcher)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
