package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/baharkarakas/wallet-ledger/internal/app"
	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/events"
	"github.com/baharkarakas/wallet-ledger/internal/logger"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

// The worker settles transaction.created and delivers transaction.completed
// from RabbitMQ. It needs a shared store, so STORE=memory is rejected.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env, cfg.LogLevel).With("component", "worker")
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", "err", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Store == "memory" {
		return errors.New("worker requires STORE=postgres")
	}
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	notifier, closeNotifier, err := app.Notifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	rmq, err := app.DialRabbit(cfg, "wallet-ledger-worker")
	if err != nil {
		return err
	}
	defer func() { _ = rmq.Close() }()

	engine := services.NewSettlementEngine(stores.Ledger, stores.Users, events.NewRabbitPublisher(rmq.Channel), log)
	policy := events.RetryPolicy(cfg.SettlementMaxAttempts, cfg.SettlementRetryBase)

	g, gctx := errgroup.WithContext(ctx)
	consume := func(queue string, h events.Handler) error {
		ch, err := rmq.NewChannel()
		if err != nil {
			return fmt.Errorf("channel for %s: %w", queue, err)
		}
		defer func() { _ = ch.Close() }()
		deliveries, err := ch.Consume(queue, "wallet-ledger-"+queue, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		log.Info("consuming", "queue", queue)
		return events.Consume(gctx, deliveries, h)
	}

	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error {
			return consume(events.QueueSettlement, events.NewSettlementConsumer(engine, policy, log))
		})
	}
	g.Go(func() error { return consume(events.QueueNotification, events.NewNotificationConsumer(notifier, log)) })
	return g.Wait()
}
