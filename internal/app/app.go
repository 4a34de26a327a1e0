// Package app wires infrastructure shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/db"
	"github.com/baharkarakas/wallet-ledger/internal/events"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	mongorepo "github.com/baharkarakas/wallet-ledger/internal/repository/mongodb"
	"github.com/baharkarakas/wallet-ledger/internal/repository/postgres"
	redisrepo "github.com/baharkarakas/wallet-ledger/internal/repository/redis"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type Stores struct {
	Users        repo.Users
	Transactions repo.Transactions
	AuditLogs    repo.AuditLogs
	Ledger       repo.LedgerStore
	// Ping checks the backing database; nil for the memory store.
	Ping  func(ctx context.Context) error
	Close func()
}

// OpenStores opens the configured ledger store, migrating Postgres if asked.
func OpenStores(ctx context.Context, cfg config.Config, log *slog.Logger) (Stores, error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store, data is lost on exit")
		users, trx, audit, ledger := memory.NewStore(cfg.LockTimeout).Repositories()
		return Stores{Users: users, Transactions: trx, AuditLogs: audit, Ledger: ledger, Close: func() {}}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.Workers*2+4))
	if err != nil {
		return Stores{}, fmt.Errorf("db connect: %w", err)
	}
	if cfg.Migrate {
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return Stores{}, fmt.Errorf("migrations: %w", err)
		}
		log.Info("migrations applied")
	}
	r := postgres.NewRepositories(pool, cfg.LockTimeout)
	return Stores{
		Users:        r.Users,
		Transactions: r.Transactions,
		AuditLogs:    r.AuditLogs,
		Ledger:       r.Ledger,
		Ping:         pool.Ping,
		Close:        pool.Close,
	}, nil
}

// Notifier builds the completion notifier: always the log, plus the Mongo
// audit collection when MONGO_URI is set.
func Notifier(ctx context.Context, cfg config.Config, log *slog.Logger) (services.Notifier, func(), error) {
	notifiers := []services.Notifier{services.NewLogNotifier(log)}
	closeFn := func() {}
	if cfg.MongoURI != "" {
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		notifiers = append(notifiers, mongorepo.NewAuditRepository(client, cfg.MongoDB))
		closeFn = func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn("mongo disconnect", "err", err)
			}
		}
		log.Info("mongo audit notifier enabled", "db", cfg.MongoDB)
	}
	return services.NewMultiNotifier(log, notifiers...), closeFn, nil
}

// IdempotencyStore returns Redis when REDIS_ADDR is set, else process memory.
func IdempotencyStore(ctx context.Context, cfg config.Config, log *slog.Logger) (middleware.IdempotencyStore, func(), error) {
	if cfg.RedisAddr == "" {
		return memory.NewIdempotencyStore(), func() {}, nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis idempotency store enabled", "addr", cfg.RedisAddr)
	return redisrepo.NewIdempotencyRepository(client), func() { _ = client.Close() }, nil
}

// Rabbit is a connection with one channel whose topology is declared.
type Rabbit struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

func DialRabbit(cfg config.Config, name string) (*Rabbit, error) {
	conn, err := amqp.DialConfig(cfg.AMQPURL, amqp.Config{
		Properties: amqp.Table{"connection_name": name},
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := events.DeclareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Rabbit{Conn: conn, Channel: ch}, nil
}

// NewChannel opens another channel on the connection with prefetch 1.
func (r *Rabbit) NewChannel() (*amqp.Channel, error) {
	ch, err := r.Conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *Rabbit) Close() error {
	return errors.Join(r.Channel.Close(), r.Conn.Close())
}
