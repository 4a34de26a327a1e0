// Package events moves ledger events between intake, settlement and
// notification, either in process or over RabbitMQ.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

type Settler interface {
	Settle(ctx context.Context, id string) (models.SettlementResult, error)
}

// RetryPolicy is the settlement retry policy: only errors marked retryable
// are repeated, with exponential backoff and full jitter.
func RetryPolicy(attempts int, base time.Duration) worker.RetryPolicy {
	return worker.RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		MaxDelay:    base * 16,
		Retryable:   errs.IsRetryable,
	}
}

// settleWithRetry runs Settle under policy. Exhaustion leaves the
// transaction PENDING and raises an operational alert.
func settleWithRetry(ctx context.Context, s Settler, policy worker.RetryPolicy, log *slog.Logger, txID string) (models.SettlementResult, error) {
	var res models.SettlementResult
	err := worker.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		r, err := s.Settle(ctx, txID)
		if err != nil {
			log.Warn("settlement attempt failed", "tx_id", txID, "attempt", attempt, "err", err)
			return err
		}
		res = r
		return nil
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Warn("settlement interrupted", "tx_id", txID, "err", err)
	case errs.IsRetryable(err):
		metrics.SettlementRetriesExhausted.Inc()
		log.Error("settlement retries exhausted, transaction left PENDING",
			"tx_id", txID, "attempts", policy.MaxAttempts, "err", err, "alert", true)
	default:
		log.Error("settlement failed", "tx_id", txID, "err", err)
	}
	return res, err
}

// SettlementDispatcher settles TransactionCreated events on a worker pool.
type SettlementDispatcher struct {
	pool    *worker.Pool
	settler Settler
	policy  worker.RetryPolicy
	log     *slog.Logger
}

func NewSettlementDispatcher(pool *worker.Pool, settler Settler, policy worker.RetryPolicy, log *slog.Logger) *SettlementDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &SettlementDispatcher{pool: pool, settler: settler, policy: policy, log: log}
}

// EnqueueSettlement queues the settlement and returns without waiting for it.
func (d *SettlementDispatcher) EnqueueSettlement(ctx context.Context, evt models.TransactionCreated) error {
	// The job outlives the request that created it.
	jobCtx := context.WithoutCancel(ctx)
	return d.pool.Submit(ctx, func() {
		_, _ = settleWithRetry(jobCtx, d.settler, d.policy, d.log, evt.TransactionID)
	})
}
