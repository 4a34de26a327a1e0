package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

type Notifier interface {
	Notify(ctx context.Context, evt models.TransactionCompleted) error
}

const (
	defaultSubmitTimeout = 2 * time.Second
	defaultNotifyTimeout = 5 * time.Second
)

// CompletionDispatcher delivers TransactionCompleted to a Notifier on its
// own pool, so a slow notifier never holds up settlement.
type CompletionDispatcher struct {
	pool          *worker.Pool
	notifier      Notifier
	log           *slog.Logger
	submitTimeout time.Duration
	notifyTimeout time.Duration
}

func NewCompletionDispatcher(pool *worker.Pool, notifier Notifier, log *slog.Logger) *CompletionDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &CompletionDispatcher{
		pool:          pool,
		notifier:      notifier,
		log:           log,
		submitTimeout: defaultSubmitTimeout,
		notifyTimeout: defaultNotifyTimeout,
	}
}

func (d *CompletionDispatcher) PublishCompleted(ctx context.Context, evt models.TransactionCompleted) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.submitTimeout)
	defer cancel()
	return d.pool.Submit(sctx, func() {
		d.deliver(evt)
	})
}

func (d *CompletionDispatcher) deliver(evt models.TransactionCompleted) {
	ctx, cancel := context.WithTimeout(context.Background(), d.notifyTimeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, evt); err != nil {
		d.log.Warn("notification failed", "tx_id", evt.TransactionID, "err", err)
	}
}
