package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

// Notifier delivers a completed transaction to the account holder.
// Delivery is best-effort and never affects the ledger.
type Notifier interface {
	Notify(ctx context.Context, evt models.TransactionCompleted) error
}

type LogNotifier struct{ log *slog.Logger }

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, evt models.TransactionCompleted) error {
	n.log.Info("notification sent",
		"tx_id", evt.TransactionID, "user_id", evt.UserID, "type", evt.Type, "amount", evt.Amount, "balance", evt.Balance)
	return nil
}

// MultiNotifier fans out to every notifier. A failing notifier is logged
// and does not stop the others.
type MultiNotifier struct {
	notifiers []Notifier
	log       *slog.Logger
}

func NewMultiNotifier(log *slog.Logger, notifiers ...Notifier) *MultiNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &MultiNotifier{notifiers: notifiers, log: log}
}

func (m *MultiNotifier) Notify(ctx context.Context, evt models.TransactionCompleted) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, evt); err != nil {
			m.log.Warn("notifier failed", "tx_id", evt.TransactionID, "notifier", fmt.Sprintf("%T", n), "err", err)
		}
	}
	return nil
}
