package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

// CompletionPublisher receives TransactionCompleted after a successful
// settlement has committed.
type CompletionPublisher interface {
	PublishCompleted(ctx context.Context, evt models.TransactionCompleted) error
}

// SettlementEngine moves PENDING transactions to SUCCESS or FAILED.
//
// Every attempt runs in one unit of work that holds the owning user's row
// lock across read-balance, compute, write-balance and write-status, so
// settlements of the same user are totally ordered and a transaction is
// transitioned at most once no matter how often it is delivered.
type SettlementEngine struct {
	ledger    repo.LedgerStore
	users     repo.Users
	publisher CompletionPublisher
	log       *slog.Logger
	now       func() time.Time
}

func NewSettlementEngine(ledger repo.LedgerStore, users repo.Users, publisher CompletionPublisher, log *slog.Logger) *SettlementEngine {
	if log == nil {
		log = slog.Default()
	}
	return &SettlementEngine{ledger: ledger, users: users, publisher: publisher, log: log, now: time.Now}
}

// Settle applies transaction id. Calling it again for a settled
// transaction returns the recorded outcome with Applied=false.
//
// Errors: errs.ErrNotFound (terminal) or *errs.SettlementFailedError
// (retryable; nothing was persisted).
func (e *SettlementEngine) Settle(ctx context.Context, id string) (models.SettlementResult, error) {
	start := time.Now()
	defer func() { metrics.SettlementDuration.Observe(time.Since(start).Seconds()) }()

	var (
		res           models.SettlementResult
		settled       models.Transaction
		lookupBalance bool
	)
	err := e.ledger.WithinTx(ctx, func(ctx context.Context, tx repo.LedgerTx) error {
		t, err := tx.LoadTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			res = outcome(t, 0, false)
			lookupBalance = true
			return nil
		}

		user, err := tx.LockUser(ctx, t.UserID)
		if err != nil {
			return err
		}
		// A duplicate delivery may have settled it while we waited.
		t, err = tx.LoadTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			res = outcome(t, user.Balance, false)
			return nil
		}

		status, balance := applyRule(t, user.Balance)
		if balance != user.Balance {
			user.Balance = balance
			if err := tx.SaveUser(ctx, user); err != nil {
				return err
			}
		}
		t.Status = status
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, settlementAudit(t, balance)); err != nil {
			return err
		}

		settled = t
		res = outcome(t, balance, true)
		return nil
	})
	if err != nil {
		return models.SettlementResult{}, e.classify(id, err)
	}

	if !res.Applied {
		metrics.SettlementAttempts.WithLabelValues("noop").Inc()
		if lookupBalance {
			if u, uerr := e.users.GetByID(ctx, res.UserID); uerr == nil {
				res.Balance = u.Balance
			}
		}
		e.log.Debug("settlement skipped, already terminal", "tx_id", id, "status", res.Status)
		return res, nil
	}

	metrics.SettlementAttempts.WithLabelValues("settled").Inc()
	metrics.SettlementsTotal.WithLabelValues(string(settled.Type), string(settled.Status)).Inc()

	if settled.Status == models.TxnFailed {
		e.log.Warn("insufficient balance, transaction failed",
			"tx_id", settled.ID, "user_id", settled.UserID, "amount", settled.Amount, "balance", res.Balance)
		return res, nil
	}

	e.log.Info("transaction settled",
		"tx_id", settled.ID, "user_id", settled.UserID, "type", settled.Type, "amount", settled.Amount, "balance", res.Balance)
	e.publishCompleted(ctx, settled, res.Balance)
	return res, nil
}

func (e *SettlementEngine) classify(id string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		metrics.SettlementAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("settle %s: %w", id, err)
	case errors.Is(err, context.Canceled):
		metrics.SettlementAttempts.WithLabelValues("error").Inc()
		return err
	default:
		// Lock timeouts, storage faults and a lost status race all roll
		// back cleanly; the next attempt starts again from the load.
		metrics.SettlementAttempts.WithLabelValues("retryable").Inc()
		return errs.SettlementFailed(id, err)
	}
}

func (e *SettlementEngine) publishCompleted(ctx context.Context, t models.Transaction, balance int64) {
	if e.publisher == nil {
		return
	}
	evt := models.TransactionCompleted{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Type:          t.Type,
		Amount:        t.Amount,
		Status:        t.Status,
		Balance:       balance,
		CompletedAt:   e.now(),
	}
	if err := e.publisher.PublishCompleted(ctx, evt); err != nil {
		e.log.Error("publish transaction completed", "tx_id", t.ID, "err", err)
	}
}

// applyRule evaluates a pending transaction against the locked balance.
func applyRule(t models.Transaction, balance int64) (models.TransactionStatus, int64) {
	if t.Amount < 1 {
		return models.TxnFailed, balance
	}
	switch t.Type {
	case models.TxnCredit:
		if balance > math.MaxInt64-t.Amount {
			return models.TxnFailed, balance
		}
		return models.TxnSuccess, balance + t.Amount
	case models.TxnDebit:
		if balance < t.Amount {
			return models.TxnFailed, balance
		}
		return models.TxnSuccess, balance - t.Amount
	default:
		return models.TxnFailed, balance
	}
}

func outcome(t models.Transaction, balance int64, applied bool) models.SettlementResult {
	return models.SettlementResult{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Status:        t.Status,
		Balance:       balance,
		Applied:       applied,
	}
}

func settlementAudit(t models.Transaction, balance int64) models.AuditLog {
	id := t.ID
	return models.AuditLog{
		EntityType: "transaction",
		EntityID:   &id,
		Action:     "status_change",
		Details: map[string]any{
			"from":    string(models.TxnPending),
			"to":      string(t.Status),
			"type":    string(t.Type),
			"amount":  t.Amount,
			"balance": balance,
		},
	}
}
