package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
)

type ledgerStore struct {
	db          DB
	lockTimeout time.Duration
}

// NewLedgerStore returns a LedgerStore backed by one pgx transaction per
// unit of work. A positive lockTimeout bounds every row-lock wait.
func NewLedgerStore(db DB, lockTimeout time.Duration) repo.LedgerStore {
	return &ledgerStore{db: db, lockTimeout: lockTimeout}
}

func (s *ledgerStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repo.LedgerTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if s.lockTimeout > 0 {
		// SET does not take bind parameters.
		q := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, q); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	if err := fn(ctx, &ledgerTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", mapErr(err))
	}
	return nil
}

type ledgerTx struct{ tx pgx.Tx }

func (t *ledgerTx) LoadTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id))
}

func (t *ledgerTx) LockUser(ctx context.Context, userID string) (models.User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1 FOR UPDATE`, userID))
}

func (t *ledgerTx) SaveUser(ctx context.Context, u models.User) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET balance=$2, updated_at=now() WHERE id=$1`, u.ID, u.Balance)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) SaveTransaction(ctx context.Context, tx models.Transaction) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE transactions SET status=$2, updated_at=now() WHERE id=$1 AND status='PENDING'`,
		tx.ID, string(tx.Status),
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadySettled
	}
	return nil
}

func (t *ledgerTx) AppendAudit(ctx context.Context, l models.AuditLog) error {
	if _, err := t.tx.Exec(ctx, insertAudit, l.EntityType, l.EntityID, l.Action, l.Details); err != nil {
		return mapErr(err)
	}
	return nil
}
