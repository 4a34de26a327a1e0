package repository

import (
	"context"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

type Users interface {
	Create(ctx context.Context, u models.User) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
}

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)
	// ListPending returns PENDING transactions created before olderThan, oldest first.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error)
}

// LedgerStore runs settlement units of work. Everything done through the
// LedgerTx passed to fn commits together when fn returns nil and is
// discarded otherwise; locks taken inside are released either way.
type LedgerStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

type LedgerTx interface {
	LoadTransaction(ctx context.Context, id string) (models.Transaction, error)
	// LockUser blocks until the user row is exclusively held by this unit
	// of work. Returns errs.ErrLockTimeout when the wait is bounded and expires.
	LockUser(ctx context.Context, userID string) (models.User, error)
	SaveUser(ctx context.Context, u models.User) error
	// SaveTransaction only moves a PENDING row; errs.ErrAlreadySettled otherwise.
	SaveTransaction(ctx context.Context, tx models.Transaction) error
	AppendAudit(ctx context.Context, l models.AuditLog) error
}
