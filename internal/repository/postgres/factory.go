package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of *pgxpool.Pool the repositories use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repositories struct {
	Users        repo.Users
	Transactions repo.Transactions
	AuditLogs    repo.AuditLogs
	Ledger       repo.LedgerStore
}

func NewRepositories(db DB, lockTimeout time.Duration) Repositories {
	return Repositories{
		Users:        &usersRepo{db},
		Transactions: &transactionsRepo{db},
		AuditLogs:    &auditLogsRepo{db},
		Ledger:       NewLedgerStore(db, lockTimeout),
	}
}

const (
	codeUniqueViolation  = "23505"
	codeForeignKey       = "23503"
	codeInvalidText      = "22P02" // e.g. a malformed uuid
	codeLockNotAvailable = "55P03"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable:
			return errors.Join(errs.ErrLockTimeout, err)
		case codeUniqueViolation:
			return errors.Join(errs.ErrConflict, err)
		case codeForeignKey, codeInvalidText:
			return errors.Join(errs.ErrNotFound, err)
		}
	}
	return err
}
