package postgres

import (
	"context"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/google/uuid"
)

type transactionsRepo struct{ db DB }

const transactionColumns = `id, user_id, type, amount, status, remarks, created_at, updated_at`

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		t      models.Transaction
		typ    string
		status string
	)
	err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &status, &t.Remarks, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Transaction{}, mapErr(err)
	}
	t.Type = models.TransactionType(typ)
	t.Status = models.TransactionStatus(status)
	return t, nil
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO transactions(id, user_id, type, amount, status, remarks)
		 VALUES($1,$2,$3,$4,$5,$6)
		 RETURNING created_at, updated_at`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount, string(tx.Status), tx.Remarks,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return models.Transaction{}, mapErr(err)
	}
	return tx, nil
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id))
}

func (r *transactionsRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+`
		   FROM transactions
		  WHERE user_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
}

func (r *transactionsRepo) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+`
		   FROM transactions
		  WHERE status='PENDING' AND created_at < $1
		  ORDER BY created_at
		  LIMIT $2`,
		olderThan, limit,
	)
}

func (r *transactionsRepo) list(ctx context.Context, q string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
