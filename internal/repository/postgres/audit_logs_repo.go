package postgres

import (
	"context"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

type auditLogsRepo struct{ db DB }

const insertAudit = `INSERT INTO audit_logs(entity_type, entity_id, action, details) VALUES($1,$2,$3,$4)`

func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) error {
	if _, err := r.db.Exec(ctx, insertAudit, l.EntityType, l.EntityID, l.Action, l.Details); err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *auditLogsRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, entity_type, entity_id, action, details, created_at
		   FROM audit_logs
		  WHERE entity_type=$1 AND entity_id=$2
		  ORDER BY created_at`,
		entityType, entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.EntityType, &l.EntityID, &l.Action, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
