package repositories

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swap-desk/backend/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var swapID *int64
	if entry.SwapID != nil {
		v := int64(*entry.SwapID)
		swapID = &v
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor, action, swap_id, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.Actor, entry.Action, swapID, entry.Meta)
	return err
}

func (r *AuditRepo) GetBySwap(ctx context.Context, swapID uint64, limit, offset int) ([]models.AuditLog, error) {
	return r.list(ctx, `WHERE swap_id = $1`, int64(swapID), limit, offset)
}

func (r *AuditRepo) GetByActor(ctx context.Context, actor string, limit, offset int) ([]models.AuditLog, error) {
	return r.list(ctx, `WHERE actor = $1`, actor, limit, offset)
}

func (r *AuditRepo) list(ctx context.Context, where string, arg any, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, action, swap_id, meta, created_at
		FROM audit_log `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, arg, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var (
			l      models.AuditLog
			swapID *int64
			meta   []byte
		)
		if err := rows.Scan(&l.ID, &l.Actor, &l.Action, &swapID, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if swapID != nil {
			v := uint64(*swapID)
			l.SwapID = &v
		}
		if len(meta) > 0 {
			l.Meta = json.RawMessage(meta)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
