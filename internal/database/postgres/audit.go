package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/racepix/racepix/internal/database"
)

// AuditRepository is the PostgreSQL implementation of
// database.AuditRepository. Rows are never updated or deleted.
type AuditRepository struct {
	pool *Pool
}

func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Append(ctx context.Context, entry *database.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var detail any
	if len(entry.Detail) > 0 {
		detail = []byte(entry.Detail)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, photo_id, user_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.PhotoID, entry.UserID, entry.Action, detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByPhoto(ctx context.Context, photoID string) ([]database.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photo_id, user_id, action, detail, created_at
		FROM audit_logs WHERE photo_id = $1
		ORDER BY created_at ASC`, photoID)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []database.AuditLog
	for rows.Next() {
		var e database.AuditLog
		var detail []byte
		if err := rows.Scan(&e.ID, &e.PhotoID, &e.UserID, &e.Action, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.Detail = detail
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return entries, nil
}
