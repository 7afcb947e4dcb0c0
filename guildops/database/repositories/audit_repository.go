package repositories

import (
	"context"
	"fmt"

	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/uptrace/bun"
)

type AuditRepository interface {
	ListByAction(ctx context.Context, action string, limit int) ([]*models.AuditEntry, error)
}

type auditRepository struct {
	db *bun.DB
}

func NewAuditRepository(db *bun.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) ListByAction(ctx context.Context, action string, limit int) ([]*models.AuditEntry, error) {
	var entries []*models.AuditEntry
	q := r.db.NewSelect().
		Model(&entries).
		Where("action = ?", action).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
