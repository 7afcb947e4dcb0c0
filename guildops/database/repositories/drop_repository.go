package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/uptrace/bun"
)

type DropRepository interface {
	Create(ctx context.Context, drop *models.Drop) error
	GetByID(ctx context.Context, id int64) (*models.Drop, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*models.Drop, error)
	ListUnauctioned(ctx context.Context) ([]*models.Drop, error)
	ListAll(ctx context.Context, limit int) ([]*models.Drop, error)
	ResetAuctioned(ctx context.Context, ids []int64, actorID int64, reason string) (*models.AuditEntry, error)
}

type dropRepository struct {
	baseRepository
}

func NewDropRepository(db *bun.DB) DropRepository {
	return &dropRepository{baseRepository{db: db}}
}

func (r *dropRepository) Create(ctx context.Context, drop *models.Drop) error {
	drop.CreatedAt = time.Now()
	drop.UpdatedAt = time.Now()
	if _, err := r.db.NewInsert().Model(drop).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create drop: %w", err)
	}
	return nil
}

func (r *dropRepository) GetByID(ctx context.Context, id int64) (*models.Drop, error) {
	drop := new(models.Drop)
	err := r.db.NewSelect().
		Model(drop).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("drop", id)
		}
		return nil, fmt.Errorf("failed to get drop: %w", err)
	}
	return drop, nil
}

func (r *dropRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Drop, error) {
	var drops []*models.Drop
	err := r.db.NewSelect().
		Model(&drops).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get drops: %w", err)
	}
	return drops, nil
}

func (r *dropRepository) ListUnauctioned(ctx context.Context) ([]*models.Drop, error) {
	var drops []*models.Drop
	err := r.db.NewSelect().
		Model(&drops).
		Where("auctioned = ?", false).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unauctioned drops: %w", err)
	}
	return drops, nil
}

func (r *dropRepository) ListAll(ctx context.Context, limit int) ([]*models.Drop, error) {
	var drops []*models.Drop
	q := r.db.NewSelect().
		Model(&drops).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list drops: %w", err)
	}
	return drops, nil
}

// ResetAuctioned clears the already-auctioned guard on the given drops and
// records the correction in the audit log with before/after snapshots.
// Cancellation never clears the flag; this is the only path that does.
func (r *dropRepository) ResetAuctioned(ctx context.Context, ids []int64, actorID int64, reason string) (*models.AuditEntry, error) {
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("no drops given to reset")
	}
	if reason == "" {
		return nil, apperrors.NewValidationError("a reason is required for a drop reset")
	}

	var audit *models.AuditEntry
	err := r.withTx(ctx, StandardTxOptions(), func(ctx context.Context, tx bun.Tx) error {
		var drops []*models.Drop
		err := tx.NewSelect().
			Model(&drops).
			Where("id IN (?)", bun.In(ids)).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock drops: %w", err)
		}
		if len(drops) != len(ids) {
			return apperrors.NewNotFoundError("drop", 0)
		}

		before, err := json.Marshal(drops)
		if err != nil {
			return fmt.Errorf("failed to snapshot drops: %w", err)
		}

		_, err = tx.NewUpdate().
			Model((*models.Drop)(nil)).
			Set("auctioned = ?", false).
			Set("updated_at = ?", time.Now()).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to reset auctioned flag: %w", err)
		}

		for _, d := range drops {
			d.Auctioned = false
		}
		after, err := json.Marshal(drops)
		if err != nil {
			return fmt.Errorf("failed to snapshot drops: %w", err)
		}

		audit = &models.AuditEntry{
			Action:    models.AuditActionDropReset,
			ActorID:   actorID,
			Reason:    reason,
			Before:    before,
			After:     after,
			CreatedAt: time.Now(),
		}
		if _, err := tx.NewInsert().Model(audit).Exec(ctx); err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}
