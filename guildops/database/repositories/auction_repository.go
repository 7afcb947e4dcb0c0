package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/uptrace/bun"
)

type AuctionRepository interface {
	CreateWithLots(ctx context.Context, auction *models.Auction, dropIDs []int64) (*models.Auction, error)
	GetByID(ctx context.Context, id int64) (*models.Auction, error)
	GetActive(ctx context.Context) (*models.Auction, error)
	Activate(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, error)
	CancelCascade(ctx context.Context, auctionID int64, now time.Time) error
}

type auctionRepository struct {
	baseRepository
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{baseRepository{db: db}}
}

// CreateWithLots persists a pending auction and its lots in one transaction.
// Every referenced drop is locked and checked against the already-auctioned
// guard so the same loot cannot be listed twice.
func (r *auctionRepository) CreateWithLots(ctx context.Context, auction *models.Auction, dropIDs []int64) (*models.Auction, error) {
	err := r.withTx(ctx, StandardTxOptions(), func(ctx context.Context, tx bun.Tx) error {
		var drops []*models.Drop
		err := tx.NewSelect().
			Model(&drops).
			Where("id IN (?)", bun.In(dropIDs)).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock drops: %w", err)
		}
		if len(drops) != len(dropIDs) {
			return apperrors.NewNotFoundError("drop", 0)
		}
		for _, d := range drops {
			if d.Auctioned {
				return apperrors.NewValidationError("drop %d (%s) was already auctioned", d.ID, d.Name)
			}
		}

		auction.Status = models.AuctionStatusPending
		auction.CreatedAt = time.Now()
		auction.UpdatedAt = time.Now()
		if _, err := tx.NewInsert().Model(auction).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create auction: %w", err)
		}

		lots := make([]*models.Lot, 0, len(dropIDs))
		for i, dropID := range dropIDs {
			lots = append(lots, &models.Lot{
				AuctionID: auction.ID,
				DropID:    dropID,
				Position:  i,
				Status:    models.LotStatusWaiting,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			})
		}
		if _, err := tx.NewInsert().Model(&lots).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create lots: %w", err)
		}
		auction.Lots = lots
		return nil
	})
	if err != nil {
		return nil, err
	}
	return auction, nil
}

func (r *auctionRepository) GetByID(ctx context.Context, id int64) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Relation("Lots", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Relation("Lots.Drop").
		Where("a.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("auction", id)
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

// GetActive returns the single active auction, nil when there is none.
func (r *auctionRepository) GetActive(ctx context.Context) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Relation("Lots", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Relation("Lots.Drop").
		Where("a.status = ?", models.AuctionStatusActive).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active auction: %w", err)
	}
	return auction, nil
}

// Activate transitions a pending auction to active, consumes its drops and
// opens the first lot. The status-conditional update plus the partial unique
// index guarantee two racing starts cannot both succeed.
func (r *auctionRepository) Activate(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, error) {
	err := r.withTx(ctx, SerializableTxOptions(), func(ctx context.Context, tx bun.Tx) error {
		auction := new(models.Auction)
		err := tx.NewSelect().
			Model(auction).
			Where("id = ?", auctionID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFoundError("auction", auctionID)
			}
			return fmt.Errorf("failed to lock auction: %w", err)
		}

		if auction.Status != models.AuctionStatusPending {
			return apperrors.NewValidationError("auction %d is %s, only a pending auction can be started", auctionID, auction.Status)
		}

		lotCount, err := tx.NewSelect().
			Model((*models.Lot)(nil)).
			Where("auction_id = ?", auctionID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count lots: %w", err)
		}
		if lotCount == 0 {
			return apperrors.NewValidationError("auction %d has no lots", auctionID)
		}

		result, err := tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("status = ?", models.AuctionStatusActive).
			Set("started_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", auctionID).
			Where("status = ?", models.AuctionStatusPending).
			Where("NOT EXISTS (SELECT 1 FROM auctions WHERE status = ?)", models.AuctionStatusActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to activate auction: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return apperrors.NewValidationError("another auction is already active")
		}

		// Consume the drops so they can never be listed again, even if this
		// auction is later cancelled.
		_, err = tx.NewUpdate().
			Model((*models.Drop)(nil)).
			Set("auctioned = ?", true).
			Set("updated_at = ?", now).
			Where("id IN (SELECT drop_id FROM lots WHERE auction_id = ?)", auctionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark drops auctioned: %w", err)
		}

		result, err = tx.NewUpdate().
			Model((*models.Lot)(nil)).
			Set("status = ?", models.LotStatusInAuction).
			Set("started_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = (SELECT id FROM lots WHERE auction_id = ? AND status = ? ORDER BY position ASC LIMIT 1)",
				auctionID, models.LotStatusWaiting).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to open first lot: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return apperrors.NewValidationError("auction %d has no waiting lot to open", auctionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, auctionID)
}

// CancelCascade cancels the auction together with every non-terminal lot and
// every active bid on those lots. Sold and no-bid lots are left untouched;
// the auctioned flag on drops is deliberately preserved.
func (r *auctionRepository) CancelCascade(ctx context.Context, auctionID int64, now time.Time) error {
	return r.withTx(ctx, SerializableTxOptions(), func(ctx context.Context, tx bun.Tx) error {
		auction := new(models.Auction)
		err := tx.NewSelect().
			Model(auction).
			Where("id = ?", auctionID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFoundError("auction", auctionID)
			}
			return fmt.Errorf("failed to lock auction: %w", err)
		}

		if auction.Status == models.AuctionStatusFinished {
			return apperrors.NewValidationError("auction %d is already finished", auctionID)
		}

		_, err = tx.NewUpdate().
			Model((*models.Bid)(nil)).
			Set("status = ?", models.BidStatusCancelled).
			Set("updated_at = ?", now).
			Where("status = ?", models.BidStatusActive).
			Where("lot_id IN (SELECT id FROM lots WHERE auction_id = ? AND status IN (?, ?))",
				auctionID, models.LotStatusWaiting, models.LotStatusInAuction).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to cancel active bids: %w", err)
		}

		_, err = tx.NewUpdate().
			Model((*models.Lot)(nil)).
			Set("status = ?", models.LotStatusCancelled).
			Set("updated_at = ?", now).
			Where("auction_id = ?", auctionID).
			Where("status IN (?, ?)", models.LotStatusWaiting, models.LotStatusInAuction).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to cancel lots: %w", err)
		}

		_, err = tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("status = ?", models.AuctionStatusCancelled).
			Set("finished_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", auctionID).
			Where("status IN (?, ?)", models.AuctionStatusPending, models.AuctionStatusActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to cancel auction: %w", err)
		}
		return nil
	})
}
