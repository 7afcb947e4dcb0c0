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

/// FinalizeResult describes everything a single lot finalization changed:
// the closed lot, the ledger entry for a sale (nil on a no-bid close), the
// lot that was opened next and whether the whole auction finished. Timer is
// the auction's per-lot countdown, so callers can report the next lot's
// remaining time without another read.
type FinalizeResult struct {
	Lot             *models.Lot
	Entry           *models.DKPEntry
	NextLot         *models.Lot
	AuctionFinished bool
	Timer           time.Duration
}

type LotRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Lot, error)
	ApplyBid(ctx context.Context, lotID, bidderID, amount int64, now time.Time) (*models.Bid, error)
	Finalize(ctx context.Context, lotID int64, now time.Time) (*FinalizeResult, error)
	GetWonByUser(ctx context.Context, userID int64) ([]*models.Lot, error)
	GetBidsByLot(ctx context.Context, lotID int64) ([]*models.Bid, error)
}

type lotRepository struct {
	baseRepository
}

func NewLotRepository(db *bun.DB) LotRepository {
	return &lotRepository{baseRepository{db: db}}
}

func (r *lotRepository) GetByID(ctx context.Context, id int64) (*models.Lot, error) {
	lot := new(models.Lot)
	err := r.db.NewSelect().
		Model(lot).
		Relation("Drop").
		Where("l.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("lot", id)
		}
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	return lot, nil
}

// ApplyBid records a bid against an open lot. The lot row lock makes the
// whole read-validate-write sequence atomic against concurrent bids and
// against the timer closing the lot: a bid that arrives after finalization
// took the lock fails the in_auction re-check and is rejected whole.
// An accepted bid resets the lot timer.
func (r *lotRepository) ApplyBid(ctx context.Context, lotID, bidderID, amount int64, now time.Time) (*models.Bid, error) {
	var bid *models.Bid
	err := r.withTx(ctx, SerializableTxOptions(), func(ctx context.Context, tx bun.Tx) error {
		lot := new(models.Lot)
		err := tx.NewSelect().
			Model(lot).
			Where("l.id = ?", lotID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFoundError("lot", lotID)
			}
			return fmt.Errorf("failed to lock lot: %w", err)
		}

		if lot.Status != models.LotStatusInAuction {
			return apperrors.NewValidationError("lot %d is %s, bidding is closed", lotID, lot.Status)
		}

		auction := new(models.Auction)
		err = tx.NewSelect().
			Model(auction).
			Where("id = ?", lot.AuctionID).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auction: %w", err)
		}

		drop := new(models.Drop)
		err = tx.NewSelect().
			Model(drop).
			Where("id = ?", lot.DropID).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to get drop: %w", err)
		}

		bidder := new(models.User)
		err = tx.NewSelect().
			Model(bidder).
			Where("id = ?", bidderID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFoundError("user", bidderID)
			}
			return fmt.Errorf("failed to lock bidder: %w", err)
		}

		if !bidder.IsActive {
			return apperrors.NewValidationError("user %s is not an active member", bidder.Username)
		}
		floor := lot.CurrentBid + auction.MinIncrement
		if !lot.HasBid() && drop.MinimumBid > floor {
			floor = drop.MinimumBid
		}
		if amount < floor {
			return apperrors.NewValidationError("bid %d is below the floor of %d", amount, floor)
		}
		if bidder.Balance < amount {
			return apperrors.NewValidationError("bid %d exceeds balance %d", amount, bidder.Balance)
		}

		_, err = tx.NewUpdate().
			Model((*models.Bid)(nil)).
			Set("status = ?", models.BidStatusOutbid).
			Set("updated_at = ?", now).
			Where("lot_id = ?", lotID).
			Where("status = ?", models.BidStatusActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to outbid previous bids: %w", err)
		}

		bid = &models.Bid{
			LotID:     lotID,
			BidderID:  bidderID,
			Amount:    amount,
			Status:    models.BidStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.NewInsert().Model(bid).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}

		result, err := tx.NewUpdate().
			Model((*models.Lot)(nil)).
			Set("current_bid = ?", amount).
			Set("current_winner = ?", bidderID).
			Set("started_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", lotID).
			Where("status = ?", models.LotStatusInAuction).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update lot: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return apperrors.NewValidationError("lot %d closed while bidding", lotID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// Finalize closes an open lot and advances the auction, all in one
// transaction: the winning bid is marked won and the price debited from the
// winner's ledger, or the lot goes to no_bids; then the next waiting lot is
// opened, or the auction finishes when none remains. A lot that is no longer
// in_auction fails validation without touching anything, which makes the
// operation idempotent and settles the bid-versus-timer race in favour of
// whichever took the row lock first.
func (r *lotRepository) Finalize(ctx context.Context, lotID int64, now time.Time) (*FinalizeResult, error) {
	res := new(FinalizeResult)
	err := r.withTx(ctx, SerializableTxOptions(), func(ctx context.Context, tx bun.Tx) error {
		lot := new(models.Lot)
		err := tx.NewSelect().
			Model(lot).
			Where("l.id = ?", lotID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFoundError("lot", lotID)
			}
			return fmt.Errorf("failed to lock lot: %w", err)
		}

		if lot.Status != models.LotStatusInAuction {
			return apperrors.NewValidationError("lot %d is %s, nothing to finalize", lotID, lot.Status)
		}

		parent := new(models.Auction)
		err = tx.NewSelect().
			Model(parent).
			Where("id = ?", lot.AuctionID).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auction: %w", err)
		}
		res.Timer = parent.Timer()

		drop := new(models.Drop)
		err = tx.NewSelect().
			Model(drop).
			Where("id = ?", lot.DropID).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to get drop: %w", err)
		}

		if lot.HasBid() {
			result, err := tx.NewUpdate().
				Model((*models.Bid)(nil)).
				Set("status = ?", models.BidStatusWon).
				Set("updated_at = ?", now).
				Where("lot_id = ?", lotID).
				Where("status = ?", models.BidStatusActive).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to mark winning bid: %w", err)
			}
			if affected, _ := result.RowsAffected(); affected == 0 {
				return fmt.Errorf("lot %d has a current bid but no active bid row", lotID)
			}

			entry := &models.DKPEntry{
				UserID:    lot.CurrentWinner,
				Amount:    -lot.CurrentBid,
				Type:      models.EntryTypeItemPurchase,
				Reason:    fmt.Sprintf("won %s", drop.Name),
				LotID:     lotID,
				AuctionID: lot.AuctionID,
			}
			if err := applyDKPEntryTx(ctx, tx, entry); err != nil {
				return err
			}
			res.Entry = entry
			lot.Status = models.LotStatusSold
		} else {
			lot.Status = models.LotStatusNoBids
		}

		_, err = tx.NewUpdate().
			Model((*models.Lot)(nil)).
			Set("status = ?", lot.Status).
			Set("finished_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", lotID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to close lot: %w", err)
		}
		lot.FinishedAt = &now
		lot.Drop = drop
		res.Lot = lot

		next := new(models.Lot)
		err = tx.NewSelect().
			Model(next).
			Where("auction_id = ?", lot.AuctionID).
			Where("status = ?", models.LotStatusWaiting).
			Order("position ASC").
			Limit(1).
			For("UPDATE").
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to find next lot: %w", err)
		}

		if errors.Is(err, sql.ErrNoRows) {
			result, err := tx.NewUpdate().
				Model((*models.Auction)(nil)).
				Set("status = ?", models.AuctionStatusFinished).
				Set("finished_at = ?", now).
				Set("updated_at = ?", now).
				Where("id = ?", lot.AuctionID).
				Where("status = ?", models.AuctionStatusActive).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to finish auction: %w", err)
			}
			if affected, _ := result.RowsAffected(); affected == 0 {
				return fmt.Errorf("auction %d was not active at finish", lot.AuctionID)
			}
			res.AuctionFinished = true
			return nil
		}

		_, err = tx.NewUpdate().
			Model((*models.Lot)(nil)).
			Set("status = ?", models.LotStatusInAuction).
			Set("started_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", next.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to open next lot: %w", err)
		}
		next.Status = models.LotStatusInAuction
		next.StartedAt = &now
		res.NextLot = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *lotRepository) GetWonByUser(ctx context.Context, userID int64) ([]*models.Lot, error) {
	var lots []*models.Lot
	err := r.db.NewSelect().
		Model(&lots).
		Relation("Drop").
		Where("l.status = ?", models.LotStatusSold).
		Where("l.current_winner = ?", userID).
		Order("l.finished_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get won lots: %w", err)
	}
	return lots, nil
}

func (r *lotRepository) GetBidsByLot(ctx context.Context, lotID int64) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := r.db.NewSelect().
		Model(&bids).
		Where("lot_id = ?", lotID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	return bids, nil
}
