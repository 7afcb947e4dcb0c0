package auction

import (
	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
)

// ValidateBid applies every bid acceptance rule against a snapshot of the
// lot, its auction and the bidder. The repository re-runs the same checks
// under row locks before committing; this pure form exists so rejections can
// be produced (and tested) without touching storage.
func ValidateBid(lot *models.Lot, a *models.Auction, bidder *models.User, amount int64) error {
	if lot.Status != models.LotStatusInAuction {
		return apperrors.NewValidationError("lot %d is %s, bidding is closed", lot.ID, lot.Status)
	}
	if !bidder.IsActive {
		return apperrors.NewValidationError("user %s is not an active member", bidder.Username)
	}
	if amount <= 0 {
		return apperrors.NewValidationError("bid amount must be positive, got %d", amount)
	}

	floor := lot.CurrentBid + a.MinIncrement
	if !lot.HasBid() && lot.Drop != nil && lot.Drop.MinimumBid > floor {
		floor = lot.Drop.MinimumBid
	}
	if amount < floor {
		return apperrors.NewValidationError("bid %d is below the floor of %d", amount, floor)
	}
	if bidder.Balance < amount {
		return apperrors.NewValidationError("bid %d exceeds balance %d", amount, bidder.Balance)
	}
	return nil
}
