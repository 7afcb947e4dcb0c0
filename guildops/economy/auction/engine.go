package auction

import (
	"context"
	"log/slog"
	"time"

	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/raidledger/guildops/guildops/database/repositories"
)

// Config holds the engine's tunables, filled from the auction section of the
// application config.
type Config struct {
	DefaultTimerSeconds int
	MinTimerSeconds     int
	MaxTimerSeconds     int
	MinIncrement        int
}

// Engine drives the auction lifecycle. Every state transition goes through a
// single repository call so the invariants hold under concurrent use; the
// engine's own job is permission checks, input validation and logging.
type Engine struct {
	auctions repositories.AuctionRepository
	lots     repositories.LotRepository
	users    repositories.UserRepository
	drops    repositories.DropRepository
	cfg      Config
}

func NewEngine(
	auctions repositories.AuctionRepository,
	lots repositories.LotRepository,
	users repositories.UserRepository,
	drops repositories.DropRepository,
	cfg Config,
) *Engine {
	return &Engine{
		auctions: auctions,
		lots:     lots,
		users:    users,
		drops:    drops,
		cfg:      cfg,
	}
}

// CreateAuctionRequest describes a new auction. DropIDs fixes the lot order.
type CreateAuctionRequest struct {
	CreatorID    int64   `json:"creator_id"`
	DropIDs      []int64 `json:"drop_ids"`
	TimerSeconds int64   `json:"timer_seconds"`
	MinIncrement int64   `json:"min_increment"`
	Notes        string  `json:"notes"`
}

// CreateAuction builds a pending auction over the given drops. Only admins
// can create auctions; the timer must fall inside the configured bounds.
func (e *Engine) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	creator, err := e.users.GetByID(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}
	if !creator.IsAdmin {
		return nil, apperrors.NewUnauthorizedError("user %s cannot create auctions", creator.Username)
	}

	if len(req.DropIDs) == 0 {
		return nil, apperrors.NewValidationError("an auction needs at least one drop")
	}
	seen := make(map[int64]bool, len(req.DropIDs))
	for _, id := range req.DropIDs {
		if seen[id] {
			return nil, apperrors.NewValidationError("drop %d is listed twice", id)
		}
		seen[id] = true
	}

	if req.TimerSeconds == 0 {
		req.TimerSeconds = int64(e.cfg.DefaultTimerSeconds)
	}
	if req.TimerSeconds < int64(e.cfg.MinTimerSeconds) || req.TimerSeconds > int64(e.cfg.MaxTimerSeconds) {
		return nil, apperrors.NewValidationError("timer must be between %d and %d seconds, got %d",
			e.cfg.MinTimerSeconds, e.cfg.MaxTimerSeconds, req.TimerSeconds)
	}
	if req.MinIncrement == 0 {
		req.MinIncrement = int64(e.cfg.MinIncrement)
	}
	if req.MinIncrement < 1 {
		return nil, apperrors.NewValidationError("minimum increment must be at least 1, got %d", req.MinIncrement)
	}

	auction := &models.Auction{
		TimerSeconds: req.TimerSeconds,
		MinIncrement: req.MinIncrement,
		CreatedBy:    req.CreatorID,
		Notes:        req.Notes,
	}
	created, err := e.auctions.CreateWithLots(ctx, auction, req.DropIDs)
	if err != nil {
		return nil, err
	}

	slog.Info("Auction created",
		slog.Int64("auction_id", created.ID),
		slog.Int("lots", len(req.DropIDs)),
		slog.Int64("creator_id", req.CreatorID))
	return created, nil
}

// Start activates a pending auction and opens its first lot. Only the
// creator may start their auction; at most one auction can be active.
func (e *Engine) Start(ctx context.Context, auctionID, actorID int64) (*models.Auction, error) {
	auction, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction.CreatedBy != actorID {
		return nil, apperrors.NewUnauthorizedError("only the creator can start auction %d", auctionID)
	}

	started, err := e.auctions.Activate(ctx, auctionID, time.Now())
	if err != nil {
		return nil, err
	}

	slog.Info("Auction started",
		slog.Int64("auction_id", auctionID),
		slog.Int64("timer_seconds", started.TimerSeconds))
	return started, nil
}

// PlaceBid records a bid on an open lot. All acceptance rules are checked
// atomically against current state, so a stale snapshot can never let an
// invalid bid through.
func (e *Engine) PlaceBid(ctx context.Context, lotID, bidderID, amount int64) (*models.Bid, error) {
	if amount <= 0 {
		return nil, apperrors.NewValidationError("bid amount must be positive, got %d", amount)
	}

	bid, err := e.lots.ApplyBid(ctx, lotID, bidderID, amount, time.Now())
	if err != nil {
		return nil, err
	}

	slog.Info("Bid accepted",
		slog.Int64("lot_id", lotID),
		slog.Int64("bidder_id", bidderID),
		slog.Int64("amount", amount))
	return bid, nil
}

// Finalize closes an open lot, settles payment and advances the auction.
// Finalizing a lot that already closed is a validation error and changes
// nothing, so duplicate triggers are harmless.
func (e *Engine) Finalize(ctx context.Context, lotID int64) (*repositories.FinalizeResult, error) {
	res, err := e.lots.Finalize(ctx, lotID, time.Now())
	if err != nil {
		return nil, err
	}

	if res.Lot.Status == models.LotStatusSold {
		slog.Info("Lot sold",
			slog.Int64("lot_id", res.Lot.ID),
			slog.Int64("winner_id", res.Lot.CurrentWinner),
			slog.Int64("price", res.Lot.CurrentBid))
	} else {
		slog.Info("Lot closed without bids", slog.Int64("lot_id", res.Lot.ID))
	}
	if res.AuctionFinished {
		slog.Info("Auction finished", slog.Int64("auction_id", res.Lot.AuctionID))
	}
	return res, nil
}

// Cancel aborts a pending or active auction. Lots already settled stay
// settled; drops stay consumed.
func (e *Engine) Cancel(ctx context.Context, auctionID, actorID int64) error {
	auction, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return err
	}
	if auction.CreatedBy != actorID {
		return apperrors.NewUnauthorizedError("only the creator can cancel auction %d", auctionID)
	}

	if err := e.auctions.CancelCascade(ctx, auctionID, time.Now()); err != nil {
		return err
	}
	slog.Info("Auction cancelled",
		slog.Int64("auction_id", auctionID),
		slog.Int64("actor_id", actorID))
	return nil
}

// ActiveAuction returns the running auction with its lots, nil when idle.
func (e *Engine) ActiveAuction(ctx context.Context) (*models.Auction, error) {
	return e.auctions.GetActive(ctx)
}

// GetAuction returns one auction with its lots and drops.
func (e *Engine) GetAuction(ctx context.Context, id int64) (*models.Auction, error) {
	return e.auctions.GetByID(ctx, id)
}

// WonLots returns the lots a user has won, newest first.
func (e *Engine) WonLots(ctx context.Context, userID int64) ([]*models.Lot, error) {
	if _, err := e.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return e.lots.GetWonByUser(ctx, userID)
}

// Lot returns one lot with its drop.
func (e *Engine) Lot(ctx context.Context, id int64) (*models.Lot, error) {
	return e.lots.GetByID(ctx, id)
}

// LotBids returns every bid on a lot, newest first.
func (e *Engine) LotBids(ctx context.Context, lotID int64) ([]*models.Bid, error) {
	if _, err := e.lots.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	return e.lots.GetBidsByLot(ctx, lotID)
}

// ResetDropConsumed clears the already-auctioned guard on drops that were
// consumed by mistake. Admin-only, and always audited.
func (e *Engine) ResetDropConsumed(ctx context.Context, dropIDs []int64, actorID int64, reason string) (*models.AuditEntry, error) {
	actor, err := e.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, apperrors.NewUnauthorizedError("user %s cannot reset drops", actor.Username)
	}

	entry, err := e.drops.ResetAuctioned(ctx, dropIDs, actorID, reason)
	if err != nil {
		return nil, err
	}
	slog.Info("Drops reset for re-auction",
		slog.Int("count", len(dropIDs)),
		slog.Int64("actor_id", actorID),
		slog.String("reason", reason))
	return entry, nil
}
