package models

import (
	"time"

	"github.com/uptrace/bun"
)

type LotStatus string

const (
	LotStatusWaiting   LotStatus = "waiting"
	LotStatusInAuction LotStatus = "in_auction"
	LotStatusSold      LotStatus = "sold"
	LotStatusNoBids    LotStatus = "no_bids"
	LotStatusCancelled LotStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s LotStatus) Terminal() bool {
	return s == LotStatusSold || s == LotStatusNoBids || s == LotStatusCancelled
}

type Lot struct {
	bun.BaseModel `bun:"table:lots,alias:l"`

	ID        int64 `bun:"id,pk,autoincrement"`
	AuctionID int64 `bun:"auction_id,notnull"`
	DropID    int64 `bun:"drop_id,notnull"`

	// Position fixes the processing order within the auction.
	Position int       `bun:"position,notnull"`
	Status   LotStatus `bun:"status,notnull"`

	CurrentBid    int64 `bun:"current_bid,nullzero"`
	CurrentWinner int64 `bun:"current_winner,nullzero"`

	// StartedAt is the countdown origin; reset on every accepted bid.
	// Remaining time is always recomputed from it, never stored.
	StartedAt  *time.Time `bun:"started_at"`
	FinishedAt *time.Time `bun:"finished_at"`

	Drop *Drop `bun:"rel:belongs-to,join:drop_id=id"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// HasBid reports whether an accepted bid is standing on the lot.
func (l *Lot) HasBid() bool {
	return l.CurrentWinner != 0
}

// TimeRemaining recomputes the countdown from the origin timestamp. A stored
// countdown would drift under replication lag; this one cannot.
func (l *Lot) TimeRemaining(now time.Time, timer time.Duration) time.Duration {
	if l.Status != LotStatusInAuction || l.StartedAt == nil {
		return 0
	}
	remaining := timer - now.Sub(*l.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the lot's countdown has elapsed.
func (l *Lot) Expired(now time.Time, timer time.Duration) bool {
	if l.Status != LotStatusInAuction || l.StartedAt == nil {
		return false
	}
	return now.Sub(*l.StartedAt) >= timer
}
