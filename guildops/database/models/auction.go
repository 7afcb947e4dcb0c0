package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusPending   AuctionStatus = "pending"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusFinished  AuctionStatus = "finished"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID     int64         `bun:"id,pk,autoincrement"`
	Status AuctionStatus `bun:"status,notnull"`

	// TimerSeconds is the per-lot countdown; every accepted bid restarts it.
	TimerSeconds int64 `bun:"timer_seconds,notnull"`
	MinIncrement int64 `bun:"min_increment,notnull"`

	CreatedBy int64  `bun:"created_by,notnull"`
	Notes     string `bun:"notes"`

	StartedAt  *time.Time `bun:"started_at"`
	FinishedAt *time.Time `bun:"finished_at"`

	Lots []*Lot `bun:"rel:has-many,join:id=auction_id"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Timer returns the per-lot duration.
func (a *Auction) Timer() time.Duration {
	return time.Duration(a.TimerSeconds) * time.Second
}

// CurrentLot returns the lot currently being auctioned, nil if none.
func (a *Auction) CurrentLot() *Lot {
	for _, lot := range a.Lots {
		if lot.Status == LotStatusInAuction {
			return lot
		}
	}
	return nil
}
