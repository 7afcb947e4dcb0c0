package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWon       BidStatus = "won"
	BidStatusCancelled BidStatus = "cancelled"
)

type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID       int64     `bun:"id,pk,autoincrement"`
	LotID    int64     `bun:"lot_id,notnull"`
	BidderID int64     `bun:"bidder_id,notnull"`
	Amount   int64     `bun:"amount,notnull"`
	Status   BidStatus `bun:"status,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
