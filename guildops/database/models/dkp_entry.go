package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EntryType string

const (
	EntryTypeRaidReward   EntryType = "raid_reward"
	EntryTypeAdjustment   EntryType = "adjustment"
	EntryTypeItemPurchase EntryType = "item_purchase"
)

// DKPEntry is one append-only currency movement. The sum of a user's entries
// equals the denormalized balance on the user record.
type DKPEntry struct {
	bun.BaseModel `bun:"table:dkp_entries,alias:de"`

	ID     int64     `bun:"id,pk,autoincrement"`
	UserID int64     `bun:"user_id,notnull"`
	Amount int64     `bun:"amount,notnull"`
	Type   EntryType `bun:"type,notnull"`
	Reason string    `bun:"reason"`

	CreatedBy int64 `bun:"created_by,notnull"`

	// Optional back-references to the sale that caused the movement.
	LotID     int64 `bun:"lot_id,nullzero"`
	AuctionID int64 `bun:"auction_id,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
