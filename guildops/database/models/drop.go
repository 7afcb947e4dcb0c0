package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Drop is one item of raid loot catalogued for auction. Name, category,
// grade and minimum bid are immutable once a lot references the drop.
type Drop struct {
	bun.BaseModel `bun:"table:drops,alias:d"`

	ID         int64  `bun:"id,pk,autoincrement"`
	RaidID     int64  `bun:"raid_id,nullzero"`
	Name       string `bun:"name,notnull"`
	Category   string `bun:"category,notnull"`
	Grade      string `bun:"grade,notnull"`
	MinimumBid int64  `bun:"minimum_bid,notnull"`

	// Auctioned is the idempotency guard against re-listing. Set when the
	// parent auction starts, never cleared by cancellation; only the audited
	// reset operation clears it.
	Auctioned bool `bun:"auctioned,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
