package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Username string `bun:"username,notnull,unique"`
	Class    string `bun:"class,notnull"`

	// GearScore is the member's last reported gear score; reward crediting
	// always receives the score at participation time from the caller.
	GearScore int64 `bun:"gear_score,notnull,default:0"`

	// Balance is denormalized from dkp_entries and must only be mutated
	// through a ledger append, never written directly.
	Balance int64 `bun:"balance,notnull,default:0"`

	IsActive bool `bun:"is_active,notnull,default:true"`
	IsAdmin  bool `bun:"is_admin,notnull,default:false"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
