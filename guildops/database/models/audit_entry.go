package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

const (
	AuditActionDropReset = "drop_reset"
)

// AuditEntry records a manual corrective action with before/after snapshots.
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_entries,alias:ae"`

	ID      int64  `bun:"id,pk,autoincrement"`
	Action  string `bun:"action,notnull"`
	ActorID int64  `bun:"actor_id,notnull"`
	Reason  string `bun:"reason,notnull"`

	Before json.RawMessage `bun:"before,type:jsonb"`
	After  json.RawMessage `bun:"after,type:jsonb"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
