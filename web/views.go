package web

import (
	"time"

	"github.com/raidledger/guildops/guildops/database/models"
)

// View structs keep the wire format independent of the bun models.

type DropView struct {
	ID         int64  `json:"id"`
	RaidID     int64  `json:"raid_id,omitempty"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Grade      string `json:"grade"`
	MinimumBid int64  `json:"minimum_bid"`
	Auctioned  bool   `json:"auctioned"`
}

type UserView struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Class     string `json:"class,omitempty"`
	GearScore int64  `json:"gear_score"`
	Balance   int64  `json:"balance"`
	IsActive  bool   `json:"is_active"`
	IsAdmin   bool   `json:"is_admin"`
}

type LotView struct {
	ID                   int64      `json:"id"`
	AuctionID            int64      `json:"auction_id"`
	Position             int        `json:"position"`
	Status               string     `json:"status"`
	CurrentBid           int64      `json:"current_bid"`
	CurrentWinner        int64      `json:"current_winner,omitempty"`
	TimeRemainingSeconds int64      `json:"time_remaining_seconds"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	Drop                 *DropView  `json:"drop,omitempty"`
}

type AuctionView struct {
	ID           int64      `json:"id"`
	Status       string     `json:"status"`
	TimerSeconds int64      `json:"timer_seconds"`
	MinIncrement int64      `json:"min_increment"`
	CreatedBy    int64      `json:"created_by"`
	Notes        string     `json:"notes,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Lots         []LotView  `json:"lots,omitempty"`
}

type BidView struct {
	ID       int64     `json:"id"`
	LotID    int64     `json:"lot_id"`
	BidderID int64     `json:"bidder_id"`
	Amount   int64     `json:"amount"`
	Status   string    `json:"status"`
	PlacedAt time.Time `json:"placed_at"`
}

type LedgerEntryView struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
	LotID     int64     `json:"lot_id,omitempty"`
	AuctionID int64     `json:"auction_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type FinalizeView struct {
	Lot             LotView          `json:"lot"`
	Entry           *LedgerEntryView `json:"entry,omitempty"`
	NextLot         *LotView         `json:"next_lot,omitempty"`
	AuctionFinished bool             `json:"auction_finished"`
}

type AuditView struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	ActorID   int64     `json:"actor_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserView(u *models.User) *UserView {
	return &UserView{
		ID:        u.ID,
		Username:  u.Username,
		Class:     u.Class,
		GearScore: u.GearScore,
		Balance:   u.Balance,
		IsActive:  u.IsActive,
		IsAdmin:   u.IsAdmin,
	}
}

func newDropView(d *models.Drop) *DropView {
	if d == nil {
		return nil
	}
	return &DropView{
		ID:         d.ID,
		RaidID:     d.RaidID,
		Name:       d.Name,
		Category:   d.Category,
		Grade:      d.Grade,
		MinimumBid: d.MinimumBid,
		Auctioned:  d.Auctioned,
	}
}

func newLotView(l *models.Lot, timer time.Duration, now time.Time) LotView {
	return LotView{
		ID:                   l.ID,
		AuctionID:            l.AuctionID,
		Position:             l.Position,
		Status:               string(l.Status),
		CurrentBid:           l.CurrentBid,
		CurrentWinner:        l.CurrentWinner,
		TimeRemainingSeconds: int64(l.TimeRemaining(now, timer) / time.Second),
		FinishedAt:           l.FinishedAt,
		Drop:                 newDropView(l.Drop),
	}
}

func newAuctionView(a *models.Auction, now time.Time) AuctionView {
	view := AuctionView{
		ID:           a.ID,
		Status:       string(a.Status),
		TimerSeconds: a.TimerSeconds,
		MinIncrement: a.MinIncrement,
		CreatedBy:    a.CreatedBy,
		Notes:        a.Notes,
		StartedAt:    a.StartedAt,
		FinishedAt:   a.FinishedAt,
	}
	for _, lot := range a.Lots {
		view.Lots = append(view.Lots, newLotView(lot, a.Timer(), now))
	}
	return view
}

func newBidView(b *models.Bid) BidView {
	return BidView{
		ID:       b.ID,
		LotID:    b.LotID,
		BidderID: b.BidderID,
		Amount:   b.Amount,
		Status:   string(b.Status),
		PlacedAt: b.CreatedAt,
	}
}

func newLedgerEntryView(e *models.DKPEntry) *LedgerEntryView {
	if e == nil {
		return nil
	}
	return &LedgerEntryView{
		ID:        e.ID,
		UserID:    e.UserID,
		Amount:    e.Amount,
		Type:      string(e.Type),
		Reason:    e.Reason,
		LotID:     e.LotID,
		AuctionID: e.AuctionID,
		CreatedAt: e.CreatedAt,
	}
}

func newAuditView(e *models.AuditEntry) AuditView {
	return AuditView{
		ID:        e.ID,
		Action:    e.Action,
		ActorID:   e.ActorID,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
}
