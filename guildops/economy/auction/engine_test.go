package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/raidledger/guildops/guildops/database/repositories"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the repository layer. It applies the
// same guards the real repositories apply inside their transactions, so the
// engine's behaviour around rejected transitions can be exercised without a
// database.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	drops    map[int64]*models.Drop
	auctions map[int64]*models.Auction
	lots     map[int64]*models.Lot
	bids     []*models.Bid
	entries  []*models.DKPEntry
	audits   []*models.AuditEntry
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*models.User),
		drops:    make(map[int64]*models.Drop),
		auctions: make(map[int64]*models.Auction),
		lots:     make(map[int64]*models.Lot),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.id()
	s.users[u.ID] = u
	return u
}

func (s *memStore) addDrop(d *models.Drop) *models.Drop {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id()
	s.drops[d.ID] = d
	return d
}

func (s *memStore) applyEntry(entry *models.DKPEntry) error {
	user, ok := s.users[entry.UserID]
	if !ok {
		return apperrors.NewNotFoundError("user", entry.UserID)
	}
	if entry.Amount < 0 && user.Balance < -entry.Amount {
		return apperrors.NewValidationError(
			"insufficient balance: debit of %d against balance %d", -entry.Amount, user.Balance)
	}
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, entry)
	user.Balance += entry.Amount
	return nil
}

type fakeUsers struct{ s *memStore }

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	f.s.addUser(u)
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", id)
	}
	return u, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperrors.NewNotFoundError("user", 0)
}

func (f *fakeUsers) GetTopByBalance(_ context.Context, limit int) ([]*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	users := make([]*models.User, 0, len(f.s.users))
	for _, u := range f.s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Balance > users[j].Balance })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (f *fakeUsers) SetActive(_ context.Context, id int64, active bool) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return apperrors.NewNotFoundError("user", id)
	}
	u.IsActive = active
	return nil
}

type fakeDrops struct{ s *memStore }

func (f *fakeDrops) Create(_ context.Context, d *models.Drop) error {
	f.s.addDrop(d)
	return nil
}

func (f *fakeDrops) GetByID(_ context.Context, id int64) (*models.Drop, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.drops[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("drop", id)
	}
	return d, nil
}

func (f *fakeDrops) GetByIDs(_ context.Context, ids []int64) ([]*models.Drop, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var drops []*models.Drop
	for _, id := range ids {
		if d, ok := f.s.drops[id]; ok {
			drops = append(drops, d)
		}
	}
	return drops, nil
}

func (f *fakeDrops) ListUnauctioned(_ context.Context) ([]*models.Drop, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var drops []*models.Drop
	for _, d := range f.s.drops {
		if !d.Auctioned {
			drops = append(drops, d)
		}
	}
	return drops, nil
}

func (f *fakeDrops) ListAll(_ context.Context, _ int) ([]*models.Drop, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var drops []*models.Drop
	for _, d := range f.s.drops {
		drops = append(drops, d)
	}
	return drops, nil
}

func (f *fakeDrops) ResetAuctioned(_ context.Context, ids []int64, actorID int64, reason string) (*models.AuditEntry, error) {
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("no drops given to reset")
	}
	if reason == "" {
		return nil, apperrors.NewValidationError("a reason is required for a drop reset")
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var drops []*models.Drop
	for _, id := range ids {
		d, ok := f.s.drops[id]
		if !ok {
			return nil, apperrors.NewNotFoundError("drop", id)
		}
		drops = append(drops, d)
	}
	before, _ := json.Marshal(drops)
	for _, d := range drops {
		d.Auctioned = false
	}
	after, _ := json.Marshal(drops)
	audit := &models.AuditEntry{
		Action:    models.AuditActionDropReset,
		ActorID:   actorID,
		Reason:    reason,
		Before:    before,
		After:     after,
		CreatedAt: time.Now(),
	}
	audit.ID = f.s.id()
	f.s.audits = append(f.s.audits, audit)
	return audit, nil
}

type fakeAuctions struct{ s *memStore }

func (f *fakeAuctions) CreateWithLots(_ context.Context, a *models.Auction, dropIDs []int64) (*models.Auction, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, id := range dropIDs {
		d, ok := f.s.drops[id]
		if !ok {
			return nil, apperrors.NewNotFoundError("drop", id)
		}
		if d.Auctioned {
			return nil, apperrors.NewValidationError("drop %d (%s) was already auctioned", d.ID, d.Name)
		}
	}
	a.ID = f.s.id()
	a.Status = models.AuctionStatusPending
	f.s.auctions[a.ID] = a
	for i, dropID := range dropIDs {
		lot := &models.Lot{
			ID:        f.s.id(),
			AuctionID: a.ID,
			DropID:    dropID,
			Position:  i,
			Status:    models.LotStatusWaiting,
			Drop:      f.s.drops[dropID],
		}
		f.s.lots[lot.ID] = lot
		a.Lots = append(a.Lots, lot)
	}
	return a, nil
}

func (f *fakeAuctions) GetByID(_ context.Context, id int64) (*models.Auction, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.auctions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("auction", id)
	}
	return a, nil
}

func (f *fakeAuctions) GetActive(_ context.Context) (*models.Auction, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, a := range f.s.auctions {
		if a.Status == models.AuctionStatusActive {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAuctions) Activate(_ context.Context, auctionID int64, now time.Time) (*models.Auction, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.auctions[auctionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("auction", auctionID)
	}
	if a.Status != models.AuctionStatusPending {
		return nil, apperrors.NewValidationError("auction %d is %s, only a pending auction can be started", auctionID, a.Status)
	}
	for _, other := range f.s.auctions {
		if other.Status == models.AuctionStatusActive {
			return nil, apperrors.NewValidationError("another auction is already active")
		}
	}
	if len(a.Lots) == 0 {
		return nil, apperrors.NewValidationError("auction %d has no lots", auctionID)
	}
	a.Status = models.AuctionStatusActive
	a.StartedAt = &now
	for _, lot := range a.Lots {
		f.s.drops[lot.DropID].Auctioned = true
	}
	first := a.Lots[0]
	first.Status = models.LotStatusInAuction
	started := now
	first.StartedAt = &started
	return a, nil
}

func (f *fakeAuctions) CancelCascade(_ context.Context, auctionID int64, now time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.auctions[auctionID]
	if !ok {
		return apperrors.NewNotFoundError("auction", auctionID)
	}
	if a.Status == models.AuctionStatusFinished {
		return apperrors.NewValidationError("auction %d is already finished", auctionID)
	}
	for _, lot := range a.Lots {
		if lot.Status == models.LotStatusWaiting || lot.Status == models.LotStatusInAuction {
			for _, b := range f.s.bids {
				if b.LotID == lot.ID && b.Status == models.BidStatusActive {
					b.Status = models.BidStatusCancelled
				}
			}
			lot.Status = models.LotStatusCancelled
		}
	}
	if a.Status == models.AuctionStatusPending || a.Status == models.AuctionStatusActive {
		a.Status = models.AuctionStatusCancelled
		a.FinishedAt = &now
	}
	return nil
}

type fakeLots struct{ s *memStore }

func (f *fakeLots) GetByID(_ context.Context, id int64) (*models.Lot, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	lot, ok := f.s.lots[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("lot", id)
	}
	return lot, nil
}

func (f *fakeLots) ApplyBid(_ context.Context, lotID, bidderID, amount int64, now time.Time) (*models.Bid, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	lot, ok := f.s.lots[lotID]
	if !ok {
		return nil, apperrors.NewNotFoundError("lot", lotID)
	}
	if lot.Status != models.LotStatusInAuction {
		return nil, apperrors.NewValidationError("lot %d is %s, bidding is closed", lotID, lot.Status)
	}
	a := f.s.auctions[lot.AuctionID]
	bidder, ok := f.s.users[bidderID]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", bidderID)
	}
	if err := ValidateBid(lot, a, bidder, amount); err != nil {
		return nil, err
	}
	for _, b := range f.s.bids {
		if b.LotID == lotID && b.Status == models.BidStatusActive {
			b.Status = models.BidStatusOutbid
		}
	}
	bid := &models.Bid{
		ID:        f.s.id(),
		LotID:     lotID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    models.BidStatusActive,
		CreatedAt: now,
	}
	f.s.bids = append(f.s.bids, bid)
	lot.CurrentBid = amount
	lot.CurrentWinner = bidderID
	started := now
	lot.StartedAt = &started
	return bid, nil
}

func (f *fakeLots) Finalize(_ context.Context, lotID int64, now time.Time) (*repositories.FinalizeResult, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	lot, ok := f.s.lots[lotID]
	if !ok {
		return nil, apperrors.NewNotFoundError("lot", lotID)
	}
	if lot.Status != models.LotStatusInAuction {
		return nil, apperrors.NewValidationError("lot %d is %s, nothing to finalize", lotID, lot.Status)
	}
	a := f.s.auctions[lot.AuctionID]
	res := &repositories.FinalizeResult{Timer: a.Timer()}
	if lot.HasBid() {
		entry := &models.DKPEntry{
			UserID:    lot.CurrentWinner,
			Amount:    -lot.CurrentBid,
			Type:      models.EntryTypeItemPurchase,
			Reason:    fmt.Sprintf("won %s", lot.Drop.Name),
			LotID:     lotID,
			AuctionID: lot.AuctionID,
		}
		if err := f.s.applyEntry(entry); err != nil {
			return nil, err
		}
		for _, b := range f.s.bids {
			if b.LotID == lotID && b.Status == models.BidStatusActive {
				b.Status = models.BidStatusWon
			}
		}
		res.Entry = entry
		lot.Status = models.LotStatusSold
	} else {
		lot.Status = models.LotStatusNoBids
	}
	lot.FinishedAt = &now
	res.Lot = lot

	for _, next := range a.Lots {
		if next.Status == models.LotStatusWaiting {
			next.Status = models.LotStatusInAuction
			started := now
			next.StartedAt = &started
			res.NextLot = next
			return res, nil
		}
	}
	a.Status = models.AuctionStatusFinished
	a.FinishedAt = &now
	res.AuctionFinished = true
	return res, nil
}

func (f *fakeLots) GetWonByUser(_ context.Context, userID int64) ([]*models.Lot, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var lots []*models.Lot
	for _, lot := range f.s.lots {
		if lot.Status == models.LotStatusSold && lot.CurrentWinner == userID {
			lots = append(lots, lot)
		}
	}
	return lots, nil
}

func (f *fakeLots) GetBidsByLot(_ context.Context, lotID int64) ([]*models.Bid, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var bids []*models.Bid
	for _, b := range f.s.bids {
		if b.LotID == lotID {
			bids = append(bids, b)
		}
	}
	return bids, nil
}

func newTestEngine() (*Engine, *memStore) {
	s := newMemStore()
	cfg := Config{
		DefaultTimerSeconds: 120,
		MinTimerSeconds:     10,
		MaxTimerSeconds:     86400,
		MinIncrement:        1,
	}
	engine := NewEngine(&fakeAuctions{s}, &fakeLots{s}, &fakeUsers{s}, &fakeDrops{s}, cfg)
	return engine, s
}

func seedGuild(s *memStore) (admin, raiderA, raiderB *models.User, drops []*models.Drop) {
	admin = s.addUser(&models.User{Username: "officer", IsActive: true, IsAdmin: true, Balance: 500})
	raiderA = s.addUser(&models.User{Username: "kael", Class: "gladiator", IsActive: true, Balance: 200})
	raiderB = s.addUser(&models.User{Username: "lyra", Class: "cleric", IsActive: true, Balance: 150})
	drops = []*models.Drop{
		s.addDrop(&models.Drop{Name: "Dragon Sword", Grade: "legendary", MinimumBid: 0}),
		s.addDrop(&models.Drop{Name: "Healer Staff", Grade: "epic", MinimumBid: 0}),
	}
	return
}

func TestAuctionLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, raiderB, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID, drops[1].ID},
	})
	require.NoError(t, err)
	require.Equal(t, models.AuctionStatusPending, created.Status)
	require.Len(t, created.Lots, 2)
	require.Equal(t, models.LotStatusWaiting, created.Lots[0].Status)

	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	require.Equal(t, models.AuctionStatusActive, started.Status)
	require.Equal(t, models.LotStatusInAuction, started.Lots[0].Status)
	require.Equal(t, models.LotStatusWaiting, started.Lots[1].Status)
	require.True(t, drops[0].Auctioned)
	require.True(t, drops[1].Auctioned)

	firstLot := started.Lots[0]
	_, err = engine.PlaceBid(ctx, firstLot.ID, raiderA.ID, 50)
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, firstLot.ID, raiderB.ID, 60)
	require.NoError(t, err)
	require.Equal(t, int64(60), firstLot.CurrentBid)
	require.Equal(t, raiderB.ID, firstLot.CurrentWinner)

	res, err := engine.Finalize(ctx, firstLot.ID)
	require.NoError(t, err)
	require.Equal(t, models.LotStatusSold, res.Lot.Status)
	require.NotNil(t, res.Entry)
	require.Equal(t, int64(-60), res.Entry.Amount)
	require.Equal(t, int64(90), raiderB.Balance)
	require.Equal(t, int64(200), raiderA.Balance) // outbid, never charged
	require.NotNil(t, res.NextLot)
	require.Equal(t, models.LotStatusInAuction, res.NextLot.Status)
	require.Equal(t, started.Timer(), res.Timer) // next lot starts a full countdown
	require.False(t, res.AuctionFinished)

	// No one bids on the second lot.
	res, err = engine.Finalize(ctx, res.NextLot.ID)
	require.NoError(t, err)
	require.Equal(t, models.LotStatusNoBids, res.Lot.Status)
	require.Nil(t, res.Entry)
	require.Nil(t, res.NextLot)
	require.True(t, res.AuctionFinished)
	require.Equal(t, models.AuctionStatusFinished, started.Status)

	won, err := engine.WonLots(ctx, raiderB.ID)
	require.NoError(t, err)
	require.Len(t, won, 1)
	require.Equal(t, firstLot.ID, won[0].ID)
}

func TestBidFloorAndBalance(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, raiderB, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	lot := started.Lots[0]

	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 50)
	require.NoError(t, err)

	// Equal to the current bid is below the floor.
	_, err = engine.PlaceBid(ctx, lot.ID, raiderB.ID, 50)
	require.True(t, apperrors.IsValidation(err))
	require.Equal(t, raiderA.ID, lot.CurrentWinner)

	// Exactly current + increment is accepted.
	_, err = engine.PlaceBid(ctx, lot.ID, raiderB.ID, 51)
	require.NoError(t, err)
	require.Equal(t, raiderB.ID, lot.CurrentWinner)

	// raiderA holds 200; a bid of the full balance is fine, one more is not.
	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 201)
	require.True(t, apperrors.IsValidation(err))
	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 200)
	require.NoError(t, err)
}

func TestBidResetsTimer(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, _, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	lot := started.Lots[0]

	// Age the countdown almost to expiry.
	stale := time.Now().Add(-110 * time.Second)
	lot.StartedAt = &stale
	require.Less(t, lot.TimeRemaining(time.Now(), started.Timer()), 15*time.Second)

	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 10)
	require.NoError(t, err)
	require.Greater(t, lot.TimeRemaining(time.Now(), started.Timer()), 115*time.Second)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, _, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	lot := started.Lots[0]

	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 40)
	require.NoError(t, err)

	_, err = engine.Finalize(ctx, lot.ID)
	require.NoError(t, err)
	require.Equal(t, int64(160), raiderA.Balance)

	// A duplicate trigger must change nothing: no second charge, no new entry.
	_, err = engine.Finalize(ctx, lot.ID)
	require.True(t, apperrors.IsValidation(err))
	require.Equal(t, int64(160), raiderA.Balance)
	require.Len(t, s.entries, 1)

	// Late bids are rejected outright.
	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 50)
	require.True(t, apperrors.IsValidation(err))
}

func TestFinalizeInsufficientBalanceLeavesLotOpen(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, _, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	lot := started.Lots[0]

	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 150)
	require.NoError(t, err)

	// Balance drops between bid and settlement.
	raiderA.Balance = 100

	_, err = engine.Finalize(ctx, lot.ID)
	require.True(t, apperrors.IsValidation(err))
	require.Equal(t, models.LotStatusInAuction, lot.Status)
	require.Equal(t, int64(100), raiderA.Balance)
	require.Empty(t, s.entries)
}

func TestSingleActiveAuction(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, _, _, drops := seedGuild(s)

	first, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
	second, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[1].ID},
	})
	require.NoError(t, err)

	_, err = engine.Start(ctx, first.ID, admin.ID)
	require.NoError(t, err)
	_, err = engine.Start(ctx, second.ID, admin.ID)
	require.True(t, apperrors.IsValidation(err))

	active, err := engine.ActiveAuction(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, active.ID)
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, _, drops := seedGuild(s)

	_, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: raiderA.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.True(t, apperrors.IsUnauthorized(err))

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)

	_, err = engine.Start(ctx, created.ID, raiderA.ID)
	require.True(t, apperrors.IsUnauthorized(err))

	err = engine.Cancel(ctx, created.ID, raiderA.ID)
	require.True(t, apperrors.IsUnauthorized(err))

	_, err = engine.ResetDropConsumed(ctx, []int64{drops[0].ID}, raiderA.ID, "mistake")
	require.True(t, apperrors.IsUnauthorized(err))
}

func TestCancelCascadeAndDropReset(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, _, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID, drops[1].ID},
	})
	require.NoError(t, err)
	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	soldLot := started.Lots[0]

	// First lot sells normally before the cancellation.
	_, err = engine.PlaceBid(ctx, soldLot.ID, raiderA.ID, 30)
	require.NoError(t, err)
	res, err := engine.Finalize(ctx, soldLot.ID)
	require.NoError(t, err)
	require.Equal(t, models.LotStatusSold, res.Lot.Status)

	openLot := started.Lots[1]
	bid, err := engine.PlaceBid(ctx, openLot.ID, raiderA.ID, 20)
	require.NoError(t, err)

	require.NoError(t, engine.Cancel(ctx, created.ID, admin.ID))
	require.Equal(t, models.AuctionStatusCancelled, started.Status)
	require.Equal(t, models.LotStatusSold, soldLot.Status) // settled sale stands
	require.Equal(t, models.LotStatusCancelled, openLot.Status)
	require.Equal(t, models.BidStatusCancelled, bid.Status)
	require.Equal(t, int64(170), raiderA.Balance) // charged 30 for the sold lot only

	// Cancellation does not free the loot; only an audited reset does.
	require.True(t, drops[0].Auctioned)
	audit, err := engine.ResetDropConsumed(ctx, []int64{drops[0].ID, drops[1].ID}, admin.ID, "auction aborted mid-run")
	require.NoError(t, err)
	require.False(t, drops[0].Auctioned)
	require.False(t, drops[1].Auctioned)
	require.Equal(t, models.AuditActionDropReset, audit.Action)
	require.Equal(t, admin.ID, audit.ActorID)

	// Reset without a reason is refused.
	_, err = engine.ResetDropConsumed(ctx, []int64{drops[0].ID}, admin.ID, "")
	require.True(t, apperrors.IsValidation(err))

	// The drops can now be listed again.
	_, err = engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
}

func TestCreateAuctionValidation(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, _, _, drops := seedGuild(s)

	_, err := engine.CreateAuction(ctx, CreateAuctionRequest{CreatorID: admin.ID})
	require.True(t, apperrors.IsValidation(err))

	_, err = engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID, drops[0].ID},
	})
	require.True(t, apperrors.IsValidation(err))

	_, err = engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID:    admin.ID,
		DropIDs:      []int64{drops[0].ID},
		TimerSeconds: 5,
	})
	require.True(t, apperrors.IsValidation(err))

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
	require.Equal(t, int64(120), created.TimerSeconds)
	require.Equal(t, int64(1), created.MinIncrement)
}

func TestSupervisorFinalizesExpiredLot(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, _, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID, drops[1].ID},
	})
	require.NoError(t, err)
	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	lot := started.Lots[0]

	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 25)
	require.NoError(t, err)

	sup := NewSupervisor(engine, time.Second)

	// Countdown still running: the tick must not touch the lot.
	sup.tick(ctx)
	require.Equal(t, models.LotStatusInAuction, lot.Status)

	// Expire the countdown, then tick.
	expired := time.Now().Add(-121 * time.Second)
	lot.StartedAt = &expired
	sup.tick(ctx)
	require.Equal(t, models.LotStatusSold, lot.Status)
	require.Equal(t, int64(175), raiderA.Balance)
	require.Equal(t, models.LotStatusInAuction, started.Lots[1].Status)

	// A second tick on the already advanced auction is harmless.
	sup.tick(ctx)
	require.Equal(t, models.LotStatusInAuction, started.Lots[1].Status)
	require.Len(t, s.entries, 1)
}

func TestSupervisorLeavesBlockedSettlementOpen(t *testing.T) {
	ctx := context.Background()
	engine, s := newTestEngine()
	admin, raiderA, _, drops := seedGuild(s)

	created, err := engine.CreateAuction(ctx, CreateAuctionRequest{
		CreatorID: admin.ID,
		DropIDs:   []int64{drops[0].ID},
	})
	require.NoError(t, err)
	started, err := engine.Start(ctx, created.ID, admin.ID)
	require.NoError(t, err)
	lot := started.Lots[0]

	_, err = engine.PlaceBid(ctx, lot.ID, raiderA.ID, 150)
	require.NoError(t, err)

	// The winner's balance shrinks below the bid before the countdown runs out,
	// so settlement is refused and the lot cannot advance on its own.
	raiderA.Balance = 100
	expired := time.Now().Add(-121 * time.Second)
	lot.StartedAt = &expired

	sup := NewSupervisor(engine, time.Second)
	sup.tick(ctx)
	require.Equal(t, models.LotStatusInAuction, lot.Status)
	require.Equal(t, int64(100), raiderA.Balance)
	require.Empty(t, s.entries)

	// Repeated ticks keep refusing without charging or crashing.
	sup.tick(ctx)
	require.Equal(t, models.LotStatusInAuction, lot.Status)
	require.Empty(t, s.entries)

	// Once the balance covers the bid again, the next tick settles the lot.
	raiderA.Balance = 200
	sup.tick(ctx)
	require.Equal(t, models.LotStatusSold, lot.Status)
	require.Equal(t, int64(50), raiderA.Balance)
	require.Len(t, s.entries, 1)
}
