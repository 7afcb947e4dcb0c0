package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/raidledger/guildops/guildops/database/repositories"
	"github.com/raidledger/guildops/guildops/economy/auction"
	"github.com/raidledger/guildops/guildops/economy/dkp"
)

type Handlers struct {
	engine  *auction.Engine
	rewards *dkp.Service
	users   repositories.UserRepository
	drops   repositories.DropRepository
	audit   repositories.AuditRepository
	search  *DropSearcher
	db      *database.DB
}

func NewHandlers(
	engine *auction.Engine,
	rewards *dkp.Service,
	users repositories.UserRepository,
	drops repositories.DropRepository,
	audit repositories.AuditRepository,
	search *DropSearcher,
	db *database.DB,
) *Handlers {
	return &Handlers{
		engine:  engine,
		rewards: rewards,
		users:   users,
		drops:   drops,
		audit:   audit,
		search:  search,
		db:      db,
	}
}

func SetupRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", h.Health)

	auctions := app.Group("/auctions")
	auctions.Post("/", h.CreateAuction)
	auctions.Get("/active", h.ActiveAuction)
	auctions.Get("/:id", h.GetAuction)
	auctions.Post("/:id/start", h.StartAuction)
	auctions.Post("/:id/cancel", h.CancelAuction)

	lots := app.Group("/lots")
	lots.Post("/:id/bids", h.PlaceBid)
	lots.Get("/:id/bids", h.LotBids)
	lots.Post("/:id/finalize", h.FinalizeLot)

	users := app.Group("/users")
	users.Post("/", h.CreateUser)
	users.Get("/leaderboard", h.Leaderboard)
	users.Get("/:id", h.GetUser)
	users.Post("/:id/active", h.SetUserActive)
	users.Get("/:id/won-lots", h.WonLots)
	users.Get("/:id/ledger", h.Ledger)
	users.Get("/:id/balance-audit", h.BalanceAudit)
	users.Post("/:id/adjustments", h.Adjust)

	drops := app.Group("/drops")
	drops.Post("/", h.CreateDrop)
	drops.Get("/", h.ListDrops)
	drops.Get("/search", h.SearchDrops)
	drops.Post("/reset-consumed", h.ResetDrops)

	app.Get("/audit/drop-resets", h.DropResetAudit)
	app.Post("/raids/:id/rewards", h.RaidRewards)
}

func (h *Handlers) Health(c *fiber.Ctx) error {
	if err := h.db.Ping(c.Context()); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "database unreachable")
	}
	return SendSuccess(c, fiber.Map{"status": "ok"}, "")
}

func (h *Handlers) CreateAuction(c *fiber.Ctx) error {
	var req auction.CreateAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	created, err := h.engine.CreateAuction(c.Context(), req)
	if err != nil {
		return err
	}
	return SendCreated(c, newAuctionView(created, time.Now()), "auction created")
}

func (h *Handlers) GetAuction(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid auction id")
	}
	a, err := h.engine.GetAuction(c.Context(), int64(id))
	if err != nil {
		return err
	}
	return SendSuccess(c, newAuctionView(a, time.Now()), "")
}

func (h *Handlers) ActiveAuction(c *fiber.Ctx) error {
	a, err := h.engine.ActiveAuction(c.Context())
	if err != nil {
		return err
	}
	if a == nil {
		return apperrors.NewNotFoundError("active auction", 0)
	}
	return SendSuccess(c, newAuctionView(a, time.Now()), "")
}

type actorRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handlers) StartAuction(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid auction id")
	}
	var req actorRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	started, err := h.engine.Start(c.Context(), int64(id), req.ActorID)
	if err != nil {
		return err
	}
	return SendSuccess(c, newAuctionView(started, time.Now()), "auction started")
}

func (h *Handlers) CancelAuction(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid auction id")
	}
	var req actorRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	if err := h.engine.Cancel(c.Context(), int64(id), req.ActorID); err != nil {
		return err
	}
	return SendSuccess(c, nil, "auction cancelled")
}

func (h *Handlers) PlaceBid(c *fiber.Ctx) error {
	lotID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid lot id")
	}
	var req struct {
		BidderID int64 `json:"bidder_id"`
		Amount   int64 `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	bid, err := h.engine.PlaceBid(c.Context(), int64(lotID), req.BidderID, req.Amount)
	if err != nil {
		return err
	}
	return SendCreated(c, newBidView(bid), "bid accepted")
}

func (h *Handlers) LotBids(c *fiber.Ctx) error {
	lotID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid lot id")
	}
	bids, err := h.engine.LotBids(c.Context(), int64(lotID))
	if err != nil {
		return err
	}
	views := make([]BidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, newBidView(b))
	}
	return SendSuccess(c, views, "")
}

func (h *Handlers) FinalizeLot(c *fiber.Ctx) error {
	lotID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid lot id")
	}

	res, err := h.engine.Finalize(c.Context(), int64(lotID))
	if err != nil {
		return err
	}

	view := FinalizeView{
		Lot:             newLotView(res.Lot, res.Timer, time.Now()),
		Entry:           newLedgerEntryView(res.Entry),
		AuctionFinished: res.AuctionFinished,
	}
	if res.NextLot != nil {
		next := newLotView(res.NextLot, res.Timer, time.Now())
		view.NextLot = &next
	}
	return SendSuccess(c, view, "lot finalized")
}

func (h *Handlers) CreateUser(c *fiber.Ctx) error {
	var req struct {
		Username  string `json:"username"`
		Class     string `json:"class"`
		GearScore int64  `json:"gear_score"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}
	if req.Username == "" {
		return apperrors.NewValidationError("username is required")
	}
	if req.GearScore < 0 {
		return apperrors.NewValidationError("gear score must not be negative")
	}

	user := &models.User{
		Username:  req.Username,
		Class:     req.Class,
		GearScore: req.GearScore,
		IsActive:  true,
	}
	if err := h.users.Create(c.Context(), user); err != nil {
		return err
	}
	return SendCreated(c, newUserView(user), "member created")
}

func (h *Handlers) GetUser(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid user id")
	}
	user, err := h.users.GetByID(c.Context(), int64(id))
	if err != nil {
		return err
	}
	return SendSuccess(c, newUserView(user), "")
}

func (h *Handlers) Leaderboard(c *fiber.Ctx) error {
	users, err := h.users.GetTopByBalance(c.Context(), c.QueryInt("limit", 20))
	if err != nil {
		return err
	}
	views := make([]*UserView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}
	return SendSuccess(c, views, "")
}

func (h *Handlers) SetUserActive(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid user id")
	}
	var req struct {
		Active  bool  `json:"active"`
		ActorID int64 `json:"actor_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	actor, err := h.users.GetByID(c.Context(), req.ActorID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin {
		return apperrors.NewUnauthorizedError("user %s cannot change member status", actor.Username)
	}

	if err := h.users.SetActive(c.Context(), int64(id), req.Active); err != nil {
		return err
	}
	return SendSuccess(c, nil, "member status updated")
}

func (h *Handlers) WonLots(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid user id")
	}
	lots, err := h.engine.WonLots(c.Context(), int64(userID))
	if err != nil {
		return err
	}
	views := make([]LotView, 0, len(lots))
	for _, lot := range lots {
		views = append(views, newLotView(lot, 0, time.Now()))
	}
	return SendSuccess(c, views, "")
}

func (h *Handlers) Ledger(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid user id")
	}
	entryType := models.EntryType(c.Query("type"))
	limit := c.QueryInt("limit", 50)

	entries, err := h.rewards.History(c.Context(), int64(userID), entryType, limit)
	if err != nil {
		return err
	}
	views := make([]*LedgerEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newLedgerEntryView(e))
	}
	return SendSuccess(c, views, "")
}

func (h *Handlers) BalanceAudit(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid user id")
	}
	audit, err := h.rewards.VerifyUserBalance(c.Context(), int64(userID))
	if err != nil {
		return err
	}
	return SendSuccess(c, audit, "")
}

func (h *Handlers) Adjust(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid user id")
	}
	var req struct {
		Amount  int64  `json:"amount"`
		Reason  string `json:"reason"`
		ActorID int64  `json:"actor_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	entry, err := h.rewards.Adjust(c.Context(), int64(userID), req.Amount, req.Reason, req.ActorID)
	if err != nil {
		return err
	}
	return SendCreated(c, newLedgerEntryView(entry), "balance adjusted")
}

func (h *Handlers) CreateDrop(c *fiber.Ctx) error {
	var req struct {
		RaidID     int64  `json:"raid_id"`
		Name       string `json:"name"`
		Category   string `json:"category"`
		Grade      string `json:"grade"`
		MinimumBid int64  `json:"minimum_bid"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}
	if req.Name == "" {
		return apperrors.NewValidationError("drop name is required")
	}
	if req.MinimumBid < 0 {
		return apperrors.NewValidationError("minimum bid must not be negative")
	}

	drop := &models.Drop{
		RaidID:     req.RaidID,
		Name:       req.Name,
		Category:   req.Category,
		Grade:      req.Grade,
		MinimumBid: req.MinimumBid,
	}
	if err := h.drops.Create(c.Context(), drop); err != nil {
		return err
	}
	h.search.Invalidate()
	return SendCreated(c, newDropView(drop), "drop created")
}

func (h *Handlers) ListDrops(c *fiber.Ctx) error {
	var (
		drops []*models.Drop
		err   error
	)
	if c.QueryBool("unauctioned", false) {
		drops, err = h.drops.ListUnauctioned(c.Context())
	} else {
		drops, err = h.drops.ListAll(c.Context(), c.QueryInt("limit", 0))
	}
	if err != nil {
		return err
	}
	views := make([]*DropView, 0, len(drops))
	for _, d := range drops {
		views = append(views, newDropView(d))
	}
	return SendSuccess(c, views, "")
}

func (h *Handlers) SearchDrops(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return apperrors.NewValidationError("query parameter q is required")
	}

	drops, err := h.search.Search(c.Context(), query)
	if err != nil {
		return err
	}
	views := make([]*DropView, 0, len(drops))
	for _, d := range drops {
		views = append(views, newDropView(d))
	}
	return SendSuccess(c, views, "")
}

func (h *Handlers) ResetDrops(c *fiber.Ctx) error {
	var req struct {
		DropIDs []int64 `json:"drop_ids"`
		ActorID int64   `json:"actor_id"`
		Reason  string  `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	audit, err := h.engine.ResetDropConsumed(c.Context(), req.DropIDs, req.ActorID, req.Reason)
	if err != nil {
		return err
	}
	h.search.Invalidate()
	return SendSuccess(c, newAuditView(audit), "drops reset")
}

func (h *Handlers) DropResetAudit(c *fiber.Ctx) error {
	entries, err := h.audit.ListByAction(c.Context(), models.AuditActionDropReset, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	views := make([]AuditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newAuditView(e))
	}
	return SendSuccess(c, views, "")
}

func (h *Handlers) RaidRewards(c *fiber.Ctx) error {
	raidID, err := c.ParamsInt("id")
	if err != nil {
		return apperrors.NewValidationError("invalid raid id")
	}
	var req struct {
		BossLevel    int64             `json:"boss_level"`
		Participants []dkp.Participant `json:"participants"`
		ActorID      int64             `json:"actor_id"`
		DryRun       bool              `json:"dry_run"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}

	// Preview computes the per-participant amounts without touching the
	// ledger, so officers can sanity-check before crediting.
	if req.DryRun {
		lines := make([]dkp.RewardLine, 0, len(req.Participants))
		for _, p := range req.Participants {
			amount, err := dkp.CalculateReward(req.BossLevel, p.GearScore, p.Class)
			if err != nil {
				return err
			}
			lines = append(lines, dkp.RewardLine{UserID: p.UserID, Amount: amount})
		}
		return SendSuccess(c, lines, "reward preview")
	}

	lines, err := h.rewards.CreditRaidRewards(c.Context(), int64(raidID), req.BossLevel, req.Participants, req.ActorID)
	if err != nil {
		return err
	}
	return SendSuccess(c, lines, "rewards credited")
}
