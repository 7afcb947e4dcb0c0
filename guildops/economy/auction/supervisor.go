package auction

import (
	"context"
	"log/slog"
	"time"

	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
)

// Supervisor polls the active auction and finalizes its running lot once the
// countdown elapses. Because finalization itself rejects lots that already
// closed, the supervisor can race a manual finalize (or a second supervisor)
// and the loser is a harmless no-op.
type Supervisor struct {
	engine   *Engine
	interval time.Duration
	shutdown chan struct{}
	done     chan struct{}
}

func NewSupervisor(engine *Engine, interval time.Duration) *Supervisor {
	return &Supervisor{
		engine:   engine,
		interval: interval,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Supervisor) Start() {
	go s.run()
	slog.Info("Auction supervisor started", slog.Duration("interval", s.interval))
}

func (s *Supervisor) Stop() {
	close(s.shutdown)
	<-s.done
}

func (s *Supervisor) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(context.Background())
		case <-s.shutdown:
			return
		}
	}
}

// tick finalizes the running lot if its timer has elapsed. Errors are logged
// and never stop the loop; the next tick simply tries again.
func (s *Supervisor) tick(ctx context.Context) {
	active, err := s.engine.ActiveAuction(ctx)
	if err != nil {
		slog.Error("Supervisor failed to load active auction", slog.String("error", err.Error()))
		return
	}
	if active == nil {
		return
	}

	lot := active.CurrentLot()
	if lot == nil {
		return
	}
	if !lot.Expired(time.Now(), active.Timer()) {
		return
	}

	if _, err := s.engine.Finalize(ctx, lot.ID); err != nil {
		if apperrors.IsValidation(err) {
			// Usually someone else closed the lot between our read and the
			// finalize lock. But if the lot is still open, settlement itself
			// was refused (e.g. the winner's balance no longer covers the
			// bid) and it will stay stuck until an admin steps in.
			current, lookupErr := s.engine.Lot(ctx, lot.ID)
			if lookupErr == nil && current.Status == models.LotStatusInAuction {
				slog.Warn("Lot settlement blocked, needs admin attention",
					slog.Int64("lot_id", lot.ID),
					slog.Int64("winner_id", current.CurrentWinner),
					slog.Int64("price", current.CurrentBid),
					slog.String("error", err.Error()))
				return
			}
			slog.Debug("Lot already finalized", slog.Int64("lot_id", lot.ID))
			return
		}
		slog.Error("Supervisor failed to finalize lot",
			slog.Int64("lot_id", lot.ID),
			slog.String("error", err.Error()))
	}
}
