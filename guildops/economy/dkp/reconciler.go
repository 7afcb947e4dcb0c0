package dkp

import (
	"context"
	"log/slog"

	"github.com/raidledger/guildops/guildops/database/repositories"
	"github.com/robfig/cron/v3"
)

// Reconciler periodically checks every denormalized balance against the sum
// of its ledger entries. Drift is reported, never auto-corrected: a mismatch
// means a write bypassed the ledger and a human should look at it.
type Reconciler struct {
	ledger repositories.LedgerRepository
	cron   *cron.Cron
	spec   string
}

func NewReconciler(ledger repositories.LedgerRepository, spec string) *Reconciler {
	return &Reconciler{
		ledger: ledger,
		cron:   cron.New(),
		spec:   spec,
	}
}

func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(r.spec, func() {
		r.Run(context.Background())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	slog.Info("Balance reconciler started", slog.String("schedule", r.spec))
	return nil
}

func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// Run performs one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) {
	mismatches, err := r.ledger.FindBalanceMismatches(ctx)
	if err != nil {
		slog.Error("Balance reconciliation failed", slog.String("error", err.Error()))
		return
	}
	if len(mismatches) == 0 {
		slog.Info("Balance reconciliation clean")
		return
	}
	for _, m := range mismatches {
		slog.Error("Balance drift detected",
			slog.Int64("user_id", m.UserID),
			slog.Int64("balance", m.Balance),
			slog.Int64("ledger_sum", m.LedgerSum))
	}
}
