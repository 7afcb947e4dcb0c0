package dkp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/raidledger/guildops/guildops/database/repositories"
)

// Participant is one raider to be credited for a kill.
type Participant struct {
	UserID    int64  `json:"user_id"`
	GearScore int64  `json:"gear_score"`
	Class     string `json:"class"`
}

// RewardLine is the outcome of crediting one participant. Error is set when
// that participant's credit was skipped.
type RewardLine struct {
	UserID   int64  `json:"user_id"`
	Amount   int64  `json:"amount"`
	Credited bool   `json:"credited"`
	Error    string `json:"error,omitempty"`
}

// BalanceAudit compares one user's denormalized balance against the sum of
// their ledger entries.
type BalanceAudit struct {
	UserID     int64 `json:"user_id"`
	Balance    int64 `json:"balance"`
	LedgerSum  int64 `json:"ledger_sum"`
	Consistent bool  `json:"consistent"`
}

// Service owns all ledger writes outside of lot settlement: raid rewards,
// manual adjustments, and history reads.
type Service struct {
	ledger repositories.LedgerRepository
	users  repositories.UserRepository
}

func NewService(ledger repositories.LedgerRepository, users repositories.UserRepository) *Service {
	return &Service{ledger: ledger, users: users}
}

// CreditRaidRewards computes and appends one raid_reward entry per
// participant. Each credit commits on its own; one failing participant does
// not take down the rest, the failures are reported alongside the successes.
func (s *Service) CreditRaidRewards(ctx context.Context, raidID int64, bossLevel int64, participants []Participant, actorID int64) ([]RewardLine, error) {
	if len(participants) == 0 {
		return nil, apperrors.NewValidationError("no participants to credit")
	}
	if bossLevel <= 0 {
		return nil, apperrors.NewValidationError("boss level must be positive, got %d", bossLevel)
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, apperrors.NewUnauthorizedError("user %s cannot credit raid rewards", actor.Username)
	}

	lines := make([]RewardLine, 0, len(participants))
	for _, p := range participants {
		amount, err := CalculateReward(bossLevel, p.GearScore, p.Class)
		if err != nil {
			lines = append(lines, RewardLine{UserID: p.UserID, Error: err.Error()})
			continue
		}

		entry := &models.DKPEntry{
			UserID:    p.UserID,
			Amount:    amount,
			Type:      models.EntryTypeRaidReward,
			Reason:    fmt.Sprintf("raid %d reward (boss level %d)", raidID, bossLevel),
			CreatedBy: actorID,
		}
		if err := s.ledger.Append(ctx, entry); err != nil {
			slog.Error("Failed to credit raid reward",
				slog.Int64("raid_id", raidID),
				slog.Int64("user_id", p.UserID),
				slog.String("error", err.Error()))
			lines = append(lines, RewardLine{UserID: p.UserID, Amount: amount, Error: err.Error()})
			continue
		}
		lines = append(lines, RewardLine{UserID: p.UserID, Amount: amount, Credited: true})
	}
	return lines, nil
}

// VerifyUserBalance checks the ledger invariant for one user: the sum of
// their entries must equal the denormalized balance.
func (s *Service) VerifyUserBalance(ctx context.Context, userID int64) (*BalanceAudit, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := s.ledger.SumForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceAudit{
		UserID:     userID,
		Balance:    user.Balance,
		LedgerSum:  sum,
		Consistent: user.Balance == sum,
	}, nil
}

// Adjust appends a manual admin correction, positive or negative. The ledger
// enforces that a negative adjustment cannot push the balance below zero.
func (s *Service) Adjust(ctx context.Context, userID, amount int64, reason string, actorID int64) (*models.DKPEntry, error) {
	if amount == 0 {
		return nil, apperrors.NewValidationError("adjustment amount must not be zero")
	}
	if reason == "" {
		return nil, apperrors.NewValidationError("a reason is required for an adjustment")
	}

	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, apperrors.NewUnauthorizedError("user %s cannot adjust balances", actor.Username)
	}

	entry := &models.DKPEntry{
		UserID:    userID,
		Amount:    amount,
		Type:      models.EntryTypeAdjustment,
		Reason:    reason,
		CreatedBy: actorID,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns a user's ledger entries, newest first, optionally filtered
// by entry type.
func (s *Service) History(ctx context.Context, userID int64, entryType models.EntryType, limit int) ([]*models.DKPEntry, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, userID, entryType, limit)
}
