package dkp

import (
	"context"
	"testing"

	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/raidledger/guildops/guildops/database/repositories"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	entries    []*models.DKPEntry
	failFor    map[int64]error
	sums       map[int64]int64
	mismatches []repositories.BalanceMismatch
	sweeps     int
}

func (f *fakeLedger) Append(_ context.Context, entry *models.DKPEntry) error {
	if err, ok := f.failFor[entry.UserID]; ok {
		return err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedger) History(_ context.Context, userID int64, entryType models.EntryType, _ int) ([]*models.DKPEntry, error) {
	var out []*models.DKPEntry
	for _, e := range f.entries {
		if e.UserID == userID && (entryType == "" || e.Type == entryType) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) SumForUser(_ context.Context, userID int64) (int64, error) {
	return f.sums[userID], nil
}

func (f *fakeLedger) FindBalanceMismatches(_ context.Context) ([]repositories.BalanceMismatch, error) {
	f.sweeps++
	return f.mismatches, nil
}

type fakeUsers struct {
	users map[int64]*models.User
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", id)
	}
	return u, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperrors.NewNotFoundError("user", 0)
}

func (f *fakeUsers) GetTopByBalance(_ context.Context, _ int) ([]*models.User, error) {
	return nil, nil
}

func (f *fakeUsers) SetActive(_ context.Context, id int64, active bool) error {
	u, ok := f.users[id]
	if !ok {
		return apperrors.NewNotFoundError("user", id)
	}
	u.IsActive = active
	return nil
}

func newTestService() (*Service, *fakeLedger, *fakeUsers) {
	ledger := &fakeLedger{failFor: map[int64]error{}, sums: map[int64]int64{}}
	users := &fakeUsers{users: map[int64]*models.User{
		1: {ID: 1, Username: "officer", IsAdmin: true, IsActive: true},
		2: {ID: 2, Username: "kael", Class: "gladiator", IsActive: true, Balance: 100},
		3: {ID: 3, Username: "lyra", Class: "cleric", IsActive: true, Balance: 50},
		4: {ID: 4, Username: "bram", Class: "bard", IsActive: true},
	}}
	return NewService(ledger, users), ledger, users
}

func TestCreditRaidRewardsContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService()
	ledger.failFor[3] = apperrors.NewNotFoundError("user", 3)

	lines, err := svc.CreditRaidRewards(ctx, 7, 80, []Participant{
		{UserID: 2, GearScore: 100, Class: "gladiator"},
		{UserID: 3, GearScore: 100, Class: "cleric"},
		{UserID: 4, GearScore: 50, Class: "bard"},
	}, 1)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	// The middle credit failed but the later one still landed.
	require.True(t, lines[0].Credited)
	require.Equal(t, int64(80), lines[0].Amount)
	require.False(t, lines[1].Credited)
	require.NotEmpty(t, lines[1].Error)
	require.True(t, lines[2].Credited)
	require.Equal(t, int64(46), lines[2].Amount) // 40 * 1.15 = 46

	require.Len(t, ledger.entries, 2)
	for _, e := range ledger.entries {
		require.Equal(t, models.EntryTypeRaidReward, e.Type)
		require.Equal(t, int64(1), e.CreatedBy)
	}
}

func TestCreditRaidRewardsReportsBadInputPerParticipant(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService()

	lines, err := svc.CreditRaidRewards(ctx, 7, 80, []Participant{
		{UserID: 2, GearScore: -1, Class: "gladiator"},
		{UserID: 4, GearScore: 50, Class: "bard"},
	}, 1)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.False(t, lines[0].Credited)
	require.NotEmpty(t, lines[0].Error)
	require.True(t, lines[1].Credited)
	require.Len(t, ledger.entries, 1)
}

func TestCreditRaidRewardsGuards(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService()

	_, err := svc.CreditRaidRewards(ctx, 7, 80, nil, 1)
	require.True(t, apperrors.IsValidation(err))

	_, err = svc.CreditRaidRewards(ctx, 7, 0, []Participant{{UserID: 2, GearScore: 100}}, 1)
	require.True(t, apperrors.IsValidation(err))

	_, err = svc.CreditRaidRewards(ctx, 7, 80, []Participant{{UserID: 2, GearScore: 100}}, 2)
	require.True(t, apperrors.IsUnauthorized(err))

	require.Empty(t, ledger.entries)
}

func TestVerifyUserBalance(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService()

	ledger.sums[2] = 100
	audit, err := svc.VerifyUserBalance(ctx, 2)
	require.NoError(t, err)
	require.True(t, audit.Consistent)
	require.Equal(t, int64(100), audit.Balance)
	require.Equal(t, int64(100), audit.LedgerSum)

	// A balance that drifted from its entry sum is reported, not corrected.
	ledger.sums[3] = 75
	audit, err = svc.VerifyUserBalance(ctx, 3)
	require.NoError(t, err)
	require.False(t, audit.Consistent)
	require.Equal(t, int64(50), audit.Balance)
	require.Equal(t, int64(75), audit.LedgerSum)

	_, err = svc.VerifyUserBalance(ctx, 99)
	require.True(t, apperrors.IsNotFound(err))
}

func TestReconcilerRun(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{
		mismatches: []repositories.BalanceMismatch{
			{UserID: 3, Balance: 50, LedgerSum: 75},
		},
	}

	r := NewReconciler(ledger, "0 4 * * *")
	r.Run(ctx)
	r.Run(ctx)
	require.Equal(t, 2, ledger.sweeps)
}
