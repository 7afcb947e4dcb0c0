package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/raidledger/guildops/guildops/apperrors"
	"github.com/raidledger/guildops/guildops/database/models"
	"github.com/raidledger/guildops/guildops/logger"
	"github.com/uptrace/bun"
)

// RawQuerier runs SQL outside the ORM; the reconciliation sweep goes through
// it so the query and its timing land in the db log.
type RawQuerier interface {
	QueryWithLog(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// BalanceMismatch is a user whose denormalized balance has drifted from the
// sum of their ledger entries.
type BalanceMismatch struct {
	UserID    int64
	Balance   int64
	LedgerSum int64
}

type LedgerRepository interface {
	Append(ctx context.Context, entry *models.DKPEntry) error
	History(ctx context.Context, userID int64, entryType models.EntryType, limit int) ([]*models.DKPEntry, error)
	SumForUser(ctx context.Context, userID int64) (int64, error)
	FindBalanceMismatches(ctx context.Context) ([]BalanceMismatch, error)
}

type ledgerRepository struct {
	baseRepository
	raw RawQuerier
}

func NewLedgerRepository(db *bun.DB, raw RawQuerier) LedgerRepository {
	return &ledgerRepository{baseRepository: baseRepository{db: db}, raw: raw}
}

// applyDKPEntryTx appends a ledger entry and moves the denormalized balance
// in one step. The sufficiency check happens under a row lock inside the
// caller's transaction so two concurrent debits cannot both pass on a stale
// balance. Shared by Append and by lot finalization.
func applyDKPEntryTx(ctx context.Context, tx bun.Tx, entry *models.DKPEntry) error {
	var user models.User
	err := tx.NewSelect().
		Model(&user).
		Where("id = ?", entry.UserID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("user", entry.UserID)
		}
		return fmt.Errorf("failed to lock user balance: %w", err)
	}

	if entry.Amount < 0 && user.Balance < -entry.Amount {
		return apperrors.NewValidationError(
			"insufficient balance: debit of %d against balance %d", -entry.Amount, user.Balance)
	}

	entry.CreatedAt = time.Now()
	if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	result, err := tx.NewUpdate().
		Model((*models.User)(nil)).
		Set("balance = balance + ?", entry.Amount).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", entry.UserID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.NewNotFoundError("user", entry.UserID)
	}

	return nil
}

func (r *ledgerRepository) Append(ctx context.Context, entry *models.DKPEntry) error {
	return r.withTx(ctx, StandardTxOptions(), func(ctx context.Context, tx bun.Tx) error {
		return applyDKPEntryTx(ctx, tx, entry)
	})
}

func (r *ledgerRepository) History(ctx context.Context, userID int64, entryType models.EntryType, limit int) ([]*models.DKPEntry, error) {
	var entries []*models.DKPEntry
	q := r.db.NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if entryType != "" {
		q = q.Where("type = ?", entryType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	return entries, nil
}

func (r *ledgerRepository) SumForUser(ctx context.Context, userID int64) (int64, error) {
	start := time.Now()
	var sum int64
	err := r.db.NewSelect().
		Model((*models.DKPEntry)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(ctx, &sum)
	logger.LogQuery("sum dkp_entries by user", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return sum, nil
}

func (r *ledgerRepository) FindBalanceMismatches(ctx context.Context) ([]BalanceMismatch, error) {
	rows, err := r.raw.QueryWithLog(ctx, `
		SELECT u.id AS user_id, u.balance, COALESCE(SUM(de.amount), 0) AS ledger_sum
		FROM users u
		LEFT JOIN dkp_entries de ON de.user_id = u.id
		GROUP BY u.id, u.balance
		HAVING u.balance <> COALESCE(SUM(de.amount), 0)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance mismatches: %w", err)
	}
	defer rows.Close()

	var mismatches []BalanceMismatch
	for rows.Next() {
		var m BalanceMismatch
		if err := rows.Scan(&m.UserID, &m.Balance, &m.LedgerSum); err != nil {
			return nil, fmt.Errorf("failed to scan balance mismatch: %w", err)
		}
		mismatches = append(mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read balance mismatches: %w", err)
	}
	return mismatches, nil
}
