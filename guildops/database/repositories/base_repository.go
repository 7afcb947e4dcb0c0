package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

const defaultTxTimeout = 30 * time.Second

// TransactionOptions configures transaction behavior
type TransactionOptions struct {
	IsolationLevel sql.IsolationLevel
	Timeout        time.Duration
}

// StandardTxOptions returns default transaction options
func StandardTxOptions() *TransactionOptions {
	return &TransactionOptions{
		IsolationLevel: sql.LevelReadCommitted,
		Timeout:        defaultTxTimeout,
	}
}

// SerializableTxOptions returns serializable isolation for the operations
// where the bid/finalize race is resolved.
func SerializableTxOptions() *TransactionOptions {
	return &TransactionOptions{
		IsolationLevel: sql.LevelSerializable,
		Timeout:        defaultTxTimeout,
	}
}

type baseRepository struct {
	db *bun.DB
}

// withTx executes a function within a database transaction
func (r *baseRepository) withTx(ctx context.Context, opts *TransactionOptions, fn func(context.Context, bun.Tx) error) error {
	if opts == nil {
		opts = StandardTxOptions()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tx, err := r.db.BeginTx(timeoutCtx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(timeoutCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
