package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxOptions tunes a transaction started by WithTxOptions.
type TxOptions struct {
	IsoLevel pgx.TxIsoLevel
	// LockTimeout bounds how long statements wait for row locks. Zero keeps the server default.
	LockTimeout time.Duration
}

// Hooks collects callbacks that must only run once the enclosing transaction committed.
type Hooks struct {
	afterCommit []func(context.Context)
}

// AfterCommit registers fn to run after a successful commit.
func (h *Hooks) AfterCommit(fn func(context.Context)) {
	if h == nil || fn == nil {
		return
	}
	h.afterCommit = append(h.afterCommit, fn)
}

// Run executes the registered callbacks in registration order.
func (h *Hooks) Run(ctx context.Context) {
	if h == nil {
		return
	}
	for _, fn := range h.afterCommit {
		fn(ctx)
	}
	h.afterCommit = nil
}

func (h *Hooks) pending() int {
	if h == nil {
		return 0
	}
	return len(h.afterCommit)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return WithTxOptions(ctx, pool, TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx, _ *Hooks) error {
		return fn(tx)
	})
}

// WithTxOptions executes fn inside a transaction and runs the hooks fn registered
// only when the commit succeeds. Errors are classified through Classify.
func WithTxOptions(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(pgx.Tx, *Hooks) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: opts.IsoLevel})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if opts.LockTimeout > 0 {
		// SET LOCAL does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", err)
		}
	}

	hooks := &Hooks{}
	if err := fn(tx, hooks); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	hooks.Run(ctx)
	return nil
}
