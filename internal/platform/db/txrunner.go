package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs a function inside a storage transaction. Services depend
// on this interface instead of the pool so tests can substitute a
// passthrough runner.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolRunner is the production TxRunner backed by a pgx pool.
type PoolRunner struct {
	pool *pgxpool.Pool
}

func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

func (r *PoolRunner) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, r.pool, fn)
}

// Passthrough runs the function directly with no transaction. Used by
// in-memory tests.
type Passthrough struct{}

func (Passthrough) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
