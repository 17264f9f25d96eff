package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medequip/dmeflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgAllocator struct{ pool *pgxpool.Pool }

// NewPGAllocator returns an Allocator backed by the sequence_counters
// table. The upsert increments the counter atomically, so two concurrent
// creations can never observe the same value.
func NewPGAllocator(pool *pgxpool.Pool) Allocator { return &pgAllocator{pool: pool} }

func (a *pgAllocator) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return a.pool
}

func (a *pgAllocator) Next(ctx context.Context, prefix string, year int) (string, error) {
	var seq int
	err := a.conn(ctx).QueryRow(ctx, `
		INSERT INTO sequence_counters (prefix, year, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET seq = sequence_counters.seq + 1
		RETURNING seq`, prefix, year).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocate %s-%d: %w", prefix, year, err)
	}
	return Format(prefix, year, seq), nil
}
