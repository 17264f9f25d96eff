package workflow

import (
	"context"

	"github.com/google/uuid"
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

// intentRepoPG appends intents to the workflow_intents outbox table.
// Rows are written in the triggering operation's transaction so the
// outbox and the state change commit together.
type intentRepoPG struct{ pool *pgxpool.Pool }

func NewIntentRepoPG(pool *pgxpool.Pool) IntentRepository { return &intentRepoPG{pool: pool} }

func (r *intentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *intentRepoPG) Append(ctx context.Context, intent Intent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO workflow_intents (id, kind, entity_type, entity_id, target_status, recipient, event)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.New(), intent.Kind, intent.EntityType, intent.EntityID,
		intent.TargetStatus, intent.Recipient, intent.Event)
	return err
}
