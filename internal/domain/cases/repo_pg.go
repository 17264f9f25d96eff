package cases

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const caseCols = `id, case_number, patient_id, prescription_id, status, priority,
	assignee_id, sla_deadline, submitted_at, approved_at, rejected_at, rejection_reason,
	delivered_at, checklist, created_at, updated_at`

func (r *repoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.Number, &c.PatientID, &c.PrescriptionID, &c.Status, &c.Priority,
		&c.AssigneeID, &c.SLADeadline, &c.SubmittedAt, &c.ApprovedAt, &c.RejectedAt, &c.RejectionReason,
		&c.DeliveredAt, &c.Checklist, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cases (id, case_number, patient_id, prescription_id, status, priority, checklist)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.Number, c.PatientID, c.PrescriptionID, c.Status, c.Priority, c.Checklist)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM cases WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Case) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE cases SET status=$2, priority=$3, prescription_id=$4, assignee_id=$5,
			sla_deadline=$6, submitted_at=$7, approved_at=$8, rejected_at=$9,
			rejection_reason=$10, delivered_at=$11, checklist=$12, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.Priority, c.PrescriptionID, c.AssigneeID,
		c.SLADeadline, c.SubmittedAt, c.ApprovedAt, c.RejectedAt,
		c.RejectionReason, c.DeliveredAt, c.Checklist)
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cases WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+caseCols+` FROM cases WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cases WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+caseCols+` FROM cases WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cases`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+caseCols+` FROM cases ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *repoPG) collect(rows pgx.Rows, total int) ([]*Case, int, error) {
	var items []*Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

// prescriptionSourcePG reads the prescriptions table.
type prescriptionSourcePG struct{ pool *pgxpool.Pool }

func NewPrescriptionSourcePG(pool *pgxpool.Pool) PrescriptionSource {
	return &prescriptionSourcePG{pool: pool}
}

func (r *prescriptionSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *prescriptionSourcePG) Get(ctx context.Context, id uuid.UUID) (*PrescriptionRef, error) {
	var p PrescriptionRef
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, verified, expires_at FROM prescriptions WHERE id = $1`, id).
		Scan(&p.ID, &p.Verified, &p.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
