package device

import (
	"context"
	"fmt"

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

const deviceCols = `id, serial, model, status, patient_id, case_id, delivered_at, created_at, updated_at`

func (r *repoPG) scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.Serial, &d.Model, &d.Status, &d.PatientID, &d.CaseID,
		&d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Device) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO devices (id, serial, model, status, patient_id, case_id, delivered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.Serial, d.Model, d.Status, d.PatientID, d.CaseID, d.DeliveredAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Device, error) {
	return r.scanDevice(r.conn(ctx).QueryRow(ctx, `SELECT `+deviceCols+` FROM devices WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Device, error) {
	return r.scanDevice(r.conn(ctx).QueryRow(ctx, `SELECT `+deviceCols+` FROM devices WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	return r.scanDevice(r.conn(ctx).QueryRow(ctx, `SELECT `+deviceCols+` FROM devices WHERE serial = $1`, serial))
}

func (r *repoPG) Update(ctx context.Context, d *Device) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE devices SET model=$2, status=$3, patient_id=$4, case_id=$5,
			delivered_at=$6, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Model, d.Status, d.PatientID, d.CaseID, d.DeliveredAt)
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Device, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM devices WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+deviceCols+` FROM devices WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *repoPG) List(ctx context.Context, status *Status, limit, offset int) ([]*Device, int, error) {
	where := ``
	args := []interface{}{}
	if status != nil {
		where = ` WHERE status = $1`
		args = append(args, *status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM devices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT `+deviceCols+` FROM devices%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *repoPG) collect(rows pgx.Rows, total int) ([]*Device, int, error) {
	var items []*Device
	for rows.Next() {
		d, err := r.scanDevice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, nil
}
