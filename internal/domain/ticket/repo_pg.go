package ticket

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

const ticketCols = `id, ticket_number, device_id, reporter_id, category, severity,
	is_safety_issue, status, description, assignee_id, resolution_notes,
	resolved_at, created_at, updated_at`

func (r *repoPG) scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.Number, &t.DeviceID, &t.ReporterID, &t.Category, &t.Severity,
		&t.IsSafetyIssue, &t.Status, &t.Description, &t.AssigneeID, &t.ResolutionNotes,
		&t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *Ticket) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO service_tickets (id, ticket_number, device_id, reporter_id, category,
			severity, is_safety_issue, status, description, assignee_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.Number, t.DeviceID, t.ReporterID, t.Category,
		t.Severity, t.IsSafetyIssue, t.Status, t.Description, t.AssigneeID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return r.scanTicket(r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+` FROM service_tickets WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return r.scanTicket(r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+` FROM service_tickets WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, t *Ticket) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE service_tickets SET severity=$2, status=$3, description=$4, assignee_id=$5,
			resolution_notes=$6, resolved_at=$7, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Severity, t.Status, t.Description, t.AssigneeID,
		t.ResolutionNotes, t.ResolvedAt)
	return err
}

func (r *repoPG) List(ctx context.Context, status *Status, limit, offset int) ([]*Ticket, int, error) {
	where := ``
	args := []interface{}{}
	if status != nil {
		where = ` WHERE status = $1`
		args = append(args, *status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM service_tickets`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT `+ticketCols+` FROM service_tickets%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *repoPG) ListByReporter(ctx context.Context, reporterID string, limit, offset int) ([]*Ticket, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM service_tickets WHERE reporter_id = $1`, reporterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ticketCols+` FROM service_tickets WHERE reporter_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, reporterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *repoPG) CountOpenByDevice(ctx context.Context, deviceID, exclude uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM service_tickets
		WHERE device_id = $1 AND id <> $2 AND status NOT IN ('RESOLVED','CLOSED')`,
		deviceID, exclude).Scan(&n)
	return n, err
}

func (r *repoPG) AddVisit(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO technician_visits (id, ticket_id, technician_id, scheduled_at,
			arrived_at, completed_at, outcome, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.TicketID, v.TechnicianID, v.ScheduledAt,
		v.ArrivedAt, v.CompletedAt, v.Outcome, v.Notes)
	return err
}

func (r *repoPG) GetVisits(ctx context.Context, ticketID uuid.UUID) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, ticket_id, technician_id, scheduled_at, arrived_at, completed_at, outcome, notes
		FROM technician_visits WHERE ticket_id = $1 ORDER BY scheduled_at`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.TicketID, &v.TechnicianID, &v.ScheduledAt,
			&v.ArrivedAt, &v.CompletedAt, &v.Outcome, &v.Notes); err != nil {
			return nil, err
		}
		visits = append(visits, &v)
	}
	return visits, nil
}

func (r *repoPG) AddPart(ctx context.Context, p *PartUsage) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO part_usages (id, ticket_id, sku, name, quantity, unit_cost)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.TicketID, p.SKU, p.Name, p.Quantity, p.UnitCost)
	return err
}

func (r *repoPG) GetParts(ctx context.Context, ticketID uuid.UUID) ([]*PartUsage, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, ticket_id, sku, name, quantity, unit_cost
		FROM part_usages WHERE ticket_id = $1 ORDER BY id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []*PartUsage
	for rows.Next() {
		var p PartUsage
		if err := rows.Scan(&p.ID, &p.TicketID, &p.SKU, &p.Name, &p.Quantity, &p.UnitCost); err != nil {
			return nil, err
		}
		parts = append(parts, &p)
	}
	return parts, nil
}

func (r *repoPG) collect(rows pgx.Rows, total int) ([]*Ticket, int, error) {
	var items []*Ticket
	for rows.Next() {
		t, err := r.scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, nil
}

type deviceSourcePG struct{ pool *pgxpool.Pool }

func NewDeviceSourcePG(pool *pgxpool.Pool) DeviceSource { return &deviceSourcePG{pool: pool} }

func (s *deviceSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *deviceSourcePG) Get(ctx context.Context, id uuid.UUID) (*DeviceRef, error) {
	var ref DeviceRef
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, status, patient_id FROM devices WHERE id = $1`, id).
		Scan(&ref.ID, &ref.Status, &ref.PatientID)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *deviceSourcePG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE devices SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

type technicianSourcePG struct{ pool *pgxpool.Pool }

func NewTechnicianSourcePG(pool *pgxpool.Pool) TechnicianSource { return &technicianSourcePG{pool: pool} }

func (s *technicianSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *technicianSourcePG) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT active FROM technicians WHERE id = $1`, id).Scan(&active)
	return active, err
}
