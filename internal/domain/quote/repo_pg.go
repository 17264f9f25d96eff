package quote

import (
	"context"
	"errors"
	"time"

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

const quoteCols = `id, quote_number, case_id, version, status,
	total_amount, insurer_coverage, patient_remainder,
	rejection_note, created_by, approved_by, approved_at, created_at, updated_at`

func (r *repoPG) scanQuote(row pgx.Row) (*Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.Number, &q.CaseID, &q.Version, &q.Status,
		&q.TotalAmount, &q.InsurerCoverage, &q.PatientRemainder,
		&q.RejectionNote, &q.CreatedBy, &q.ApprovedBy, &q.ApprovedAt, &q.CreatedAt, &q.UpdatedAt)
	return &q, err
}

func (r *repoPG) Create(ctx context.Context, q *Quote) error {
	q.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO quotes (id, quote_number, case_id, version, status,
			total_amount, insurer_coverage, patient_remainder, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		q.ID, q.Number, q.CaseID, q.Version, q.Status,
		q.TotalAmount, q.InsurerCoverage, q.PatientRemainder, q.CreatedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Quote, error) {
	return r.scanQuote(r.conn(ctx).QueryRow(ctx, `SELECT `+quoteCols+` FROM quotes WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Quote, error) {
	return r.scanQuote(r.conn(ctx).QueryRow(ctx, `SELECT `+quoteCols+` FROM quotes WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, q *Quote) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE quotes SET status=$2, total_amount=$3, insurer_coverage=$4,
			patient_remainder=$5, rejection_note=$6, approved_by=$7, approved_at=$8,
			updated_at=NOW()
		WHERE id = $1`,
		q.ID, q.Status, q.TotalAmount, q.InsurerCoverage,
		q.PatientRemainder, q.RejectionNote, q.ApprovedBy, q.ApprovedAt)
	return err
}

func (r *repoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Quote, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+quoteCols+` FROM quotes WHERE case_id = $1 ORDER BY version DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Quote
	for rows.Next() {
		q, err := r.scanQuote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, nil
}

func (r *repoPG) ActiveByCase(ctx context.Context, caseID uuid.UUID) (*Quote, error) {
	q, err := r.scanQuote(r.conn(ctx).QueryRow(ctx, `
		SELECT `+quoteCols+` FROM quotes
		WHERE case_id = $1 AND status IN ('DRAFT', 'PENDING_APPROVAL')`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *repoPG) CountByCase(ctx context.Context, caseID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM quotes WHERE case_id = $1`, caseID).Scan(&n)
	return n, err
}

func (r *repoPG) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*Quote, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+quoteCols+` FROM quotes
		WHERE status = 'PENDING_APPROVAL' AND created_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Quote
	for rows.Next() {
		q, err := r.scanQuote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, nil
}

func (r *repoPG) AddItem(ctx context.Context, item *LineItem) error {
	item.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO quote_line_items (id, quote_id, product_ref, code_ref,
			quantity, unit_price, line_total, sort_order)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		item.ID, item.QuoteID, item.ProductRef, item.CodeRef,
		item.Quantity, item.UnitPrice, item.LineTotal, item.SortOrder)
	return err
}

func (r *repoPG) RemoveItem(ctx context.Context, quoteID, itemID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM quote_line_items WHERE id = $1 AND quote_id = $2`, itemID, quoteID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) GetItems(ctx context.Context, quoteID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, quote_id, product_ref, code_ref, quantity, unit_price, line_total, sort_order
		FROM quote_line_items WHERE quote_id = $1 ORDER BY sort_order, id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.ProductRef, &it.CodeRef,
			&it.Quantity, &it.UnitPrice, &it.LineTotal, &it.SortOrder); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, nil
}

// codeSourcePG reads the reimbursement_codes tariff table.
type codeSourcePG struct{ pool *pgxpool.Pool }

func NewCodeSourcePG(pool *pgxpool.Pool) CodeSource { return &codeSourcePG{pool: pool} }

func (r *codeSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *codeSourcePG) Get(ctx context.Context, code string) (*ReimbursementCode, error) {
	var c ReimbursementCode
	err := r.conn(ctx).QueryRow(ctx, `SELECT code, description, max_price FROM reimbursement_codes WHERE code = $1`, code).
		Scan(&c.Code, &c.Description, &c.MaxPrice)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// caseSourcePG reads the owning patient of a case.
type caseSourcePG struct{ pool *pgxpool.Pool }

func NewCaseSourcePG(pool *pgxpool.Pool) CaseSource { return &caseSourcePG{pool: pool} }

func (r *caseSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *caseSourcePG) PatientID(ctx context.Context, caseID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT patient_id FROM cases WHERE id = $1`, caseID).Scan(&id)
	return id, err
}
