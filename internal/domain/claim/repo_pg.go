package claim

import (
	"context"
	"errors"
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

const claimCols = `id, claim_number, case_id, quote_id, gateway, status,
	total_amount, paid_amount, submitted_at, rejection_code, rejection_reason,
	created_by, created_at, updated_at`

func (r *repoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.Number, &c.CaseID, &c.QuoteID, &c.Gateway, &c.Status,
		&c.TotalAmount, &c.PaidAmount, &c.SubmittedAt, &c.RejectionCode, &c.RejectionReason,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, claim_number, case_id, quote_id, gateway, status,
			total_amount, paid_amount, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.Number, c.CaseID, c.QuoteID, c.Gateway, c.Status,
		c.TotalAmount, c.PaidAmount, c.CreatedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Claim) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET status=$2, paid_amount=$3, submitted_at=$4,
			rejection_code=$5, rejection_reason=$6, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.PaidAmount, c.SubmittedAt,
		c.RejectionCode, c.RejectionReason)
	return err
}

func (r *repoPG) ActiveByCase(ctx context.Context, caseID uuid.UUID) (*Claim, error) {
	c, err := r.scanClaim(r.conn(ctx).QueryRow(ctx, `
		SELECT `+claimCols+` FROM claims
		WHERE case_id = $1 AND status NOT IN ('CANCELLED', 'REJECTED')`, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *repoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims WHERE case_id = $1 ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}

func (r *repoPG) List(ctx context.Context, status *Status, limit, offset int) ([]*Claim, int, error) {
	where := ``
	args := []interface{}{}
	if status != nil {
		where = ` WHERE status = $1`
		args = append(args, *status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT `+claimCols+` FROM claims%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *repoPG) AddDocument(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_documents (id, claim_id, document_id, role, attached_by)
		VALUES ($1,$2,$3,$4,$5)`,
		d.ID, d.ClaimID, d.DocumentID, d.Role, d.AttachedBy)
	return err
}

func (r *repoPG) GetDocuments(ctx context.Context, claimID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, document_id, role, attached_by, attached_at
		FROM claim_documents WHERE claim_id = $1 ORDER BY attached_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ClaimID, &d.DocumentID, &d.Role, &d.AttachedBy, &d.AttachedAt); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, nil
}

func (r *repoPG) AddReturn(ctx context.Context, ret *Return) error {
	ret.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_returns (id, claim_id, file_ref, payload, received_at)
		VALUES ($1,$2,$3,$4,$5)`,
		ret.ID, ret.ClaimID, ret.FileRef, ret.Payload, ret.ReceivedAt)
	return err
}

func (r *repoPG) GetReturns(ctx context.Context, claimID uuid.UUID) ([]*Return, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, file_ref, payload, received_at
		FROM claim_returns WHERE claim_id = $1 ORDER BY received_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Return
	for rows.Next() {
		var ret Return
		if err := rows.Scan(&ret.ID, &ret.ClaimID, &ret.FileRef, &ret.Payload, &ret.ReceivedAt); err != nil {
			return nil, err
		}
		items = append(items, &ret)
	}
	return items, nil
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, claim_id, amount, paid_at, method, reference)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.ClaimID, p.Amount, p.PaidAt, p.Method, p.Reference)
	return err
}

func (r *repoPG) GetPayments(ctx context.Context, claimID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, amount, paid_at, method, reference, created_at
		FROM payments WHERE claim_id = $1 ORDER BY created_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ClaimID, &p.Amount, &p.PaidAt, &p.Method, &p.Reference, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, nil
}

// quoteSourcePG reads the approving quote's slice of columns.
type quoteSourcePG struct{ pool *pgxpool.Pool }

func NewQuoteSourcePG(pool *pgxpool.Pool) QuoteSource { return &quoteSourcePG{pool: pool} }

func (r *quoteSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *quoteSourcePG) Get(ctx context.Context, id uuid.UUID) (*QuoteRef, error) {
	var q QuoteRef
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, case_id, status, total_amount FROM quotes WHERE id = $1`, id).
		Scan(&q.ID, &q.CaseID, &q.Status, &q.TotalAmount)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// documentSourcePG reads scan state from the documents table. The
// engine never writes it.
type documentSourcePG struct{ pool *pgxpool.Pool }

func NewDocumentSourcePG(pool *pgxpool.Pool) DocumentSource { return &documentSourcePG{pool: pool} }

func (r *documentSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *documentSourcePG) Get(ctx context.Context, id uuid.UUID) (*ScanRef, error) {
	var d ScanRef
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, document_type, scan_status FROM documents WHERE id = $1`, id).
		Scan(&d.ID, &d.DocumentType, &d.ScanStatus)
	if err != nil {
		return nil, err
	}
	return &d, nil
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
