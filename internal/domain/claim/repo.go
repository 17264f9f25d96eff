package claim

import (
	"context"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/money"
)

type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	// GetForUpdate loads the claim with a row lock so concurrent payment
	// recordings serialize on the same paidAmount.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	// ActiveByCase returns the case's active claim, or nil.
	ActiveByCase(ctx context.Context, caseID uuid.UUID) (*Claim, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Claim, error)
	List(ctx context.Context, status *Status, limit, offset int) ([]*Claim, int, error)

	AddDocument(ctx context.Context, d *Document) error
	GetDocuments(ctx context.Context, claimID uuid.UUID) ([]*Document, error)
	AddReturn(ctx context.Context, ret *Return) error
	GetReturns(ctx context.Context, claimID uuid.UUID) ([]*Return, error)
	AddPayment(ctx context.Context, p *Payment) error
	GetPayments(ctx context.Context, claimID uuid.UUID) ([]*Payment, error)
}

// QuoteRef is the slice of a quote the claim engine reads at creation.
type QuoteRef struct {
	ID          uuid.UUID
	CaseID      uuid.UUID
	Status      string
	TotalAmount money.Amount
}

// QuoteSource resolves the approving quote inside the creation
// transaction.
type QuoteSource interface {
	Get(ctx context.Context, id uuid.UUID) (*QuoteRef, error)
}

// CaseSource resolves the owning patient of a case, for notifications
// and patient reads.
type CaseSource interface {
	PatientID(ctx context.Context, caseID uuid.UUID) (uuid.UUID, error)
}

// ScanRef is the slice of a stored document the engine reads. The
// engine never writes document rows.
type ScanRef struct {
	ID           uuid.UUID
	DocumentType string
	ScanStatus   string
}

// DocumentSource is the document/scan-status lookup.
type DocumentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*ScanRef, error)
}
