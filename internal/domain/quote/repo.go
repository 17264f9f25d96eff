package quote

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, q *Quote) error
	GetByID(ctx context.Context, id uuid.UUID) (*Quote, error)
	// GetForUpdate loads the quote with a row lock inside the current
	// transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Quote, error)
	Update(ctx context.Context, q *Quote) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Quote, error)
	// ActiveByCase returns the case's non-terminal quote, or nil.
	ActiveByCase(ctx context.Context, caseID uuid.UUID) (*Quote, error)
	CountByCase(ctx context.Context, caseID uuid.UUID) (int, error)
	// ListPendingCreatedBefore feeds the expiry sweep.
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*Quote, error)

	AddItem(ctx context.Context, item *LineItem) error
	RemoveItem(ctx context.Context, quoteID, itemID uuid.UUID) (bool, error)
	GetItems(ctx context.Context, quoteID uuid.UUID) ([]*LineItem, error)
}

// CodeSource resolves reimbursement codes. Read-only from this engine.
type CodeSource interface {
	Get(ctx context.Context, code string) (*ReimbursementCode, error)
}

// CaseSource is the slice of the case store this engine reads: the
// owning patient of a case. Cross reads happen inside the operation's
// transaction.
type CaseSource interface {
	PatientID(ctx context.Context, caseID uuid.UUID) (uuid.UUID, error)
}
