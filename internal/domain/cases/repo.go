package cases

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// GetForUpdate loads the case with a row lock inside the current
	// transaction so concurrent transitions serialize.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error)
	Update(ctx context.Context, c *Case) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Case, int, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Case, int, error)
	List(ctx context.Context, limit, offset int) ([]*Case, int, error)
}

// PrescriptionSource looks up prescription verification state. Backed by
// the prescriptions table; read-only from this engine.
type PrescriptionSource interface {
	Get(ctx context.Context, id uuid.UUID) (*PrescriptionRef, error)
}
