package device

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*Device, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Device, error)
	GetBySerial(ctx context.Context, serial string) (*Device, error)
	Update(ctx context.Context, d *Device) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Device, int, error)
	List(ctx context.Context, status *Status, limit, offset int) ([]*Device, int, error)
}
