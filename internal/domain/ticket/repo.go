package ticket

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	List(ctx context.Context, status *Status, limit, offset int) ([]*Ticket, int, error)
	ListByReporter(ctx context.Context, reporterID string, limit, offset int) ([]*Ticket, int, error)
	// CountOpenByDevice counts open tickets against the device,
	// excluding the given ticket id.
	CountOpenByDevice(ctx context.Context, deviceID, exclude uuid.UUID) (int, error)
	AddVisit(ctx context.Context, v *Visit) error
	GetVisits(ctx context.Context, ticketID uuid.UUID) ([]*Visit, error)
	AddPart(ctx context.Context, p *PartUsage) error
	GetParts(ctx context.Context, ticketID uuid.UUID) ([]*PartUsage, error)
}

// DeviceRef is the slice of the device record the ticket engine reads.
type DeviceRef struct {
	ID        uuid.UUID
	Status    string
	PatientID *uuid.UUID
}

// DeviceSource lets the ticket engine read a device and flip its
// service status without depending on the device engine directly.
type DeviceSource interface {
	Get(ctx context.Context, id uuid.UUID) (*DeviceRef, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

// TechnicianSource answers whether a technician can take assignments.
type TechnicianSource interface {
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
}
