package device

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

type Service struct {
	devices Repository
	txr     db.TxRunner
	now     func() time.Time
}

func NewService(devices Repository, txr db.TxRunner) *Service {
	return &Service{devices: devices, txr: txr, now: time.Now}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type RegisterInput struct {
	Serial string `json:"serial"`
	Model  string `json:"model"`
}

// Register adds a device to unassigned stock. Serials are unique.
func (s *Service) Register(ctx context.Context, in RegisterInput, actor auth.Actor) (*Device, error) {
	if err := auth.Authorize(actor, auth.CapDeviceManage); err != nil {
		return nil, err
	}
	if in.Serial == "" {
		return nil, workflow.ValidationFailed("device", "serial is required")
	}

	var d *Device
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		if existing, err := s.devices.GetBySerial(ctx, in.Serial); err == nil && existing != nil {
			return workflow.Conflict("device", fmt.Sprintf("serial %s already registered", in.Serial))
		}
		d = &Device{
			Serial: in.Serial,
			Model:  in.Model,
			Status: StatusActive,
		}
		return s.devices.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Assign links a device to a patient, optionally to their case, and
// stamps the delivery time.
func (s *Service) Assign(ctx context.Context, id, patientID uuid.UUID, caseID *uuid.UUID, actor auth.Actor) (*Device, error) {
	if err := auth.Authorize(actor, auth.CapDeviceManage); err != nil {
		return nil, err
	}

	var d *Device
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.devices.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("device", id.String())
		}
		if d.Status == StatusDecommissioned {
			return workflow.Conflict("device", "cannot assign a decommissioned device")
		}
		now := s.now()
		d.PatientID = &patientID
		d.CaseID = caseID
		d.DeliveredAt = &now
		return s.devices.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Unassign returns a device to stock.
func (s *Service) Unassign(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Device, error) {
	if err := auth.Authorize(actor, auth.CapDeviceManage); err != nil {
		return nil, err
	}

	var d *Device
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.devices.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("device", id.String())
		}
		d.PatientID = nil
		d.CaseID = nil
		d.DeliveredAt = nil
		return s.devices.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Decommission takes a device permanently out of service.
func (s *Service) Decommission(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Device, error) {
	if err := auth.Authorize(actor, auth.CapDeviceManage); err != nil {
		return nil, err
	}

	var d *Device
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.devices.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("device", id.String())
		}
		d.Status = StatusDecommissioned
		return s.devices.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDevice(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Device, error) {
	d, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return nil, workflow.NotFound("device", id.String())
	}
	if !actor.IsStaff() {
		if d.PatientID == nil || !actor.OwnsPatient(*d.PatientID) {
			return nil, workflow.Forbidden("device", "actor does not own this device")
		}
	}
	return d, nil
}

func (s *Service) ListDevices(ctx context.Context, actor auth.Actor, status *Status, limit, offset int) ([]*Device, int, error) {
	if !actor.IsStaff() {
		if actor.PatientID == nil {
			return nil, 0, workflow.Forbidden("device", "unauthenticated patient actor")
		}
		return s.devices.ListByPatient(ctx, *actor.PatientID, limit, offset)
	}
	if status != nil && !ValidStatus(*status) {
		return nil, 0, workflow.ValidationFailed("device", fmt.Sprintf("unknown status %q", *status))
	}
	return s.devices.List(ctx, status, limit, offset)
}
