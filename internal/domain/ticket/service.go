package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/money"
	"github.com/medequip/dmeflow/internal/platform/sequence"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

// Device service statuses as stored by the device engine.
const (
	deviceStatusActive         = "ACTIVE"
	deviceStatusInRepair       = "IN_REPAIR"
	deviceStatusDecommissioned = "DECOMMISSIONED"
)

type Service struct {
	tickets Repository
	devices DeviceSource
	techs   TechnicianSource
	seq     sequence.Allocator
	txr     db.TxRunner
	now     func() time.Time
}

func NewService(tickets Repository, devices DeviceSource, techs TechnicianSource, seq sequence.Allocator, txr db.TxRunner) *Service {
	return &Service{
		tickets: tickets,
		devices: devices,
		techs:   techs,
		seq:     seq,
		txr:     txr,
		now:     time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type CreateInput struct {
	DeviceID      uuid.UUID `json:"device_id"`
	Category      Category  `json:"category"`
	Severity      Severity  `json:"severity"`
	IsSafetyIssue bool      `json:"is_safety_issue"`
	Description   string    `json:"description"`
}

// CreateTicket opens a ticket against a device. Safety issues are
// escalated to at least HIGH severity, and REPAIR or EMERGENCY tickets
// take the device out of service.
func (s *Service) CreateTicket(ctx context.Context, in CreateInput, actor auth.Actor) (*Ticket, error) {
	if !ValidCategory(in.Category) {
		return nil, workflow.ValidationFailed("ticket", fmt.Sprintf("unknown category %q", in.Category))
	}
	if in.Severity == "" {
		in.Severity = SeverityLow
	}
	if !ValidSeverity(in.Severity) {
		return nil, workflow.ValidationFailed("ticket", fmt.Sprintf("unknown severity %q", in.Severity))
	}
	if in.Description == "" {
		return nil, workflow.ValidationFailed("ticket", "description is required")
	}

	var t *Ticket
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		dev, err := s.devices.Get(ctx, in.DeviceID)
		if err != nil {
			return workflow.NotFound("device", in.DeviceID.String())
		}
		if dev.Status == deviceStatusDecommissioned {
			return workflow.Conflict("ticket", "device is decommissioned")
		}
		if !actor.IsStaff() {
			if dev.PatientID == nil || !actor.OwnsPatient(*dev.PatientID) {
				return workflow.Forbidden("ticket", "actor does not own this device")
			}
		}

		number, err := s.seq.Next(ctx, sequence.PrefixTicket, s.now().Year())
		if err != nil {
			return err
		}
		t = &Ticket{
			Number:        number,
			DeviceID:      in.DeviceID,
			ReporterID:    actor.ID,
			Category:      in.Category,
			Severity:      EscalateForSafety(in.Severity, in.IsSafetyIssue),
			IsSafetyIssue: in.IsSafetyIssue,
			Status:        StatusOpen,
			Description:   in.Description,
		}
		if err := s.tickets.Create(ctx, t); err != nil {
			return err
		}

		if t.Category.TakesDeviceOut() && dev.Status == deviceStatusActive {
			return s.devices.SetStatus(ctx, dev.ID, deviceStatusInRepair)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Assign puts a ticket on a technician's queue. Reassigning an already
// ASSIGNED ticket swaps the technician without a status change.
func (s *Service) Assign(ctx context.Context, id, technicianID uuid.UUID, actor auth.Actor) (*Ticket, error) {
	if err := auth.Authorize(actor, auth.CapTicketManage); err != nil {
		return nil, err
	}

	var t *Ticket
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		active, err := s.techs.IsActive(ctx, technicianID)
		if err != nil {
			return workflow.NotFound("technician", technicianID.String())
		}
		if !active {
			return workflow.ValidationFailed("ticket", "technician is not active")
		}

		t, err = s.tickets.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("ticket", id.String())
		}
		if t.Status != StatusAssigned {
			if !CanTransition(t.Status, StatusAssigned) {
				return workflow.InvalidTransition("ticket", string(t.Status), string(StatusAssigned))
			}
			t.Status = StatusAssigned
		}
		t.AssigneeID = &technicianID
		return s.tickets.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

type VisitInput struct {
	TechnicianID uuid.UUID    `json:"technician_id"`
	ScheduledAt  time.Time    `json:"scheduled_at"`
	ArrivedAt    *time.Time   `json:"arrived_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	Outcome      VisitOutcome `json:"outcome"`
	Notes        *string      `json:"notes,omitempty"`
}

// RecordVisit logs a technician intervention and moves the ticket per
// the visit outcome. A visit on an ASSIGNED ticket first steps it to
// IN_PROGRESS. A COMPLETED outcome resolves the ticket and, when no
// other open ticket holds the device, returns it to service.
func (s *Service) RecordVisit(ctx context.Context, id uuid.UUID, in VisitInput, actor auth.Actor) (*Ticket, error) {
	if !actor.Can(auth.CapTicketWork) && !actor.Can(auth.CapTicketManage) {
		return nil, workflow.Forbidden("ticket", "role "+string(actor.Role)+" cannot record visits")
	}
	target, ok := outcomeTargets[in.Outcome]
	if !ok {
		return nil, workflow.ValidationFailed("ticket", fmt.Sprintf("unknown visit outcome %q", in.Outcome))
	}

	var t *Ticket
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.tickets.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("ticket", id.String())
		}

		status := t.Status
		if status == StatusAssigned {
			status = StatusInProgress
		}
		if target != status && !CanTransition(status, target) {
			return workflow.InvalidTransition("ticket", string(t.Status), string(target))
		}

		if err := s.tickets.AddVisit(ctx, &Visit{
			TicketID:     t.ID,
			TechnicianID: in.TechnicianID,
			ScheduledAt:  in.ScheduledAt,
			ArrivedAt:    in.ArrivedAt,
			CompletedAt:  in.CompletedAt,
			Outcome:      in.Outcome,
			Notes:        in.Notes,
		}); err != nil {
			return err
		}

		t.Status = target
		if target == StatusResolved {
			now := s.now()
			t.ResolvedAt = &now
			if in.Notes != nil {
				t.ResolutionNotes = in.Notes
			}
		}
		if err := s.tickets.Update(ctx, t); err != nil {
			return err
		}
		if target == StatusResolved {
			return s.releaseDevice(ctx, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

type PartInput struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	UnitCost string `json:"unit_cost"`
}

// AddPartUsage records a consumed spare part. Parts can only be logged
// while work is underway.
func (s *Service) AddPartUsage(ctx context.Context, id uuid.UUID, in PartInput, actor auth.Actor) (*PartUsage, error) {
	if !actor.Can(auth.CapTicketWork) && !actor.Can(auth.CapTicketManage) {
		return nil, workflow.Forbidden("ticket", "role "+string(actor.Role)+" cannot record parts")
	}
	if in.SKU == "" {
		return nil, workflow.ValidationFailed("ticket", "part sku is required")
	}
	if in.Quantity < 1 {
		return nil, workflow.ValidationFailed("ticket", "part quantity must be at least 1")
	}
	cost, err := money.FromString(in.UnitCost)
	if err != nil {
		return nil, workflow.ValidationFailed("ticket", fmt.Sprintf("invalid unit cost %q", in.UnitCost))
	}
	if cost.IsNegative() {
		return nil, workflow.ValidationFailed("ticket", "unit cost cannot be negative")
	}

	var p *PartUsage
	err = s.txr.RunTx(ctx, func(ctx context.Context) error {
		t, err := s.tickets.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("ticket", id.String())
		}
		if t.Status != StatusInProgress && t.Status != StatusPendingParts {
			return workflow.Conflict("ticket", "parts can only be added while work is in progress")
		}
		p = &PartUsage{
			TicketID: t.ID,
			SKU:      in.SKU,
			Name:     in.Name,
			Quantity: in.Quantity,
			UnitCost: cost,
		}
		return s.tickets.AddPart(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

type UpdateInput struct {
	Status          *Status `json:"status,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
}

// UpdateTicket is the table-validated status entry point for manual
// moves, including closing and reopening.
func (s *Service) UpdateTicket(ctx context.Context, id uuid.UUID, in UpdateInput, actor auth.Actor) (*Ticket, error) {
	if err := auth.Authorize(actor, auth.CapTicketManage); err != nil {
		return nil, err
	}

	var t *Ticket
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.tickets.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("ticket", id.String())
		}

		if in.ResolutionNotes != nil {
			t.ResolutionNotes = in.ResolutionNotes
		}
		if in.Status == nil || *in.Status == t.Status {
			return s.tickets.Update(ctx, t)
		}
		target := *in.Status
		if !ValidStatus(target) {
			return workflow.ValidationFailed("ticket", fmt.Sprintf("unknown status %q", target))
		}
		if !CanTransition(t.Status, target) {
			return workflow.InvalidTransition("ticket", string(t.Status), string(target))
		}

		wasOpen := t.Status.Open()
		t.Status = target
		if target == StatusResolved && t.ResolvedAt == nil {
			now := s.now()
			t.ResolvedAt = &now
		}
		if err := s.tickets.Update(ctx, t); err != nil {
			return err
		}
		switch {
		case wasOpen && !target.Open():
			return s.releaseDevice(ctx, t)
		case !wasOpen && target.Open():
			return s.reclaimDevice(ctx, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// releaseDevice returns the device to service once no open ticket holds
// it out.
func (s *Service) releaseDevice(ctx context.Context, t *Ticket) error {
	if !t.Category.TakesDeviceOut() {
		return nil
	}
	open, err := s.tickets.CountOpenByDevice(ctx, t.DeviceID, t.ID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	dev, err := s.devices.Get(ctx, t.DeviceID)
	if err != nil {
		return err
	}
	if dev.Status != deviceStatusInRepair {
		return nil
	}
	return s.devices.SetStatus(ctx, dev.ID, deviceStatusActive)
}

// reclaimDevice takes the device back out of service when a repair
// ticket is reopened.
func (s *Service) reclaimDevice(ctx context.Context, t *Ticket) error {
	if !t.Category.TakesDeviceOut() {
		return nil
	}
	dev, err := s.devices.Get(ctx, t.DeviceID)
	if err != nil {
		return err
	}
	if dev.Status != deviceStatusActive {
		return nil
	}
	return s.devices.SetStatus(ctx, dev.ID, deviceStatusInRepair)
}

// TicketView bundles a ticket with its visit and part history.
type TicketView struct {
	*Ticket
	Visits []*Visit     `json:"visits"`
	Parts  []*PartUsage `json:"parts"`
}

func (s *Service) GetTicket(ctx context.Context, id uuid.UUID, actor auth.Actor) (*TicketView, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, workflow.NotFound("ticket", id.String())
	}
	if !actor.IsStaff() && !actor.Can(auth.CapTicketWork) && t.ReporterID != actor.ID {
		dev, err := s.devices.Get(ctx, t.DeviceID)
		if err != nil || dev.PatientID == nil || !actor.OwnsPatient(*dev.PatientID) {
			return nil, workflow.Forbidden("ticket", "actor cannot read this ticket")
		}
	}
	visits, err := s.tickets.GetVisits(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	parts, err := s.tickets.GetParts(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &TicketView{Ticket: t, Visits: visits, Parts: parts}, nil
}

func (s *Service) ListTickets(ctx context.Context, actor auth.Actor, status *Status, limit, offset int) ([]*Ticket, int, error) {
	if !actor.IsStaff() && !actor.Can(auth.CapTicketWork) {
		return s.tickets.ListByReporter(ctx, actor.ID, limit, offset)
	}
	if status != nil && !ValidStatus(*status) {
		return nil, 0, workflow.ValidationFailed("ticket", fmt.Sprintf("unknown status %q", *status))
	}
	return s.tickets.List(ctx, status, limit, offset)
}
