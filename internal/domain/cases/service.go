package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/sequence"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

type Service struct {
	cases         Repository
	prescriptions PrescriptionSource
	seq           sequence.Allocator
	intents       workflow.IntentRepository
	txr           db.TxRunner
	now           func() time.Time
}

func NewService(cases Repository, prescriptions PrescriptionSource, seq sequence.Allocator, intents workflow.IntentRepository, txr db.TxRunner) *Service {
	return &Service{
		cases:         cases,
		prescriptions: prescriptions,
		seq:           seq,
		intents:       intents,
		txr:           txr,
		now:           time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type CreateCaseInput struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
	Priority       Priority   `json:"priority,omitempty"`
}

// CreateCase opens a new equipment file. Patients may only open cases
// for themselves; the linked prescription must be verified and inside
// its validity window.
func (s *Service) CreateCase(ctx context.Context, in CreateCaseInput, actor auth.Actor) (*Case, error) {
	if !actor.IsStaff() && !actor.OwnsPatient(in.PatientID) {
		return nil, workflow.Forbidden("case", "patients may only open cases for themselves")
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !ValidPriority(in.Priority) {
		return nil, workflow.ValidationFailed("case", fmt.Sprintf("unknown priority %q", in.Priority))
	}

	if in.PrescriptionID != nil {
		if err := s.checkPrescription(ctx, *in.PrescriptionID); err != nil {
			return nil, err
		}
	}

	var c *Case
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		number, err := s.seq.Next(ctx, sequence.PrefixCase, s.now().Year())
		if err != nil {
			return err
		}
		c = &Case{
			Number:         number,
			PatientID:      in.PatientID,
			PrescriptionID: in.PrescriptionID,
			Status:         StatusIntakeReceived,
			Priority:       in.Priority,
			Checklist:      map[string]bool{},
		}
		return s.cases.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) checkPrescription(ctx context.Context, id uuid.UUID) error {
	p, err := s.prescriptions.Get(ctx, id)
	if err != nil {
		return workflow.NotFound("prescription", id.String())
	}
	if !p.Verified {
		return workflow.ValidationFailed("case", "prescription has not been verified")
	}
	if p.ExpiresAt != nil && s.now().After(*p.ExpiresAt) {
		return workflow.Expired("case", "prescription validity window has passed")
	}
	return nil
}

// UpdatePatch carries the fields an update may touch. Nil pointers are
// left unchanged.
type UpdatePatch struct {
	Status          *Status         `json:"status,omitempty"`
	Priority        *Priority       `json:"priority,omitempty"`
	AssigneeID      *uuid.UUID      `json:"assignee_id,omitempty"`
	SLADeadline     *time.Time      `json:"sla_deadline,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	PrescriptionID  *uuid.UUID      `json:"prescription_id,omitempty"`
	Checklist       map[string]bool `json:"checklist,omitempty"`
}

func (p UpdatePatch) touchesWorkflow() bool {
	return p.Status != nil || p.AssigneeID != nil || p.SLADeadline != nil
}

// UpdateCase applies a field patch and, when patch.Status is present,
// a table-validated transition. Patient actors may only touch
// non-workflow fields on their own case.
func (s *Service) UpdateCase(ctx context.Context, id uuid.UUID, patch UpdatePatch, actor auth.Actor) (*Case, error) {
	var updated *Case
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetForUpdate(ctx, id)
		if err != nil {
			return workflow.NotFound("case", id.String())
		}

		if actor.IsStaff() {
			if err := auth.Authorize(actor, auth.CapCaseWorkflow); err != nil {
				return err
			}
		} else {
			if !actor.OwnsPatient(c.PatientID) {
				return workflow.Forbidden("case", "actor does not own this case")
			}
			if patch.touchesWorkflow() {
				return workflow.Forbidden("case", "patients may not change status, assignee or SLA deadline")
			}
		}

		if patch.Priority != nil {
			if !ValidPriority(*patch.Priority) {
				return workflow.ValidationFailed("case", fmt.Sprintf("unknown priority %q", *patch.Priority))
			}
			c.Priority = *patch.Priority
		}
		if patch.AssigneeID != nil {
			c.AssigneeID = patch.AssigneeID
		}
		if patch.SLADeadline != nil {
			c.SLADeadline = patch.SLADeadline
		}
		if patch.PrescriptionID != nil {
			if err := s.checkPrescription(ctx, *patch.PrescriptionID); err != nil {
				return err
			}
			c.PrescriptionID = patch.PrescriptionID
		}
		if patch.Checklist != nil {
			c.Checklist = patch.Checklist
		}

		if patch.Status != nil && *patch.Status != c.Status {
			if err := s.transition(c, *patch.Status, patch.RejectionReason); err != nil {
				return err
			}
			if err := s.intents.Append(ctx, workflow.Notify(c.PatientID.String(), "case_status_changed", "Case", c.ID)); err != nil {
				return err
			}
		} else if patch.RejectionReason != nil {
			c.RejectionReason = patch.RejectionReason
		}

		if err := s.cases.Update(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// transition applies a validated status change plus its side-effect
// timestamps. Callers have already established the target differs from
// the current status.
func (s *Service) transition(c *Case, target Status, reason *string) error {
	if !ValidStatus(target) {
		return workflow.ValidationFailed("case", fmt.Sprintf("unknown status %q", target))
	}
	if !CanTransition(c.Status, target) {
		return workflow.InvalidTransition("case", string(c.Status), string(target))
	}

	now := s.now()
	switch target {
	case StatusCPAMRejected:
		if reason == nil || *reason == "" {
			return workflow.ValidationFailed("case", "rejection reason is required when rejecting")
		}
		c.RejectionReason = reason
		c.RejectedAt = &now
	case StatusSubmittedToCPAM:
		c.SubmittedAt = &now
	case StatusCPAMApproved:
		c.ApprovedAt = &now
	case StatusDelivered:
		c.DeliveredAt = &now
	}

	c.Status = target
	return nil
}

// ApplyStatusChange is the orchestration entry point used when another
// engine's intent targets this case. It runs inside the caller's
// transaction and validates against the same table as UpdateCase.
func (s *Service) ApplyStatusChange(ctx context.Context, caseID uuid.UUID, target string) error {
	c, err := s.cases.GetForUpdate(ctx, caseID)
	if err != nil {
		return workflow.NotFound("case", caseID.String())
	}
	if Status(target) == c.Status {
		return nil
	}
	if err := s.transition(c, Status(target), nil); err != nil {
		return err
	}
	return s.cases.Update(ctx, c)
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, workflow.NotFound("case", id.String())
	}
	if !actor.IsStaff() && !actor.OwnsPatient(c.PatientID) {
		return nil, workflow.Forbidden("case", "actor does not own this case")
	}
	return c, nil
}

func (s *Service) ListCases(ctx context.Context, actor auth.Actor, status *Status, limit, offset int) ([]*Case, int, error) {
	if !actor.IsStaff() {
		if actor.PatientID == nil {
			return nil, 0, workflow.Forbidden("case", "unauthenticated patient actor")
		}
		return s.cases.ListByPatient(ctx, *actor.PatientID, limit, offset)
	}
	if status != nil {
		return s.cases.ListByStatus(ctx, *status, limit, offset)
	}
	return s.cases.List(ctx, limit, offset)
}
