package claim

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/domain/cases"
	"github.com/medequip/dmeflow/internal/domain/quote"
	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/money"
	"github.com/medequip/dmeflow/internal/platform/sequence"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

// scanStatusClean is the only scan state a claim document may carry.
const scanStatusClean = "CLEAN"

type Service struct {
	claims Repository
	quotes QuoteSource
	cases  CaseSource
	docs   DocumentSource
	seq    sequence.Allocator
	apply  workflow.Applier
	txr    db.TxRunner
	now    func() time.Time
}

func NewService(claims Repository, quotes QuoteSource, caseSrc CaseSource, docs DocumentSource, seq sequence.Allocator, apply workflow.Applier, txr db.TxRunner) *Service {
	return &Service{
		claims: claims,
		quotes: quotes,
		cases:  caseSrc,
		docs:   docs,
		seq:    seq,
		apply:  apply,
		txr:    txr,
		now:    time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateClaim derives a DRAFT claim from an approved quote. A case
// holds at most one active claim at a time.
func (s *Service) CreateClaim(ctx context.Context, quoteID uuid.UUID, gateway Gateway, actor auth.Actor) (*Claim, error) {
	if err := auth.Authorize(actor, auth.CapClaimManage); err != nil {
		return nil, err
	}
	if gateway == "" {
		gateway = GatewayB2
	}
	if !ValidGateway(gateway) {
		return nil, workflow.ValidationFailed("claim", fmt.Sprintf("unknown gateway %q", gateway))
	}

	var c *Claim
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		q, err := s.quotes.Get(ctx, quoteID)
		if err != nil {
			return workflow.NotFound("quote", quoteID.String())
		}
		if q.Status != string(quote.StatusApproved) {
			return workflow.ValidationFailed("claim", fmt.Sprintf("quote %s is %s, claims require an APPROVED quote", quoteID, q.Status))
		}
		active, err := s.claims.ActiveByCase(ctx, q.CaseID)
		if err != nil {
			return err
		}
		if active != nil {
			return workflow.Conflict("claim", fmt.Sprintf("case already holds active claim %s", active.Number))
		}

		number, err := s.seq.Next(ctx, sequence.PrefixClaim, s.now().Year())
		if err != nil {
			return err
		}
		c = &Claim{
			Number:      number,
			CaseID:      q.CaseID,
			QuoteID:     q.ID,
			Gateway:     gateway,
			Status:      StatusDraft,
			TotalAmount: q.TotalAmount,
			PaidAmount:  money.Zero(),
			CreatedBy:   actor.ID,
		}
		return s.claims.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AttachDocument links a clean scan to the claim under a role. Allowed
// on any non-terminal claim.
func (s *Service) AttachDocument(ctx context.Context, claimID, documentID uuid.UUID, role DocumentRole, actor auth.Actor) (*Document, error) {
	if err := auth.Authorize(actor, auth.CapClaimManage); err != nil {
		return nil, err
	}
	switch role {
	case RolePrescription, RoleCarteVitale, RoleQuote, RoleOther:
	default:
		return nil, workflow.ValidationFailed("claim", fmt.Sprintf("unknown document role %q", role))
	}

	var doc *Document
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.GetForUpdate(ctx, claimID)
		if err != nil {
			return workflow.NotFound("claim", claimID.String())
		}
		if c.Status == StatusPaid || c.Status == StatusCancelled {
			return workflow.Conflict("claim", fmt.Sprintf("cannot attach documents to a %s claim", c.Status))
		}

		scan, err := s.docs.Get(ctx, documentID)
		if err != nil {
			return workflow.NotFound("document", documentID.String())
		}
		if scan.ScanStatus != scanStatusClean {
			return workflow.ValidationFailed("claim", fmt.Sprintf("document %s scan status is %s", documentID, scan.ScanStatus))
		}

		doc = &Document{
			ClaimID:    claimID,
			DocumentID: documentID,
			Role:       role,
			AttachedBy: actor.ID,
		}
		return s.claims.AddDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SubmitClaim moves a DRAFT claim to SUBMITTED once the mandatory
// document roles are covered, and asks the case engine to record the
// submission.
func (s *Service) SubmitClaim(ctx context.Context, claimID uuid.UUID, actor auth.Actor) (*Claim, error) {
	if err := auth.Authorize(actor, auth.CapClaimManage); err != nil {
		return nil, err
	}

	var c *Claim
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.claims.GetForUpdate(ctx, claimID)
		if err != nil {
			return workflow.NotFound("claim", claimID.String())
		}
		if c.Status != StatusDraft {
			return workflow.InvalidTransition("claim", string(c.Status), string(StatusSubmitted))
		}

		docs, err := s.claims.GetDocuments(ctx, claimID)
		if err != nil {
			return err
		}
		if missing := missingRoles(docs); len(missing) > 0 {
			return workflow.ValidationFailed("claim", "missing required documents: "+strings.Join(missing, ", "))
		}

		now := s.now()
		c.Status = StatusSubmitted
		c.SubmittedAt = &now
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}
		return s.apply.Apply(ctx, []workflow.Intent{
			workflow.CaseStatusChange(c.CaseID, string(cases.StatusSubmittedToCPAM)),
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func missingRoles(docs []*Document) []string {
	covered := make(map[DocumentRole]bool, len(docs))
	for _, d := range docs {
		covered[d.Role] = true
	}
	var missing []string
	for _, role := range RequiredRoles {
		if !covered[role] {
			missing = append(missing, string(role))
		}
	}
	sort.Strings(missing)
	return missing
}

type PaymentInput struct {
	Amount    string    `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
	Method    string    `json:"method"`
	Reference *string   `json:"reference,omitempty"`
}

// CreatePayment records an insurer payment and reconciles paidAmount.
// This is the only path that mutates paidAmount. The claim row is read
// under lock so two concurrent payments cannot both pass the balance
// check against the same stale amount.
func (s *Service) CreatePayment(ctx context.Context, claimID uuid.UUID, in PaymentInput, actor auth.Actor) (*Claim, error) {
	if err := auth.Authorize(actor, auth.CapPaymentRecord); err != nil {
		return nil, err
	}
	amount, err := money.FromString(in.Amount)
	if err != nil {
		return nil, workflow.ValidationFailed("payment", err.Error())
	}
	if !amount.IsPositive() {
		return nil, workflow.ValidationFailed("payment", "amount must be positive")
	}

	var c *Claim
	err = s.txr.RunTx(ctx, func(ctx context.Context) error {
		c, err = s.claims.GetForUpdate(ctx, claimID)
		if err != nil {
			return workflow.NotFound("claim", claimID.String())
		}

		newPaid := c.PaidAmount.Add(amount)
		if newPaid.GreaterThan(c.TotalAmount) {
			return workflow.ExceedsBalance("claim", fmt.Sprintf("payment of %s would push paid amount %s over total %s", amount, c.PaidAmount, c.TotalAmount))
		}

		target := StatusPartialPayment
		if newPaid.Cmp(c.TotalAmount) >= 0 {
			target = StatusPaid
		}
		if target != c.Status && !CanTransition(c.Status, target) {
			return workflow.InvalidTransition("claim", string(c.Status), string(target))
		}

		paidAt := in.PaidAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		if err := s.claims.AddPayment(ctx, &Payment{
			ClaimID:   claimID,
			Amount:    amount,
			PaidAt:    paidAt,
			Method:    in.Method,
			Reference: in.Reference,
		}); err != nil {
			return err
		}

		c.PaidAmount = newPaid
		c.Status = target
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}

		if target == StatusPaid {
			patientID, err := s.cases.PatientID(ctx, c.CaseID)
			if err != nil {
				return err
			}
			return s.apply.Apply(ctx, []workflow.Intent{
				workflow.Notify(patientID.String(), "claim_paid", "Claim", c.ID),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

type ReturnInput struct {
	FileRef string                 `json:"file_ref"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// CreateClaimReturn records an insurer response file. Returns never
// drive claim status; staff review them and use UpdateClaim.
func (s *Service) CreateClaimReturn(ctx context.Context, claimID uuid.UUID, in ReturnInput, actor auth.Actor) (*Return, error) {
	if err := auth.Authorize(actor, auth.CapClaimManage); err != nil {
		return nil, err
	}
	if in.FileRef == "" {
		return nil, workflow.ValidationFailed("claim return", "file reference is required")
	}

	var ret *Return
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		if _, err := s.claims.GetByID(ctx, claimID); err != nil {
			return workflow.NotFound("claim", claimID.String())
		}
		ret = &Return{
			ClaimID:    claimID,
			FileRef:    in.FileRef,
			Payload:    in.Payload,
			ReceivedAt: s.now(),
		}
		return s.claims.AddReturn(ctx, ret)
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

type UpdateInput struct {
	Status          Status  `json:"status"`
	RejectionCode   *string `json:"rejection_code,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

// UpdateClaim is the single general status transition entry point,
// validated against the table. Payment and submission state changes go
// through their dedicated paths.
func (s *Service) UpdateClaim(ctx context.Context, claimID uuid.UUID, in UpdateInput, actor auth.Actor) (*Claim, error) {
	if err := auth.Authorize(actor, auth.CapClaimManage); err != nil {
		return nil, err
	}
	if !ValidStatus(in.Status) {
		return nil, workflow.ValidationFailed("claim", fmt.Sprintf("unknown status %q", in.Status))
	}

	var c *Claim
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.claims.GetForUpdate(ctx, claimID)
		if err != nil {
			return workflow.NotFound("claim", claimID.String())
		}
		if in.Status == c.Status {
			return nil
		}
		if !CanTransition(c.Status, in.Status) {
			return workflow.InvalidTransition("claim", string(c.Status), string(in.Status))
		}

		c.Status = in.Status
		if in.Status == StatusRejected {
			c.RejectionCode = in.RejectionCode
			c.RejectionReason = in.RejectionReason
		}
		if err := s.claims.Update(ctx, c); err != nil {
			return err
		}

		patientID, err := s.cases.PatientID(ctx, c.CaseID)
		if err != nil {
			return err
		}
		return s.apply.Apply(ctx, []workflow.Intent{
			workflow.Notify(patientID.String(), "claim_status_changed", "Claim", c.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetClaim loads a claim with its documents, returns and payments.
// Patients may only read claims on their own case.
func (s *Service) GetClaim(ctx context.Context, claimID uuid.UUID, actor auth.Actor) (*Claim, []*Document, []*Return, []*Payment, error) {
	c, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, nil, nil, nil, workflow.NotFound("claim", claimID.String())
	}
	if !actor.IsStaff() {
		patientID, err := s.cases.PatientID(ctx, c.CaseID)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if !actor.OwnsPatient(patientID) {
			return nil, nil, nil, nil, workflow.Forbidden("claim", "actor does not own this claim's case")
		}
	}

	docs, err := s.claims.GetDocuments(ctx, claimID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	returns, err := s.claims.GetReturns(ctx, claimID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	payments, err := s.claims.GetPayments(ctx, claimID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return c, docs, returns, payments, nil
}

// ListClaims is a staff listing, optionally filtered by status.
func (s *Service) ListClaims(ctx context.Context, status *Status, actor auth.Actor, limit, offset int) ([]*Claim, int, error) {
	if err := auth.Authorize(actor, auth.CapClaimManage); err != nil {
		return nil, 0, err
	}
	if status != nil && !ValidStatus(*status) {
		return nil, 0, workflow.ValidationFailed("claim", fmt.Sprintf("unknown status %q", *status))
	}
	return s.claims.List(ctx, status, limit, offset)
}
