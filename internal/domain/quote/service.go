package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/domain/cases"
	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/money"
	"github.com/medequip/dmeflow/internal/platform/sequence"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

type Service struct {
	quotes       Repository
	codes        CodeSource
	cases        CaseSource
	seq          sequence.Allocator
	apply        workflow.Applier
	txr          db.TxRunner
	validityDays int
	now          func() time.Time
}

func NewService(quotes Repository, codes CodeSource, caseSrc CaseSource, seq sequence.Allocator, apply workflow.Applier, txr db.TxRunner, validityDays int) *Service {
	return &Service{
		quotes:       quotes,
		codes:        codes,
		cases:        caseSrc,
		seq:          seq,
		apply:        apply,
		txr:          txr,
		validityDays: validityDays,
		now:          time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateQuote opens an empty DRAFT quote for the case. A case holds at
// most one non-terminal quote at a time.
func (s *Service) CreateQuote(ctx context.Context, caseID uuid.UUID, actor auth.Actor) (*Quote, error) {
	if err := auth.Authorize(actor, auth.CapQuoteManage); err != nil {
		return nil, err
	}

	var q *Quote
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		if _, err := s.cases.PatientID(ctx, caseID); err != nil {
			return workflow.NotFound("case", caseID.String())
		}
		active, err := s.quotes.ActiveByCase(ctx, caseID)
		if err != nil {
			return err
		}
		if active != nil {
			return workflow.Conflict("quote", fmt.Sprintf("case already holds active quote %s", active.Number))
		}

		count, err := s.quotes.CountByCase(ctx, caseID)
		if err != nil {
			return err
		}
		number, err := s.seq.Next(ctx, sequence.PrefixQuote, s.now().Year())
		if err != nil {
			return err
		}

		q = &Quote{
			Number:    number,
			CaseID:    caseID,
			Version:   count + 1,
			Status:    StatusDraft,
			CreatedBy: actor.ID,
		}
		return s.quotes.Create(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

type LineItemInput struct {
	ProductRef string `json:"product_ref"`
	CodeRef    string `json:"code_ref"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	SortOrder  int    `json:"sort_order"`
}

// AddLineItem appends a priced row to a DRAFT quote and recomputes the
// totals in the same transaction.
func (s *Service) AddLineItem(ctx context.Context, quoteID uuid.UUID, in LineItemInput, actor auth.Actor) (*Quote, error) {
	if err := auth.Authorize(actor, auth.CapQuoteManage); err != nil {
		return nil, err
	}
	if in.Quantity < 1 {
		return nil, workflow.ValidationFailed("quote", "quantity must be at least 1")
	}
	unitPrice, err := moneyFromInput(in.UnitPrice)
	if err != nil {
		return nil, err
	}

	var q *Quote
	err = s.txr.RunTx(ctx, func(ctx context.Context) error {
		q, err = s.lockDraft(ctx, quoteID)
		if err != nil {
			return err
		}
		if _, err := s.codes.Get(ctx, in.CodeRef); err != nil {
			return workflow.NotFound("reimbursement code", in.CodeRef)
		}

		item := &LineItem{
			QuoteID:    quoteID,
			ProductRef: in.ProductRef,
			CodeRef:    in.CodeRef,
			Quantity:   in.Quantity,
			UnitPrice:  unitPrice,
			LineTotal:  unitPrice.MulInt(in.Quantity),
			SortOrder:  in.SortOrder,
		}
		if err := s.quotes.AddItem(ctx, item); err != nil {
			return err
		}
		return s.recalc(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// RemoveLineItem deletes a row from a DRAFT quote and recomputes the
// totals.
func (s *Service) RemoveLineItem(ctx context.Context, quoteID, itemID uuid.UUID, actor auth.Actor) (*Quote, error) {
	if err := auth.Authorize(actor, auth.CapQuoteManage); err != nil {
		return nil, err
	}

	var q *Quote
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.lockDraft(ctx, quoteID)
		if err != nil {
			return err
		}
		removed, err := s.quotes.RemoveItem(ctx, quoteID, itemID)
		if err != nil {
			return err
		}
		if !removed {
			return workflow.NotFound("line item", itemID.String())
		}
		return s.recalc(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) lockDraft(ctx context.Context, quoteID uuid.UUID) (*Quote, error) {
	q, err := s.quotes.GetForUpdate(ctx, quoteID)
	if err != nil {
		return nil, workflow.NotFound("quote", quoteID.String())
	}
	if q.Status != StatusDraft {
		return nil, workflow.Conflict("quote", fmt.Sprintf("line items may only change while DRAFT, status is %s", q.Status))
	}
	return q, nil
}

// recalc reloads the items, resolves their codes and rewrites the
// quote's totals.
func (s *Service) recalc(ctx context.Context, q *Quote) error {
	items, err := s.quotes.GetItems(ctx, q.ID)
	if err != nil {
		return err
	}
	codes := make(map[string]*ReimbursementCode)
	for _, it := range items {
		if _, ok := codes[it.CodeRef]; ok {
			continue
		}
		code, err := s.codes.Get(ctx, it.CodeRef)
		if err != nil {
			return fmt.Errorf("resolve code %s: %w", it.CodeRef, err)
		}
		codes[it.CodeRef] = code
	}

	t := Recalculate(items, codes)
	if !t.Total.Equal(t.InsurerCoverage.Add(t.PatientRemainder)) {
		return fmt.Errorf("quote %s: totals do not reconcile", q.Number)
	}
	q.TotalAmount = t.Total
	q.InsurerCoverage = t.InsurerCoverage
	q.PatientRemainder = t.PatientRemainder
	q.Items = items
	return s.quotes.Update(ctx, q)
}

// SubmitQuote moves a DRAFT quote with at least one line item to
// PENDING_APPROVAL and asks the case engine to move the case to
// PATIENT_APPROVAL_PENDING.
func (s *Service) SubmitQuote(ctx context.Context, quoteID uuid.UUID, actor auth.Actor) (*Quote, error) {
	if err := auth.Authorize(actor, auth.CapQuoteManage); err != nil {
		return nil, err
	}

	var q *Quote
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.quotes.GetForUpdate(ctx, quoteID)
		if err != nil {
			return workflow.NotFound("quote", quoteID.String())
		}
		if q.Status != StatusDraft {
			return workflow.InvalidTransition("quote", string(q.Status), string(StatusPendingApproval))
		}
		items, err := s.quotes.GetItems(ctx, q.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return workflow.ValidationFailed("quote", "cannot submit a quote with no line items")
		}

		q.Status = StatusPendingApproval
		if err := s.quotes.Update(ctx, q); err != nil {
			return err
		}

		patientID, err := s.cases.PatientID(ctx, q.CaseID)
		if err != nil {
			return err
		}
		return s.apply.Apply(ctx, []workflow.Intent{
			workflow.CaseStatusChange(q.CaseID, string(cases.StatusPatientApprovalPending)),
			workflow.Notify(patientID.String(), "quote_awaiting_approval", "Quote", q.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ApproveQuote records the decision on a PENDING_APPROVAL quote. A
// quote past its validity window is flipped to SUPERSEDED and the call
// reports Expired; the flip persists even though the approval fails.
func (s *Service) ApproveQuote(ctx context.Context, quoteID uuid.UUID, actor auth.Actor) (*Quote, error) {
	var q *Quote
	expired := false
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.lockPendingForDecision(ctx, quoteID, StatusApproved, actor)
		if err != nil {
			return err
		}

		if s.now().After(q.CreatedAt.AddDate(0, 0, s.validityDays)) {
			q.Status = StatusSuperseded
			expired = true
			return s.quotes.Update(ctx, q)
		}

		now := s.now()
		q.Status = StatusApproved
		q.ApprovedAt = &now
		q.ApprovedBy = &actor.ID
		if err := s.quotes.Update(ctx, q); err != nil {
			return err
		}
		return s.apply.Apply(ctx, []workflow.Intent{
			workflow.CaseStatusChange(q.CaseID, string(cases.StatusReadyToSubmit)),
		})
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, workflow.Expired("quote", fmt.Sprintf("validity window of %d days has passed", s.validityDays))
	}
	return q, nil
}

// RejectQuote records a rejection with an optional note and sends the
// case back to QUOTE_PENDING.
func (s *Service) RejectQuote(ctx context.Context, quoteID uuid.UUID, note *string, actor auth.Actor) (*Quote, error) {
	var q *Quote
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		var err error
		q, err = s.lockPendingForDecision(ctx, quoteID, StatusRejected, actor)
		if err != nil {
			return err
		}

		q.Status = StatusRejected
		q.RejectionNote = note
		if err := s.quotes.Update(ctx, q); err != nil {
			return err
		}
		return s.apply.Apply(ctx, []workflow.Intent{
			workflow.CaseStatusChange(q.CaseID, string(cases.StatusQuotePending)),
		})
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// lockPendingForDecision loads the quote under lock and checks that the
// actor may decide it: staff with the decide capability, or the patient
// who owns the quote's case.
func (s *Service) lockPendingForDecision(ctx context.Context, quoteID uuid.UUID, target Status, actor auth.Actor) (*Quote, error) {
	q, err := s.quotes.GetForUpdate(ctx, quoteID)
	if err != nil {
		return nil, workflow.NotFound("quote", quoteID.String())
	}

	if actor.IsStaff() {
		if err := auth.Authorize(actor, auth.CapQuoteDecide); err != nil {
			return nil, err
		}
	} else {
		patientID, err := s.cases.PatientID(ctx, q.CaseID)
		if err != nil {
			return nil, err
		}
		if !actor.OwnsPatient(patientID) {
			return nil, workflow.Forbidden("quote", "only the owning patient may decide this quote")
		}
	}

	if q.Status != StatusPendingApproval {
		return nil, workflow.InvalidTransition("quote", string(q.Status), string(target))
	}
	return q, nil
}

// ProcessExpiredQuotes flips every PENDING_APPROVAL quote older than
// the validity window to SUPERSEDED. Idempotent; safe to re-run.
func (s *Service) ProcessExpiredQuotes(ctx context.Context) (int, error) {
	cutoff := s.now().AddDate(0, 0, -s.validityDays)
	flipped := 0
	err := s.txr.RunTx(ctx, func(ctx context.Context) error {
		overdue, err := s.quotes.ListPendingCreatedBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, q := range overdue {
			q.Status = StatusSuperseded
			if err := s.quotes.Update(ctx, q); err != nil {
				return err
			}
			flipped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return flipped, nil
}

// GetQuote loads a quote with its line items. Patients may only read
// quotes on their own case.
func (s *Service) GetQuote(ctx context.Context, quoteID uuid.UUID, actor auth.Actor) (*Quote, error) {
	q, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, workflow.NotFound("quote", quoteID.String())
	}
	if !actor.IsStaff() {
		patientID, err := s.cases.PatientID(ctx, q.CaseID)
		if err != nil {
			return nil, err
		}
		if !actor.OwnsPatient(patientID) {
			return nil, workflow.Forbidden("quote", "actor does not own this quote's case")
		}
	}
	items, err := s.quotes.GetItems(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	q.Items = items
	return q, nil
}

// ListByCase returns every quote version for a case, newest first.
func (s *Service) ListByCase(ctx context.Context, caseID uuid.UUID, actor auth.Actor) ([]*Quote, error) {
	if !actor.IsStaff() {
		patientID, err := s.cases.PatientID(ctx, caseID)
		if err != nil {
			return nil, workflow.NotFound("case", caseID.String())
		}
		if !actor.OwnsPatient(patientID) {
			return nil, workflow.Forbidden("quote", "actor does not own this case")
		}
	}
	return s.quotes.ListByCase(ctx, caseID)
}

func moneyFromInput(s string) (money.Amount, error) {
	m, err := money.FromString(s)
	if err != nil {
		return money.Zero(), workflow.ValidationFailed("quote", err.Error())
	}
	if m.IsNegative() {
		return money.Zero(), workflow.ValidationFailed("quote", "unit price must not be negative")
	}
	return m, nil
}
