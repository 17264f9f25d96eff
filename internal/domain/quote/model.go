package quote

import (
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/money"
)

// Status is the quote workflow status.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusSuperseded      Status = "SUPERSEDED"
)

// Terminal reports whether s accepts no further workflow actions. A
// case may hold at most one non-terminal quote at a time.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusSuperseded:
		return true
	}
	return false
}

// Quote is a priced proposal tied to a case. Totals are recomputed
// after every line-item mutation and always satisfy
// TotalAmount == InsurerCoverage + PatientRemainder.
type Quote struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	Number           string       `db:"quote_number" json:"quote_number"`
	CaseID           uuid.UUID    `db:"case_id" json:"case_id"`
	Version          int          `db:"version" json:"version"`
	Status           Status       `db:"status" json:"status"`
	TotalAmount      money.Amount `db:"total_amount" json:"total_amount"`
	InsurerCoverage  money.Amount `db:"insurer_coverage" json:"insurer_coverage"`
	PatientRemainder money.Amount `db:"patient_remainder" json:"patient_remainder"`
	RejectionNote    *string      `db:"rejection_note" json:"rejection_note,omitempty"`
	CreatedBy        string       `db:"created_by" json:"created_by"`
	ApprovedBy       *string      `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time   `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`

	Items []*LineItem `db:"-" json:"items,omitempty"`
}

// LineItem is one priced product row, owned exclusively by its quote.
type LineItem struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	QuoteID    uuid.UUID    `db:"quote_id" json:"quote_id"`
	ProductRef string       `db:"product_ref" json:"product_ref"`
	CodeRef    string       `db:"code_ref" json:"code_ref"`
	Quantity   int          `db:"quantity" json:"quantity"`
	UnitPrice  money.Amount `db:"unit_price" json:"unit_price"`
	LineTotal  money.Amount `db:"line_total" json:"line_total"`
	SortOrder  int          `db:"sort_order" json:"sort_order"`
}

// ReimbursementCode is an external tariff entry. MaxPrice, when set,
// caps the insurer contribution per unit.
type ReimbursementCode struct {
	Code        string        `db:"code" json:"code"`
	Description string        `db:"description" json:"description"`
	MaxPrice    *money.Amount `db:"max_price" json:"max_price,omitempty"`
}

// Totals is the result of one recalculation pass.
type Totals struct {
	Total            money.Amount
	InsurerCoverage  money.Amount
	PatientRemainder money.Amount
}

// Recalculate derives quote totals from the line items. Per line the
// insurer contributes min(lineTotal, maxPrice*quantity) when the mapped
// code defines a maximum reimbursable price, else nothing. All
// arithmetic is exact decimal.
func Recalculate(items []*LineItem, codes map[string]*ReimbursementCode) Totals {
	var t Totals
	for _, it := range items {
		t.Total = t.Total.Add(it.LineTotal)
		code := codes[it.CodeRef]
		if code == nil || code.MaxPrice == nil {
			continue
		}
		cap := code.MaxPrice.MulInt(it.Quantity)
		t.InsurerCoverage = t.InsurerCoverage.Add(money.Min(it.LineTotal, cap))
	}
	t.PatientRemainder = t.Total.Sub(t.InsurerCoverage)
	return t
}
