package claim

import (
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/money"
)

// Status is the claim workflow status.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusSubmitted      Status = "SUBMITTED"
	StatusPending        Status = "PENDING"
	StatusAccepted       Status = "ACCEPTED"
	StatusRejected       Status = "REJECTED"
	StatusPartialPayment Status = "PARTIAL_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusCancelled      Status = "CANCELLED"
	StatusResubmitted    Status = "RESUBMITTED"
)

// transitions is the fixed claim transition table. PAID and CANCELLED
// are terminal.
var transitions = map[Status][]Status{
	StatusDraft:          {StatusSubmitted, StatusCancelled},
	StatusSubmitted:      {StatusPending, StatusAccepted, StatusRejected, StatusCancelled},
	StatusPending:        {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:       {StatusPartialPayment, StatusPaid},
	StatusRejected:       {StatusResubmitted},
	StatusPartialPayment: {StatusPaid},
	StatusResubmitted:    {StatusPending, StatusAccepted, StatusRejected},
	StatusPaid:           {},
	StatusCancelled:      {},
}

func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether the claim still blocks a new claim on the
// same case. Only CANCELLED and REJECTED claims free the case up.
func (s Status) Active() bool {
	return s != StatusCancelled && s != StatusRejected
}

// Gateway identifies the transmission channel to the insurer.
type Gateway string

const (
	GatewayB2    Gateway = "B2"
	GatewayPaper Gateway = "PAPER"
)

func ValidGateway(g Gateway) bool { return g == GatewayB2 || g == GatewayPaper }

// DocumentRole tags an attached document. SUBMITTED requires the
// mandatory roles to be covered.
type DocumentRole string

const (
	RolePrescription DocumentRole = "PRESCRIPTION"
	RoleCarteVitale  DocumentRole = "CARTE_VITALE"
	RoleQuote        DocumentRole = "QUOTE"
	RoleOther        DocumentRole = "OTHER"
)

// RequiredRoles must all be covered by attached documents before a
// claim can be submitted.
var RequiredRoles = []DocumentRole{RolePrescription, RoleCarteVitale, RoleQuote}

// Claim is a reimbursement submission to the national insurer, derived
// from an approved quote. TotalAmount is copied at creation and never
// changes; PaidAmount only moves through CreatePayment.
type Claim struct {
	ID              uuid.UUID    `db:"id" json:"id"`
	Number          string       `db:"claim_number" json:"claim_number"`
	CaseID          uuid.UUID    `db:"case_id" json:"case_id"`
	QuoteID         uuid.UUID    `db:"quote_id" json:"quote_id"`
	Gateway         Gateway      `db:"gateway" json:"gateway"`
	Status          Status       `db:"status" json:"status"`
	TotalAmount     money.Amount `db:"total_amount" json:"total_amount"`
	PaidAmount      money.Amount `db:"paid_amount" json:"paid_amount"`
	SubmittedAt     *time.Time   `db:"submitted_at" json:"submitted_at,omitempty"`
	RejectionCode   *string      `db:"rejection_code" json:"rejection_code,omitempty"`
	RejectionReason *string      `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedBy       string       `db:"created_by" json:"created_by"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Document is a role-tagged reference to a stored scan.
type Document struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	ClaimID    uuid.UUID    `db:"claim_id" json:"claim_id"`
	DocumentID uuid.UUID    `db:"document_id" json:"document_id"`
	Role       DocumentRole `db:"role" json:"role"`
	AttachedBy string       `db:"attached_by" json:"attached_by"`
	AttachedAt time.Time    `db:"attached_at" json:"attached_at"`
}

// Return is one insurer response record. Returns never drive claim
// status; staff review them and move the claim through UpdateClaim.
type Return struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	ClaimID    uuid.UUID              `db:"claim_id" json:"claim_id"`
	FileRef    string                 `db:"file_ref" json:"file_ref"`
	Payload    map[string]interface{} `db:"payload" json:"payload,omitempty"`
	ReceivedAt time.Time              `db:"received_at" json:"received_at"`
}

// Payment is one recorded insurer payment. Immutable once created.
type Payment struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	ClaimID   uuid.UUID    `db:"claim_id" json:"claim_id"`
	Amount    money.Amount `db:"amount" json:"amount"`
	PaidAt    time.Time    `db:"paid_at" json:"paid_at"`
	Method    string       `db:"method" json:"method"`
	Reference *string      `db:"reference" json:"reference,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}
