package cases

import (
	"time"

	"github.com/google/uuid"
)

// Status is the case workflow status.
type Status string

const (
	StatusIntakeReceived         Status = "INTAKE_RECEIVED"
	StatusDocumentsPending       Status = "DOCUMENTS_PENDING"
	StatusDocumentsComplete      Status = "DOCUMENTS_COMPLETE"
	StatusUnderReview            Status = "UNDER_REVIEW"
	StatusQuotePending           Status = "QUOTE_PENDING"
	StatusQuoteReady             Status = "QUOTE_READY"
	StatusPatientApprovalPending Status = "PATIENT_APPROVAL_PENDING"
	StatusReadyToSubmit          Status = "READY_TO_SUBMIT"
	StatusSubmittedToCPAM        Status = "SUBMITTED_TO_CPAM"
	StatusCPAMPending            Status = "CPAM_PENDING"
	StatusCPAMApproved           Status = "CPAM_APPROVED"
	StatusCPAMRejected           Status = "CPAM_REJECTED"
	StatusDeliveryScheduled      Status = "DELIVERY_SCHEDULED"
	StatusDelivered              Status = "DELIVERED"
	StatusMaintenanceActive      Status = "MAINTENANCE_ACTIVE"
	StatusClosed                 Status = "CLOSED"
	StatusCancelled              Status = "CANCELLED"
)

// Priority orders cases for staff triage.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var validPriorities = map[Priority]bool{
	PriorityLow: true, PriorityNormal: true, PriorityHigh: true, PriorityUrgent: true,
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool { return validPriorities[p] }

// transitions is the fixed, directional case transition table. CLOSED
// and CANCELLED have no outgoing edges.
var transitions = map[Status][]Status{
	StatusIntakeReceived:         {StatusDocumentsPending, StatusDocumentsComplete, StatusCancelled},
	StatusDocumentsPending:       {StatusDocumentsComplete, StatusCancelled},
	StatusDocumentsComplete:      {StatusUnderReview, StatusDocumentsPending, StatusCancelled},
	StatusUnderReview:            {StatusQuotePending, StatusDocumentsPending, StatusCancelled},
	StatusQuotePending:           {StatusQuoteReady, StatusPatientApprovalPending, StatusCancelled},
	StatusQuoteReady:             {StatusPatientApprovalPending, StatusQuotePending, StatusCancelled},
	StatusPatientApprovalPending: {StatusReadyToSubmit, StatusQuotePending, StatusCancelled},
	StatusReadyToSubmit:          {StatusSubmittedToCPAM, StatusCancelled},
	StatusSubmittedToCPAM:        {StatusCPAMPending, StatusCPAMApproved, StatusCPAMRejected, StatusCancelled},
	StatusCPAMPending:            {StatusCPAMApproved, StatusCPAMRejected, StatusCancelled},
	StatusCPAMApproved:           {StatusDeliveryScheduled, StatusCancelled},
	StatusCPAMRejected:           {StatusUnderReview, StatusCancelled, StatusClosed},
	StatusDeliveryScheduled:      {StatusDelivered, StatusCancelled},
	StatusDelivered:              {StatusMaintenanceActive, StatusClosed},
	StatusMaintenanceActive:      {StatusClosed},
	StatusClosed:                 {},
	StatusCancelled:              {},
}

// ValidStatus reports whether s is a member of the status enum.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge from -> to exists in the table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllStatuses returns every member of the enum, for table-driven tests.
func AllStatuses() []Status {
	out := make([]Status, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	return out
}

// Case is one patient's equipment-provisioning file.
type Case struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Number          string          `db:"case_number" json:"case_number"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	PrescriptionID  *uuid.UUID      `db:"prescription_id" json:"prescription_id,omitempty"`
	Status          Status          `db:"status" json:"status"`
	Priority        Priority        `db:"priority" json:"priority"`
	AssigneeID      *uuid.UUID      `db:"assignee_id" json:"assignee_id,omitempty"`
	SLADeadline     *time.Time      `db:"sla_deadline" json:"sla_deadline,omitempty"`
	SubmittedAt     *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt      *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	DeliveredAt     *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	Checklist       map[string]bool `db:"checklist" json:"checklist,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// PrescriptionRef is the slice of a prescription the case engine reads:
// its verification flag and validity window. The engine never writes
// prescription rows.
type PrescriptionRef struct {
	ID        uuid.UUID
	Verified  bool
	ExpiresAt *time.Time
}
