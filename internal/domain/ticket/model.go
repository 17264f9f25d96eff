package ticket

import (
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/money"
)

// Status is the service ticket workflow status.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAssigned     Status = "ASSIGNED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusPendingParts Status = "PENDING_PARTS"
	StatusResolved     Status = "RESOLVED"
	StatusClosed       Status = "CLOSED"
)

// transitions is the fixed ticket transition table. CLOSED is terminal.
var transitions = map[Status][]Status{
	StatusOpen:         {StatusAssigned, StatusClosed},
	StatusAssigned:     {StatusInProgress, StatusOpen, StatusClosed},
	StatusInProgress:   {StatusPendingParts, StatusResolved, StatusAssigned},
	StatusPendingParts: {StatusInProgress, StatusResolved},
	StatusResolved:     {StatusClosed, StatusInProgress},
	StatusClosed:       {},
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

// Open reports whether the ticket still counts against its device.
func (s Status) Open() bool {
	return s != StatusResolved && s != StatusClosed
}

// Category classifies the requested intervention. REPAIR and EMERGENCY
// take the device out of service.
type Category string

const (
	CategoryMaintenance Category = "MAINTENANCE"
	CategoryRepair      Category = "REPAIR"
	CategoryEmergency   Category = "EMERGENCY"
	CategoryInspection  Category = "INSPECTION"
)

func ValidCategory(c Category) bool {
	switch c {
	case CategoryMaintenance, CategoryRepair, CategoryEmergency, CategoryInspection:
		return true
	}
	return false
}

// TakesDeviceOut reports whether tickets of this category flip the
// device to IN_REPAIR.
func (c Category) TakesDeviceOut() bool {
	return c == CategoryRepair || c == CategoryEmergency
}

// Severity orders tickets for dispatch. Safety issues are forced to at
// least HIGH.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4,
}

func ValidSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// EscalateForSafety returns the persisted severity for a requested one:
// safety issues are raised to HIGH unless already higher.
func EscalateForSafety(requested Severity, isSafetyIssue bool) Severity {
	if isSafetyIssue && severityRank[requested] < severityRank[SeverityHigh] {
		return SeverityHigh
	}
	return requested
}

// VisitOutcome drives the ticket status when a visit is recorded.
type VisitOutcome string

const (
	OutcomeCompleted   VisitOutcome = "COMPLETED"
	OutcomePartsNeeded VisitOutcome = "PARTS_NEEDED"
	OutcomeRescheduled VisitOutcome = "RESCHEDULED"
)

// outcomeTargets maps a visit outcome to the resulting ticket status.
var outcomeTargets = map[VisitOutcome]Status{
	OutcomeCompleted:   StatusResolved,
	OutcomePartsNeeded: StatusPendingParts,
	OutcomeRescheduled: StatusInProgress,
}

// Ticket is a maintenance or repair request against a device instance.
type Ticket struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Number          string     `db:"ticket_number" json:"ticket_number"`
	DeviceID        uuid.UUID  `db:"device_id" json:"device_id"`
	ReporterID      string     `db:"reporter_id" json:"reporter_id"`
	Category        Category   `db:"category" json:"category"`
	Severity        Severity   `db:"severity" json:"severity"`
	IsSafetyIssue   bool       `db:"is_safety_issue" json:"is_safety_issue"`
	Status          Status     `db:"status" json:"status"`
	Description     string     `db:"description" json:"description"`
	AssigneeID      *uuid.UUID `db:"assignee_id" json:"assignee_id,omitempty"`
	ResolutionNotes *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Visit is one recorded technician intervention.
type Visit struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	TicketID     uuid.UUID    `db:"ticket_id" json:"ticket_id"`
	TechnicianID uuid.UUID    `db:"technician_id" json:"technician_id"`
	ScheduledAt  time.Time    `db:"scheduled_at" json:"scheduled_at"`
	ArrivedAt    *time.Time   `db:"arrived_at" json:"arrived_at,omitempty"`
	CompletedAt  *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	Outcome      VisitOutcome `db:"outcome" json:"outcome"`
	Notes        *string      `db:"notes" json:"notes,omitempty"`
}

// PartUsage is one consumed spare part.
type PartUsage struct {
	ID       uuid.UUID    `db:"id" json:"id"`
	TicketID uuid.UUID    `db:"ticket_id" json:"ticket_id"`
	SKU      string       `db:"sku" json:"sku"`
	Name     string       `db:"name" json:"name"`
	Quantity int          `db:"quantity" json:"quantity"`
	UnitCost money.Amount `db:"unit_cost" json:"unit_cost"`
}
