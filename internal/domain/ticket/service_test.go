package ticket

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/sequence"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

type mockRepo struct {
	tickets map[uuid.UUID]*Ticket
	visits  map[uuid.UUID][]*Visit
	parts   map[uuid.UUID][]*PartUsage
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		tickets: make(map[uuid.UUID]*Ticket),
		visits:  make(map[uuid.UUID][]*Visit),
		parts:   make(map[uuid.UUID][]*PartUsage),
	}
}

func (m *mockRepo) Create(_ context.Context, t *Ticket) error {
	t.ID = uuid.New()
	m.tickets[t.ID] = t
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Ticket, error) {
	t, ok := m.tickets[id]
	if !ok {
		return nil, fmt.Errorf("no rows")
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, t *Ticket) error {
	if _, ok := m.tickets[t.ID]; !ok {
		return fmt.Errorf("no rows")
	}
	m.tickets[t.ID] = t
	return nil
}

func (m *mockRepo) List(_ context.Context, status *Status, limit, offset int) ([]*Ticket, int, error) {
	var out []*Ticket
	for _, t := range m.tickets {
		if status == nil || t.Status == *status {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByReporter(_ context.Context, reporterID string, limit, offset int) ([]*Ticket, int, error) {
	var out []*Ticket
	for _, t := range m.tickets {
		if t.ReporterID == reporterID {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) CountOpenByDevice(_ context.Context, deviceID, exclude uuid.UUID) (int, error) {
	n := 0
	for _, t := range m.tickets {
		if t.DeviceID == deviceID && t.ID != exclude && t.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) AddVisit(_ context.Context, v *Visit) error {
	v.ID = uuid.New()
	m.visits[v.TicketID] = append(m.visits[v.TicketID], v)
	return nil
}

func (m *mockRepo) GetVisits(_ context.Context, ticketID uuid.UUID) ([]*Visit, error) {
	return m.visits[ticketID], nil
}

func (m *mockRepo) AddPart(_ context.Context, p *PartUsage) error {
	p.ID = uuid.New()
	m.parts[p.TicketID] = append(m.parts[p.TicketID], p)
	return nil
}

func (m *mockRepo) GetParts(_ context.Context, ticketID uuid.UUID) ([]*PartUsage, error) {
	return m.parts[ticketID], nil
}

type mockDevices struct {
	devices map[uuid.UUID]*DeviceRef
}

func (m *mockDevices) Get(_ context.Context, id uuid.UUID) (*DeviceRef, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("no rows")
	}
	cp := *d
	return &cp, nil
}

func (m *mockDevices) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	d, ok := m.devices[id]
	if !ok {
		return fmt.Errorf("no rows")
	}
	d.Status = status
	return nil
}

type mockTechs struct {
	active map[uuid.UUID]bool
}

func (m *mockTechs) IsActive(_ context.Context, id uuid.UUID) (bool, error) {
	active, ok := m.active[id]
	if !ok {
		return false, fmt.Errorf("no rows")
	}
	return active, nil
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	devices  *mockDevices
	techs    *mockTechs
	deviceID uuid.UUID
	patient  uuid.UUID
	techID   uuid.UUID
}

func newFixture() *fixture {
	repo := newMockRepo()
	patient := uuid.New()
	deviceID := uuid.New()
	devices := &mockDevices{devices: map[uuid.UUID]*DeviceRef{
		deviceID: {ID: deviceID, Status: deviceStatusActive, PatientID: &patient},
	}}
	techID := uuid.New()
	techs := &mockTechs{active: map[uuid.UUID]bool{techID: true}}
	svc := NewService(repo, devices, techs, sequence.NewMemoryAllocator(), db.Passthrough{})
	return &fixture{svc: svc, repo: repo, devices: devices, techs: techs, deviceID: deviceID, patient: patient, techID: techID}
}

func staffActor() auth.Actor { return auth.Actor{ID: "staff-1", Role: auth.RoleStaff} }

func (f *fixture) patientActor() auth.Actor {
	return auth.Actor{ID: "patient-1", Role: auth.RolePatient, PatientID: &f.patient}
}

func techActor() auth.Actor { return auth.Actor{ID: "tech-1", Role: auth.RoleTechnician} }

func (f *fixture) createTicket(t *testing.T, in CreateInput, actor auth.Actor) *Ticket {
	t.Helper()
	tk, err := f.svc.CreateTicket(context.Background(), in, actor)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return tk
}

func TestCreateTicket(t *testing.T) {
	f := newFixture()

	tk := f.createTicket(t, CreateInput{
		DeviceID:    f.deviceID,
		Category:    CategoryMaintenance,
		Severity:    SeverityLow,
		Description: "annual service",
	}, staffActor())

	if !strings.HasPrefix(tk.Number, "TKT-") {
		t.Errorf("number = %s, want TKT- prefix", tk.Number)
	}
	if tk.Status != StatusOpen {
		t.Errorf("status = %s, want OPEN", tk.Status)
	}
	if f.devices.devices[f.deviceID].Status != deviceStatusActive {
		t.Error("maintenance ticket must not take the device out of service")
	}
}

func TestCreateTicketSafetyEscalation(t *testing.T) {
	f := newFixture()

	tk := f.createTicket(t, CreateInput{
		DeviceID:      f.deviceID,
		Category:      CategoryRepair,
		Severity:      SeverityLow,
		IsSafetyIssue: true,
		Description:   "frame cracked, wheel wobbles",
	}, f.patientActor())

	if tk.Severity != SeverityHigh {
		t.Errorf("severity = %s, want HIGH after safety escalation", tk.Severity)
	}
	if f.devices.devices[f.deviceID].Status != deviceStatusInRepair {
		t.Errorf("device status = %s, want IN_REPAIR", f.devices.devices[f.deviceID].Status)
	}
}

func TestCreateTicketSafetyKeepsHigherSeverity(t *testing.T) {
	f := newFixture()

	tk := f.createTicket(t, CreateInput{
		DeviceID:      f.deviceID,
		Category:      CategoryEmergency,
		Severity:      SeverityCritical,
		IsSafetyIssue: true,
		Description:   "oxygen concentrator failure",
	}, staffActor())

	if tk.Severity != SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL preserved", tk.Severity)
	}
}

func TestCreateTicketGuards(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.CreateTicket(context.Background(), CreateInput{
		DeviceID: uuid.New(), Category: CategoryRepair, Description: "x",
	}, staffActor()); workflow.KindOf(err) != workflow.KindNotFound {
		t.Errorf("unknown device: err = %v, want NotFound", err)
	}

	f.devices.devices[f.deviceID].Status = deviceStatusDecommissioned
	if _, err := f.svc.CreateTicket(context.Background(), CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "x",
	}, staffActor()); workflow.KindOf(err) != workflow.KindConflict {
		t.Errorf("decommissioned device: err = %v, want Conflict", err)
	}
	f.devices.devices[f.deviceID].Status = deviceStatusActive

	other := uuid.New()
	stranger := auth.Actor{ID: "patient-2", Role: auth.RolePatient, PatientID: &other}
	if _, err := f.svc.CreateTicket(context.Background(), CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "x",
	}, stranger); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("stranger reporter: err = %v, want Forbidden", err)
	}

	if _, err := f.svc.CreateTicket(context.Background(), CreateInput{
		DeviceID: f.deviceID, Category: Category("CLEANING"), Description: "x",
	}, staffActor()); workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Errorf("unknown category: err = %v, want ValidationFailed", err)
	}

	if _, err := f.svc.CreateTicket(context.Background(), CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair,
	}, staffActor()); workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Errorf("empty description: err = %v, want ValidationFailed", err)
	}
}

func TestAssign(t *testing.T) {
	f := newFixture()
	tk := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "broken wheel",
	}, staffActor())

	out, err := f.svc.Assign(context.Background(), tk.ID, f.techID, staffActor())
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if out.Status != StatusAssigned || out.AssigneeID == nil || *out.AssigneeID != f.techID {
		t.Errorf("assignment not recorded: %+v", out)
	}

	other := uuid.New()
	f.techs.active[other] = true
	out, err = f.svc.Assign(context.Background(), tk.ID, other, staffActor())
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if out.Status != StatusAssigned || *out.AssigneeID != other {
		t.Errorf("reassignment should swap technician without a status change: %+v", out)
	}

	inactive := uuid.New()
	f.techs.active[inactive] = false
	if _, err := f.svc.Assign(context.Background(), tk.ID, inactive, staffActor()); workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Errorf("inactive technician: err = %v, want ValidationFailed", err)
	}

	if _, err := f.svc.Assign(context.Background(), tk.ID, f.techID, techActor()); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("technician self-assign: err = %v, want Forbidden", err)
	}
}

func TestRecordVisitOutcomes(t *testing.T) {
	f := newFixture()
	tk := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "broken wheel",
	}, staffActor())
	if _, err := f.svc.Assign(context.Background(), tk.ID, f.techID, staffActor()); err != nil {
		t.Fatal(err)
	}

	// Visit on an ASSIGNED ticket steps through IN_PROGRESS first.
	out, err := f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomePartsNeeded,
	}, techActor())
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	if out.Status != StatusPendingParts {
		t.Errorf("status = %s, want PENDING_PARTS", out.Status)
	}

	out, err = f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomeRescheduled,
	}, techActor())
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	if out.Status != StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", out.Status)
	}

	notes := "wheel replaced"
	out, err = f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomeCompleted, Notes: &notes,
	}, techActor())
	if err != nil {
		t.Fatalf("RecordVisit: %v", err)
	}
	if out.Status != StatusResolved || out.ResolvedAt == nil {
		t.Errorf("completed visit should resolve the ticket: %+v", out)
	}
	if out.ResolutionNotes == nil || *out.ResolutionNotes != notes {
		t.Error("resolution notes should carry the visit notes")
	}
	if f.devices.devices[f.deviceID].Status != deviceStatusActive {
		t.Errorf("device status = %s, want ACTIVE after resolution", f.devices.devices[f.deviceID].Status)
	}
	if got := len(f.repo.visits[tk.ID]); got != 3 {
		t.Errorf("visits recorded = %d, want 3", got)
	}
}

func TestRecordVisitGuards(t *testing.T) {
	f := newFixture()
	tk := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "broken wheel",
	}, staffActor())

	// Visits need an assigned or in-progress ticket.
	if _, err := f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomeCompleted,
	}, techActor()); workflow.KindOf(err) != workflow.KindInvalidTransition {
		t.Errorf("visit on OPEN ticket: err = %v, want InvalidTransition", err)
	}

	if _, err := f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: VisitOutcome("GAVE_UP"),
	}, techActor()); workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Errorf("unknown outcome: err = %v, want ValidationFailed", err)
	}

	billing := auth.Actor{ID: "b1", Role: auth.RoleBilling}
	if _, err := f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomeCompleted,
	}, billing); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("billing actor: err = %v, want Forbidden", err)
	}
}

func TestDeviceHeldByOtherOpenTicket(t *testing.T) {
	f := newFixture()
	first := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "broken wheel",
	}, staffActor())
	f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "torn seat",
	}, staffActor())

	if _, err := f.svc.Assign(context.Background(), first.ID, f.techID, staffActor()); err != nil {
		t.Fatal(err)
	}
	out, err := f.svc.RecordVisit(context.Background(), first.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomeCompleted,
	}, techActor())
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusResolved {
		t.Fatalf("status = %s, want RESOLVED", out.Status)
	}
	if f.devices.devices[f.deviceID].Status != deviceStatusInRepair {
		t.Error("device must stay IN_REPAIR while another repair ticket is open")
	}
}

func TestAddPartUsage(t *testing.T) {
	f := newFixture()
	tk := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "broken wheel",
	}, staffActor())

	// Parts cannot be logged before work starts.
	if _, err := f.svc.AddPartUsage(context.Background(), tk.ID, PartInput{
		SKU: "WHL-24", Name: "24in wheel", Quantity: 1, UnitCost: "45.00",
	}, techActor()); workflow.KindOf(err) != workflow.KindConflict {
		t.Errorf("part on OPEN ticket: err = %v, want Conflict", err)
	}

	if _, err := f.svc.Assign(context.Background(), tk.ID, f.techID, staffActor()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomePartsNeeded,
	}, techActor()); err != nil {
		t.Fatal(err)
	}

	p, err := f.svc.AddPartUsage(context.Background(), tk.ID, PartInput{
		SKU: "WHL-24", Name: "24in wheel", Quantity: 2, UnitCost: "45.00",
	}, techActor())
	if err != nil {
		t.Fatalf("AddPartUsage: %v", err)
	}
	if p.UnitCost.String() != "45.00" {
		t.Errorf("unit cost = %s, want 45.00", p.UnitCost)
	}

	if _, err := f.svc.AddPartUsage(context.Background(), tk.ID, PartInput{
		SKU: "WHL-24", Quantity: 0, UnitCost: "45.00",
	}, techActor()); workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Errorf("zero quantity: err = %v, want ValidationFailed", err)
	}
	if _, err := f.svc.AddPartUsage(context.Background(), tk.ID, PartInput{
		SKU: "WHL-24", Quantity: 1, UnitCost: "-1.00",
	}, techActor()); workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Errorf("negative cost: err = %v, want ValidationFailed", err)
	}
}

func TestUpdateTicket(t *testing.T) {
	f := newFixture()
	tk := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "broken wheel",
	}, staffActor())

	// Abandoning an OPEN repair ticket returns the device to service.
	out, err := f.svc.UpdateTicket(context.Background(), tk.ID, UpdateInput{Status: statusPtr(StatusClosed)}, staffActor())
	if err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	if out.Status != StatusClosed {
		t.Errorf("status = %s, want CLOSED", out.Status)
	}
	if f.devices.devices[f.deviceID].Status != deviceStatusActive {
		t.Error("device should return to service when the only repair ticket closes")
	}

	if _, err := f.svc.UpdateTicket(context.Background(), tk.ID, UpdateInput{Status: statusPtr(StatusOpen)}, staffActor()); workflow.KindOf(err) != workflow.KindInvalidTransition {
		t.Errorf("reopen CLOSED: err = %v, want InvalidTransition", err)
	}
}

func TestReopenResolvedReclaimsDevice(t *testing.T) {
	f := newFixture()
	tk := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryRepair, Description: "broken wheel",
	}, staffActor())
	if _, err := f.svc.Assign(context.Background(), tk.ID, f.techID, staffActor()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RecordVisit(context.Background(), tk.ID, VisitInput{
		TechnicianID: f.techID, ScheduledAt: time.Now(), Outcome: OutcomeCompleted,
	}, techActor()); err != nil {
		t.Fatal(err)
	}
	if f.devices.devices[f.deviceID].Status != deviceStatusActive {
		t.Fatal("device should be back in service after resolution")
	}

	out, err := f.svc.UpdateTicket(context.Background(), tk.ID, UpdateInput{Status: statusPtr(StatusInProgress)}, staffActor())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if out.Status != StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", out.Status)
	}
	if f.devices.devices[f.deviceID].Status != deviceStatusInRepair {
		t.Error("reopened repair ticket should take the device back out of service")
	}
}

func TestGetTicketOwnership(t *testing.T) {
	f := newFixture()
	tk := f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryMaintenance, Description: "annual service",
	}, f.patientActor())

	view, err := f.svc.GetTicket(context.Background(), tk.ID, f.patientActor())
	if err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if view.Ticket.ID != tk.ID {
		t.Error("wrong ticket returned")
	}

	other := uuid.New()
	stranger := auth.Actor{ID: "patient-2", Role: auth.RolePatient, PatientID: &other}
	if _, err := f.svc.GetTicket(context.Background(), tk.ID, stranger); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("stranger read: err = %v, want Forbidden", err)
	}

	if _, err := f.svc.GetTicket(context.Background(), tk.ID, techActor()); err != nil {
		t.Errorf("technician read: %v", err)
	}
}

func TestListTicketsScoping(t *testing.T) {
	f := newFixture()
	f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryMaintenance, Description: "annual service",
	}, f.patientActor())
	f.createTicket(t, CreateInput{
		DeviceID: f.deviceID, Category: CategoryInspection, Description: "post-delivery check",
	}, staffActor())

	items, total, err := f.svc.ListTickets(context.Background(), f.patientActor(), nil, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("patient list: total = %d, want 1", total)
	}

	_, total, err = f.svc.ListTickets(context.Background(), staffActor(), nil, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("staff list: total = %d, want 2", total)
	}
}

func statusPtr(s Status) *Status { return &s }
