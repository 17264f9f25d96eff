package cases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medequip/dmeflow/internal/platform/auth"
	"github.com/medequip/dmeflow/internal/platform/db"
	"github.com/medequip/dmeflow/internal/platform/sequence"
	"github.com/medequip/dmeflow/internal/platform/workflow"
)

type mockRepo struct {
	cases map[uuid.UUID]*Case
}

func newMockRepo() *mockRepo { return &mockRepo{cases: make(map[uuid.UUID]*Case)} }

func (m *mockRepo) Create(_ context.Context, c *Case) error {
	c.ID = uuid.New()
	m.cases[c.ID] = c
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, fmt.Errorf("no rows")
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Case, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, c *Case) error {
	if _, ok := m.cases[c.ID]; !ok {
		return fmt.Errorf("no rows")
	}
	m.cases[c.ID] = c
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Case, int, error) {
	var out []*Case
	for _, c := range m.cases {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*Case, int, error) {
	var out []*Case
	for _, c := range m.cases {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Case, int, error) {
	var out []*Case
	for _, c := range m.cases {
		out = append(out, c)
	}
	return out, len(out), nil
}

type mockPrescriptions struct {
	refs map[uuid.UUID]*PrescriptionRef
}

func (m *mockPrescriptions) Get(_ context.Context, id uuid.UUID) (*PrescriptionRef, error) {
	p, ok := m.refs[id]
	if !ok {
		return nil, fmt.Errorf("no rows")
	}
	return p, nil
}

type mockIntents struct {
	appended []workflow.Intent
}

func (m *mockIntents) Append(_ context.Context, in workflow.Intent) error {
	m.appended = append(m.appended, in)
	return nil
}

func newTestService() (*Service, *mockRepo, *mockPrescriptions, *mockIntents) {
	repo := newMockRepo()
	rx := &mockPrescriptions{refs: make(map[uuid.UUID]*PrescriptionRef)}
	intents := &mockIntents{}
	svc := NewService(repo, rx, sequence.NewMemoryAllocator(), intents, db.Passthrough{})
	return svc, repo, rx, intents
}

func staffActor() auth.Actor { return auth.Actor{ID: "staff-1", Role: auth.RoleStaff} }

func patientActor(pid uuid.UUID) auth.Actor {
	return auth.Actor{ID: "patient-1", Role: auth.RolePatient, PatientID: &pid}
}

func TestCreateCaseAssignsNumberAndStatus(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.SetClock(func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) })

	c, err := svc.CreateCase(context.Background(), CreateCaseInput{PatientID: uuid.New()}, staffActor())
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if c.Status != StatusIntakeReceived {
		t.Errorf("status = %s, want INTAKE_RECEIVED", c.Status)
	}
	if c.Number != "CASE-2024-00001" {
		t.Errorf("case number = %s, want CASE-2024-00001", c.Number)
	}
	if c.Priority != PriorityNormal {
		t.Errorf("priority = %s, want NORMAL", c.Priority)
	}
}

func TestCreateCaseWithoutPrescription(t *testing.T) {
	svc, repo, _, _ := newTestService()

	c, err := svc.CreateCase(context.Background(), CreateCaseInput{PatientID: uuid.New()}, staffActor())
	if err != nil {
		t.Fatalf("CreateCase without prescription: %v", err)
	}
	if c.PrescriptionID != nil {
		t.Errorf("prescription id = %v, want nil until linked", c.PrescriptionID)
	}
	stored, ok := repo.cases[c.ID]
	if !ok {
		t.Fatal("case not persisted")
	}
	if stored.PrescriptionID != nil {
		t.Errorf("stored prescription id = %v, want nil", stored.PrescriptionID)
	}
}

func TestCreateCasePatientOwnershipRequired(t *testing.T) {
	svc, _, _, _ := newTestService()
	pid := uuid.New()

	if _, err := svc.CreateCase(context.Background(), CreateCaseInput{PatientID: uuid.New()}, patientActor(pid)); workflow.KindOf(err) != workflow.KindForbidden {
		t.Fatalf("err = %v, want Forbidden", err)
	}
	if _, err := svc.CreateCase(context.Background(), CreateCaseInput{PatientID: pid}, patientActor(pid)); err != nil {
		t.Fatalf("patient creating own case: %v", err)
	}
}

func TestCreateCasePrescriptionChecks(t *testing.T) {
	svc, _, rx, _ := newTestService()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	unverified := uuid.New()
	rx.refs[unverified] = &PrescriptionRef{ID: unverified}
	if _, err := svc.CreateCase(context.Background(), CreateCaseInput{PatientID: uuid.New(), PrescriptionID: &unverified}, staffActor()); workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Errorf("unverified prescription: err = %v, want ValidationFailed", err)
	}

	past := now.Add(-24 * time.Hour)
	expired := uuid.New()
	rx.refs[expired] = &PrescriptionRef{ID: expired, Verified: true, ExpiresAt: &past}
	if _, err := svc.CreateCase(context.Background(), CreateCaseInput{PatientID: uuid.New(), PrescriptionID: &expired}, staffActor()); workflow.KindOf(err) != workflow.KindExpired {
		t.Errorf("expired prescription: err = %v, want Expired", err)
	}

	future := now.Add(24 * time.Hour)
	valid := uuid.New()
	rx.refs[valid] = &PrescriptionRef{ID: valid, Verified: true, ExpiresAt: &future}
	if _, err := svc.CreateCase(context.Background(), CreateCaseInput{PatientID: uuid.New(), PrescriptionID: &valid}, staffActor()); err != nil {
		t.Errorf("valid prescription: %v", err)
	}
}

func seedCase(t *testing.T, repo *mockRepo, status Status) *Case {
	t.Helper()
	c := &Case{PatientID: uuid.New(), Status: status, Priority: PriorityNormal}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func statusPtr(s Status) *Status { return &s }

func TestUpdateCaseValidTransition(t *testing.T) {
	svc, repo, _, intents := newTestService()
	c := seedCase(t, repo, StatusIntakeReceived)

	out, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusDocumentsPending)}, staffActor())
	if err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	if out.Status != StatusDocumentsPending {
		t.Errorf("status = %s, want DOCUMENTS_PENDING", out.Status)
	}
	if len(intents.appended) != 1 || intents.appended[0].Kind != workflow.IntentNotify {
		t.Errorf("expected one notify intent, got %v", intents.appended)
	}
}

func TestUpdateCaseInvalidTransition(t *testing.T) {
	svc, repo, _, _ := newTestService()
	c := seedCase(t, repo, StatusIntakeReceived)

	_, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusDelivered)}, staffActor())
	if workflow.KindOf(err) != workflow.KindInvalidTransition {
		t.Fatalf("err = %v, want InvalidTransition", err)
	}

	stored, _ := repo.GetByID(context.Background(), c.ID)
	if stored.Status != StatusIntakeReceived {
		t.Errorf("status mutated to %s after rejected transition", stored.Status)
	}
}

func TestUpdateCaseTerminalStatesHaveNoExit(t *testing.T) {
	svc, repo, _, _ := newTestService()
	for _, terminal := range []Status{StatusClosed, StatusCancelled} {
		c := seedCase(t, repo, terminal)
		_, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusUnderReview)}, staffActor())
		if workflow.KindOf(err) != workflow.KindInvalidTransition {
			t.Errorf("from %s: err = %v, want InvalidTransition", terminal, err)
		}
	}
}

func TestUpdateCaseRejectionRequiresReason(t *testing.T) {
	svc, repo, _, _ := newTestService()
	c := seedCase(t, repo, StatusCPAMPending)

	_, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusCPAMRejected)}, staffActor())
	if workflow.KindOf(err) != workflow.KindValidationFailed {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}

	reason := "missing prior approval"
	out, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusCPAMRejected), RejectionReason: &reason}, staffActor())
	if err != nil {
		t.Fatalf("UpdateCase with reason: %v", err)
	}
	if out.RejectionReason == nil || *out.RejectionReason != reason {
		t.Error("rejection reason not recorded")
	}
	if out.RejectedAt == nil {
		t.Error("rejected_at not stamped")
	}
}

// A no-op status in the patch must not re-trigger the reason requirement
// when the case already sits in CPAM_REJECTED.
func TestUpdateCaseSameStatusSkipsTransitionRules(t *testing.T) {
	svc, repo, _, intents := newTestService()
	c := seedCase(t, repo, StatusCPAMRejected)

	out, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusCPAMRejected), Priority: priorityPtr(PriorityHigh)}, staffActor())
	if err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	if out.Priority != PriorityHigh {
		t.Errorf("priority = %s, want HIGH", out.Priority)
	}
	if len(intents.appended) != 0 {
		t.Errorf("no-op status change emitted %d intents", len(intents.appended))
	}
}

func priorityPtr(p Priority) *Priority { return &p }

func TestUpdateCaseStampsTimestamps(t *testing.T) {
	svc, repo, _, _ := newTestService()
	now := time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	steps := []struct {
		from  Status
		to    Status
		check func(*Case) *time.Time
	}{
		{StatusReadyToSubmit, StatusSubmittedToCPAM, func(c *Case) *time.Time { return c.SubmittedAt }},
		{StatusCPAMPending, StatusCPAMApproved, func(c *Case) *time.Time { return c.ApprovedAt }},
		{StatusDeliveryScheduled, StatusDelivered, func(c *Case) *time.Time { return c.DeliveredAt }},
	}
	for _, step := range steps {
		c := seedCase(t, repo, step.from)
		out, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(step.to)}, staffActor())
		if err != nil {
			t.Fatalf("%s -> %s: %v", step.from, step.to, err)
		}
		if ts := step.check(out); ts == nil || !ts.Equal(now) {
			t.Errorf("%s: timestamp not stamped", step.to)
		}
	}
}

func TestUpdateCasePatientRestrictions(t *testing.T) {
	svc, repo, _, _ := newTestService()
	c := seedCase(t, repo, StatusIntakeReceived)
	owner := patientActor(c.PatientID)

	if _, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusDocumentsPending)}, owner); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("patient status change: err = %v, want Forbidden", err)
	}

	assignee := uuid.New()
	if _, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{AssigneeID: &assignee}, owner); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("patient assignee change: err = %v, want Forbidden", err)
	}

	out, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Checklist: map[string]bool{"id_card": true}}, owner)
	if err != nil {
		t.Fatalf("patient checklist update: %v", err)
	}
	if !out.Checklist["id_card"] {
		t.Error("checklist not updated")
	}

	if _, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Priority: priorityPtr(PriorityHigh)}, patientActor(uuid.New())); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("non-owner patient update: err = %v, want Forbidden", err)
	}
}

func TestUpdateCaseTechnicianLacksWorkflowCapability(t *testing.T) {
	svc, repo, _, _ := newTestService()
	c := seedCase(t, repo, StatusIntakeReceived)

	tech := auth.Actor{ID: "tech-1", Role: auth.RoleTechnician}
	if _, err := svc.UpdateCase(context.Background(), c.ID, UpdatePatch{Status: statusPtr(StatusDocumentsPending)}, tech); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("technician case update: err = %v, want Forbidden", err)
	}
}

func TestApplyStatusChange(t *testing.T) {
	svc, repo, _, _ := newTestService()
	c := seedCase(t, repo, StatusQuotePending)

	if err := svc.ApplyStatusChange(context.Background(), c.ID, string(StatusQuoteReady)); err != nil {
		t.Fatalf("ApplyStatusChange: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), c.ID)
	if stored.Status != StatusQuoteReady {
		t.Errorf("status = %s, want QUOTE_READY", stored.Status)
	}

	// Idempotent when the case is already there.
	if err := svc.ApplyStatusChange(context.Background(), c.ID, string(StatusQuoteReady)); err != nil {
		t.Fatalf("repeat ApplyStatusChange: %v", err)
	}

	if err := svc.ApplyStatusChange(context.Background(), c.ID, string(StatusDelivered)); workflow.KindOf(err) != workflow.KindInvalidTransition {
		t.Errorf("err = %v, want InvalidTransition", err)
	}
}

func TestGetCaseOwnership(t *testing.T) {
	svc, repo, _, _ := newTestService()
	c := seedCase(t, repo, StatusIntakeReceived)

	if _, err := svc.GetCase(context.Background(), c.ID, patientActor(c.PatientID)); err != nil {
		t.Errorf("owner read: %v", err)
	}
	if _, err := svc.GetCase(context.Background(), c.ID, patientActor(uuid.New())); workflow.KindOf(err) != workflow.KindForbidden {
		t.Errorf("stranger read: err = %v, want Forbidden", err)
	}
	if _, err := svc.GetCase(context.Background(), uuid.New(), staffActor()); workflow.KindOf(err) != workflow.KindNotFound {
		t.Errorf("missing case: err = %v, want NotFound", err)
	}
}

func TestListCasesPatientScoped(t *testing.T) {
	svc, repo, _, _ := newTestService()
	mine := seedCase(t, repo, StatusIntakeReceived)
	seedCase(t, repo, StatusIntakeReceived)

	items, total, err := svc.ListCases(context.Background(), patientActor(mine.PatientID), nil, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != mine.ID {
		t.Errorf("patient list = %d items, want only their own case", len(items))
	}

	_, total, err = svc.ListCases(context.Background(), staffActor(), nil, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("staff list total = %d, want 2", total)
	}
}
