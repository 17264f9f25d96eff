package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// IntentKind identifies what an engine asks the orchestration layer to do.
type IntentKind string

const (
	// IntentCaseStatusChange asks the case engine to move a case to
	// TargetStatus inside the current transaction.
	IntentCaseStatusChange IntentKind = "case_status_change"
	// IntentNotify records an outbound notification for the external
	// dispatcher. Delivery failures never roll back the workflow.
	IntentNotify IntentKind = "notify"
)

// Intent is a side effect an engine wants applied without calling the
// owning engine directly.
type Intent struct {
	Kind         IntentKind `json:"kind"`
	EntityType   string     `json:"entity_type"`
	EntityID     uuid.UUID  `json:"entity_id"`
	TargetStatus string     `json:"target_status,omitempty"`
	Recipient    string     `json:"recipient,omitempty"`
	Event        string     `json:"event,omitempty"`
}

// CaseStatusChange builds an intent moving the case to target.
func CaseStatusChange(caseID uuid.UUID, target string) Intent {
	return Intent{Kind: IntentCaseStatusChange, EntityType: "Case", EntityID: caseID, TargetStatus: target}
}

// Notify builds a notification intent for the external dispatcher.
func Notify(recipient, event, entityType string, entityID uuid.UUID) Intent {
	return Intent{Kind: IntentNotify, EntityType: entityType, EntityID: entityID, Recipient: recipient, Event: event}
}

// CaseTransitioner is the slice of the case engine the orchestrator needs.
type CaseTransitioner interface {
	ApplyStatusChange(ctx context.Context, caseID uuid.UUID, target string) error
}

// IntentRepository persists notification intents to the outbox table.
type IntentRepository interface {
	Append(ctx context.Context, intent Intent) error
}

// Orchestrator applies intents returned by the engines. Case status
// changes go through the case engine's validated entry point; notify
// intents are appended to the outbox in the same transaction.
type Orchestrator struct {
	cases   CaseTransitioner
	intents IntentRepository
}

func NewOrchestrator(cases CaseTransitioner, intents IntentRepository) *Orchestrator {
	return &Orchestrator{cases: cases, intents: intents}
}

// Apply executes each intent in order. The caller is expected to hold the
// enclosing transaction in ctx so every applied intent commits or rolls
// back with the triggering operation.
func (o *Orchestrator) Apply(ctx context.Context, intents []Intent) error {
	for _, in := range intents {
		switch in.Kind {
		case IntentCaseStatusChange:
			if err := o.cases.ApplyStatusChange(ctx, in.EntityID, in.TargetStatus); err != nil {
				return err
			}
		case IntentNotify:
			if err := o.intents.Append(ctx, in); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown intent kind %q", in.Kind)
		}
	}
	return nil
}

// Applier is implemented by the Orchestrator and by test fakes.
type Applier interface {
	Apply(ctx context.Context, intents []Intent) error
}
