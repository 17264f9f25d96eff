package auth

import (
	"context"

	"github.com/google/uuid"
)

// Role is the coarse actor role carried by the session token.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleBilling    Role = "billing"
	RoleTechnician Role = "technician"
	RolePatient    Role = "patient"
)

// Actor is the already-authenticated identity every engine operation
// receives. PatientID is set only for patient actors and names the
// patient record they own.
type Actor struct {
	ID        string
	Role      Role
	PatientID *uuid.UUID
}

// IsStaff reports whether the actor belongs to any internal role.
func (a Actor) IsStaff() bool {
	switch a.Role {
	case RoleAdmin, RoleStaff, RoleBilling, RoleTechnician:
		return true
	}
	return false
}

// OwnsPatient reports whether a patient actor owns the given patient
// record.
func (a Actor) OwnsPatient(patientID uuid.UUID) bool {
	return a.PatientID != nil && *a.PatientID == patientID
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext retrieves the actor placed by the auth middleware.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey).(Actor)
	return a
}
