package auth

import "github.com/medequip/dmeflow/internal/platform/workflow"

// Capability is a permission token checked by the engines. Roles map to
// capability sets here, in one place, instead of per-operation role
// switches.
type Capability string

const (
	CapCaseWorkflow  Capability = "case:workflow"
	CapQuoteManage   Capability = "quote:manage"
	CapQuoteDecide   Capability = "quote:decide"
	CapClaimManage   Capability = "claim:manage"
	CapPaymentRecord Capability = "claim:payment"
	CapTicketManage  Capability = "ticket:manage"
	CapTicketWork    Capability = "ticket:work"
	CapDeviceManage  Capability = "device:manage"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapCaseWorkflow: true, CapQuoteManage: true, CapQuoteDecide: true,
		CapClaimManage: true, CapPaymentRecord: true,
		CapTicketManage: true, CapTicketWork: true, CapDeviceManage: true,
	},
	RoleStaff: {
		CapCaseWorkflow: true, CapQuoteManage: true, CapQuoteDecide: true,
		CapTicketManage: true, CapDeviceManage: true,
	},
	RoleBilling: {
		CapClaimManage: true, CapPaymentRecord: true,
	},
	RoleTechnician: {
		CapTicketWork: true,
	},
	// RolePatient holds no capabilities; patient paths are ownership
	// checks inside the engines.
}

// Can reports whether the actor's role grants the capability.
func (a Actor) Can(cap Capability) bool {
	return roleCapabilities[a.Role][cap]
}

// Authorize is the shared authorization helper: it returns a Forbidden
// error naming the missing capability when the actor's role does not
// grant it.
func Authorize(a Actor, cap Capability) error {
	if a.Can(cap) {
		return nil
	}
	return workflow.Forbidden("actor", "role "+string(a.Role)+" lacks capability "+string(cap))
}
