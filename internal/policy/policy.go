// Package policy holds the pure authorization rules for the contract and
// milestone lifecycle. Every check combines role and relationship to the
// entity; role alone is never enough. Admins pass every check. State
// preconditions (which edge is legal from the current state) live in the
// state machines, not here.
package policy

import (
	"workbridge/internal/apperr"
	"workbridge/internal/model"
	"workbridge/pkg/rbac"
)

// Decision is the outcome of a policy check. Denials always carry a
// machine-readable reason.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

func isClient(p model.Principal, c *model.Contract) bool {
	return p.Role == rbac.RoleClient && p.UserID == c.ClientID
}

func isFreelancer(p model.Principal, c *model.Contract) bool {
	return p.Role == rbac.RoleFreelancer && p.UserID == c.FreelancerID
}

// ContractCreate: only the client who owns the project (or an admin) may turn
// an accepted bid into a contract.
func ContractCreate(p model.Principal, project *model.Project) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if p.Role != rbac.RoleClient {
		return deny(apperr.ReasonRoleNotAllowed)
	}
	if p.UserID != project.OwnerID {
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// ContractEditTerms: only the contract's client may edit terms. The
// stage==proposal precondition is enforced by the state machine.
func ContractEditTerms(p model.Principal, c *model.Contract) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if p.Role != rbac.RoleClient {
		return deny(apperr.ReasonRoleNotAllowed)
	}
	if p.UserID != c.ClientID {
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// contractAdvanceRoles maps each target stage to the party allowed to drive
// the contract into it. The table is exhaustive over non-initial stages.
var contractAdvanceRoles = map[string]func(model.Principal, *model.Contract) bool{
	// freelancer accepts the proposed terms
	model.ContractStageApproval: isFreelancer,
	// client moves the approved contract into the funding phase
	model.ContractStagePayment: isClient,
	// freelancer submits the finished work for review
	model.ContractStageReview: isFreelancer,
	// client signs off; the all-milestones-paid precondition is checked by
	// the state machine
	model.ContractStageCompleted: isClient,
	// either party may cancel
	model.ContractStageCancelled: func(p model.Principal, c *model.Contract) bool {
		return isClient(p, c) || isFreelancer(p, c)
	},
	// either party may raise a dispute
	model.ContractStageDisputed: func(p model.Principal, c *model.Contract) bool {
		return isClient(p, c) || isFreelancer(p, c)
	},
}

// ContractAdvance decides whether the principal may drive the contract into
// the target stage. Leaving disputed is an admin-only edge.
func ContractAdvance(p model.Principal, c *model.Contract, target string) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if c.Stage == model.ContractStageDisputed {
		return deny(apperr.ReasonRoleNotAllowed)
	}
	check, ok := contractAdvanceRoles[target]
	if !ok {
		return deny(apperr.ReasonUnknownTransition)
	}
	if !check(p, c) {
		if p.UserID == c.ClientID || p.UserID == c.FreelancerID {
			return deny(apperr.ReasonRoleNotAllowed)
		}
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// milestoneTransitionRoles maps each caller-initiated milestone status to the
// party allowed to trigger it.
var milestoneTransitionRoles = map[string]func(model.Principal, *model.Contract) bool{
	model.MilestoneStatusInProgress:       isFreelancer,
	model.MilestoneStatusCompleted:        isFreelancer,
	model.MilestoneStatusPaymentRequested: isFreelancer,
	model.MilestoneStatusCancelled: func(p model.Principal, c *model.Contract) bool {
		return isClient(p, c) || isFreelancer(p, c)
	},
}

// MilestoneTransition decides whether the principal may drive the milestone
// into the target status. paid is never caller-initiated.
func MilestoneTransition(p model.Principal, c *model.Contract, target string) Decision {
	if target == model.MilestoneStatusPaid {
		return deny(apperr.ReasonReconcilerOnly)
	}
	if p.IsAdmin() {
		return allow()
	}
	check, ok := milestoneTransitionRoles[target]
	if !ok {
		return deny(apperr.ReasonUnknownTransition)
	}
	if !check(p, c) {
		if p.UserID == c.ClientID || p.UserID == c.FreelancerID {
			return deny(apperr.ReasonRoleNotAllowed)
		}
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// MilestoneRecordProgress: the freelancer on the contract narrates progress.
func MilestoneRecordProgress(p model.Principal, c *model.Contract) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if !isFreelancer(p, c) {
		if p.UserID == c.ClientID {
			return deny(apperr.ReasonRoleNotAllowed)
		}
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// MilestoneEditDetails: only the contract's client may edit milestone
// details. The status==pending precondition lives in the state machine.
func MilestoneEditDetails(p model.Principal, c *model.Contract) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if !isClient(p, c) {
		if p.UserID == c.FreelancerID {
			return deny(apperr.ReasonRoleNotAllowed)
		}
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// EscrowFund: only the client funds a hold.
func EscrowFund(p model.Principal, c *model.Contract) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if !isClient(p, c) {
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// EscrowRelease: only the client releases held funds to the freelancer.
func EscrowRelease(p model.Principal, c *model.Contract) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if !isClient(p, c) {
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}

// EscrowRefund: only the client (or an admin) refunds the contract's holds.
func EscrowRefund(p model.Principal, c *model.Contract) Decision {
	if p.IsAdmin() {
		return allow()
	}
	if !isClient(p, c) {
		return deny(apperr.ReasonNotOwner)
	}
	return allow()
}
