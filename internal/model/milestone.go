package model

import "time"

// Milestone statuses. paid is only reachable through the escrow reconciler or
// an explicit release; it is never caller-initiated.
const (
	MilestoneStatusPending          = "pending"
	MilestoneStatusInProgress       = "in_progress"
	MilestoneStatusCompleted        = "completed"
	MilestoneStatusPaymentRequested = "payment_requested"
	MilestoneStatusPaid             = "paid"
	MilestoneStatusCancelled        = "cancelled"
)

type Milestone struct {
	ID          int        `json:"id"`
	ContractID  int        `json:"contract_id"`
	ProjectID   int        `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Amount      float64    `json:"amount"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

var nextMilestoneStatus = map[string]string{
	MilestoneStatusPending:          MilestoneStatusInProgress,
	MilestoneStatusInProgress:       MilestoneStatusCompleted,
	MilestoneStatusCompleted:        MilestoneStatusPaymentRequested,
	MilestoneStatusPaymentRequested: MilestoneStatusPaid,
}

// ValidMilestoneStatus reports whether the value is a known status.
func ValidMilestoneStatus(status string) bool {
	switch status {
	case MilestoneStatusPending, MilestoneStatusInProgress, MilestoneStatusCompleted,
		MilestoneStatusPaymentRequested, MilestoneStatusPaid, MilestoneStatusCancelled:
		return true
	default:
		return false
	}
}

// MilestoneStatusTerminal reports whether no further transitions are legal.
func MilestoneStatusTerminal(status string) bool {
	return status == MilestoneStatusPaid || status == MilestoneStatusCancelled
}

// MilestoneEdgeAllowed reports whether from→to is a defined edge. Forward
// edges are adjacent in the sequence; cancelled is reachable from any
// non-terminal status. A failed hold moves payment_requested back to
// completed so payment can be requested again.
func MilestoneEdgeAllowed(from, to string) bool {
	if MilestoneStatusTerminal(from) {
		return false
	}
	if to == MilestoneStatusCancelled {
		return true
	}
	if from == MilestoneStatusPaymentRequested && to == MilestoneStatusCompleted {
		return true
	}
	return nextMilestoneStatus[from] == to
}

// MilestoneEdgeCallerInitiated reports whether the edge may be triggered by a
// caller through recordProgress; paid is reserved for the reconciler.
func MilestoneEdgeCallerInitiated(to string) bool {
	switch to {
	case MilestoneStatusInProgress, MilestoneStatusCompleted, MilestoneStatusPaymentRequested, MilestoneStatusCancelled:
		return true
	default:
		return false
	}
}
