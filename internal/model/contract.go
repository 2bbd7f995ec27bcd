package model

import (
	"math"
	"time"
)

// Contract stages. The happy path is a fixed sequence; cancelled and disputed
// are reachable from any non-terminal stage.
const (
	ContractStageProposal  = "proposal"
	ContractStageApproval  = "approval"
	ContractStagePayment   = "payment"
	ContractStageReview    = "review"
	ContractStageCompleted = "completed"
	ContractStageCancelled = "cancelled"
	ContractStageDisputed  = "disputed"
)

// AmountTolerance is the float tolerance used when comparing the contract
// amount against the sum of its milestone amounts.
const AmountTolerance = 1e-2

type Contract struct {
	ID              int        `json:"id"`
	ProjectID       int        `json:"project_id"`
	ClientID        int        `json:"client_id"`
	FreelancerID    int        `json:"freelancer_id"`
	BidID           int        `json:"bid_id"`
	Title           string     `json:"title"`
	Terms           string     `json:"terms"`
	Amount          float64    `json:"amount"`
	Stage           string     `json:"stage"`
	TermsAccepted   bool       `json:"terms_accepted"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// nextContractStage maps each stage of the happy path to its single successor.
var nextContractStage = map[string]string{
	ContractStageProposal: ContractStageApproval,
	ContractStageApproval: ContractStagePayment,
	ContractStagePayment:  ContractStageReview,
	ContractStageReview:   ContractStageCompleted,
}

// ValidContractStage reports whether the value is a known stage.
func ValidContractStage(stage string) bool {
	switch stage {
	case ContractStageProposal, ContractStageApproval, ContractStagePayment,
		ContractStageReview, ContractStageCompleted, ContractStageCancelled,
		ContractStageDisputed:
		return true
	default:
		return false
	}
}

// ContractStageTerminal reports whether no further transitions are legal.
func ContractStageTerminal(stage string) bool {
	return stage == ContractStageCompleted || stage == ContractStageCancelled
}

// ContractStageEdgeAllowed reports whether from→to is a defined edge. Each
// forward edge must be adjacent in the sequence; cancelled and disputed are
// reachable from any non-terminal stage; disputed resolves to review or
// cancelled.
func ContractStageEdgeAllowed(from, to string) bool {
	if ContractStageTerminal(from) {
		return false
	}
	switch to {
	case ContractStageCancelled:
		return true
	case ContractStageDisputed:
		return from != ContractStageDisputed
	case ContractStageReview:
		if from == ContractStageDisputed {
			return true
		}
	}
	return nextContractStage[from] == to
}

// AmountMatchesMilestones checks the contract-sum invariant within tolerance.
func AmountMatchesMilestones(amount float64, milestones []*Milestone) bool {
	var sum float64
	for _, m := range milestones {
		sum += m.Amount
	}
	return math.Abs(amount-sum) < AmountTolerance
}
