package model

import "time"

// Payment statuses. completed and refunded are terminal except that a
// completed payment may still be refunded.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// Payment is created when a milestone enters payment_requested. It is the
// only record carrying the escrow hold id (payment_intent_id).
type Payment struct {
	ID              int        `json:"id"`
	ContractID      int        `json:"contract_id"`
	MilestoneID     int        `json:"milestone_id"`
	ClientID        int        `json:"client_id"`
	FreelancerID    int        `json:"freelancer_id"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

var paymentEdges = map[string][]string{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
	PaymentStatusFailed:     {},
	PaymentStatusRefunded:   {},
}

// PaymentEdgeAllowed reports whether from→to is a defined edge.
func PaymentEdgeAllowed(from, to string) bool {
	for _, next := range paymentEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatusTerminal reports whether the payment can change no further.
// completed is not terminal: a refund is still legal.
func PaymentStatusTerminal(status string) bool {
	return status == PaymentStatusRefunded || status == PaymentStatusFailed
}
