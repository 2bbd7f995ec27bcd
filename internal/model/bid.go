package model

import "time"

// Bid statuses
const (
	BidStatusPending     = "pending"
	BidStatusShortlisted = "shortlisted"
	BidStatusAccepted    = "accepted"
	BidStatusRejected    = "rejected"
)

// Bid is a freelancer's proposal on a project. A freelancer may have at most
// one bid per project; accepting a bid is the precondition for a contract.
type Bid struct {
	ID               int       `json:"id"`
	ProjectID        int       `json:"project_id"`
	FreelancerID     int       `json:"freelancer_id"`
	Amount           float64   `json:"amount"`
	DeliveryTimeDays int       `json:"delivery_time_days"`
	CoverLetter      string    `json:"cover_letter"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BidStatusDecided reports whether the bid has reached a final decision.
func BidStatusDecided(status string) bool {
	return status == BidStatusAccepted || status == BidStatusRejected
}
