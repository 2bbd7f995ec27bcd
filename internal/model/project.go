package model

import "time"

// Project statuses
const (
	ProjectStatusOpen       = "open"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusCancelled  = "cancelled"
)

type Project struct {
	ID          int        `json:"id"`
	OwnerID     int        `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Budget      float64    `json:"budget"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Skills      []string   `json:"skills"`
	Category    string     `json:"category"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
