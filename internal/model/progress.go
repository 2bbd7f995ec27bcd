package model

import "time"

// ProgressUpdate is the milestone audit trail: append-only, never mutated.
// Status is the milestone status at the time the update was written.
type ProgressUpdate struct {
	ID          int       `json:"id"`
	MilestoneID int       `json:"milestone_id"`
	AuthorID    int       `json:"author_id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
