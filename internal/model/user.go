package model

import "time"

type User struct {
	ID            int       `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"` // client / freelancer / admin
	PayoutAccount string    `json:"payout_account,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Principal is the authenticated caller, resolved once per request by the
// auth middleware and passed explicitly into every lifecycle operation.
type Principal struct {
	UserID int
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == "admin"
}
