package models

import "time"

// Deduction represents a single charge against a viewer's queue count.
type Deduction struct {
	ID        string    `json:"id"` // ULID
	Username  string    `json:"username"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
