package models

import "time"

// GuardPurchase represents a guard subscription seen in the live room and
// the queue reward it granted.
type GuardPurchase struct {
	ID         string    `json:"id"` // ULID
	RoomID     int64     `json:"room_id,omitempty"`
	Username   string    `json:"username"`
	GuardLevel int       `json:"guard_level"`
	Months     int       `json:"months"`
	Reward     int       `json:"reward"`
	CreatedAt  time.Time `json:"created_at"`
}
