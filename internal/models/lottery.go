package models

import "time"

// LotteryDraw represents one random selection round and its winners.
type LotteryDraw struct {
	ID        string    `json:"id"` // ULID
	Winners   []string  `json:"winners"`
	PoolSize  int       `json:"pool_size"`
	CreatedAt time.Time `json:"created_at"`
}
