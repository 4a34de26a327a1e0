package models

import "time"

// Balance is the read view of a user's wallet.
type Balance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
