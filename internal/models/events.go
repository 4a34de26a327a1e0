package models

import "time"

// TransactionCreated asks for a PENDING transaction to be settled.
type TransactionCreated struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
}

// TransactionCompleted is emitted once a transaction settled with SUCCESS.
type TransactionCompleted struct {
	TransactionID string            `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Amount        int64             `json:"amount"`
	Status        TransactionStatus `json:"status"`
	Balance       int64             `json:"balance"`
	CompletedAt   time.Time         `json:"completed_at"`
}
