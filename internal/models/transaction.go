package models

import "time"

type TransactionType string

const (
	TxnDebit  TransactionType = "DEBIT"
	TxnCredit TransactionType = "CREDIT"
)

func (t TransactionType) Valid() bool { return t == TxnDebit || t == TxnCredit }

type TransactionStatus string

const (
	TxnPending TransactionStatus = "PENDING"
	TxnSuccess TransactionStatus = "SUCCESS"
	TxnFailed  TransactionStatus = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool { return s == TxnSuccess || s == TxnFailed }

type Transaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      TransactionType   `json:"type"`
	Amount    int64             `json:"amount"`
	Status    TransactionStatus `json:"status"`
	Remarks   *string           `json:"remarks,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SettlementResult is what a settlement attempt observed or produced.
// Applied is set only by the call that performed the transition.
type SettlementResult struct {
	TransactionID string            `json:"transaction_id"`
	UserID        string            `json:"user_id"`
	Status        TransactionStatus `json:"status"`
	Balance       int64             `json:"balance"`
	Applied       bool              `json:"applied"`
}
