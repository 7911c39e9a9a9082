package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionKind string

const (
	KindPurchase TransactionKind = "PURCHASE"
	KindDebit    TransactionKind = "DEBIT"
	KindRefund   TransactionKind = "REFUND"
	KindBonus    TransactionKind = "BONUS"
)

// Valid reports whether k is one of the known transaction kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindPurchase, KindDebit, KindRefund, KindBonus:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
)

// Transaction is one immutable ledger entry. Amount is always positive; the
// sign is implied by Kind.
type Transaction struct {
	ID           uuid.UUID         `json:"id"`
	AccountID    uuid.UUID         `json:"account_id"`
	Kind         TransactionKind   `json:"kind"`
	Amount       int               `json:"amount"`
	BalanceAfter int               `json:"balance_after"`
	Description  string            `json:"description"`
	PaymentID    *uuid.UUID        `json:"payment_id,omitempty"`
	JobID        *uuid.UUID        `json:"job_id,omitempty"`
	Status       TransactionStatus `json:"status"`
	Seq          int64             `json:"seq"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Signed returns the amount with the sign applied to the balance.
func (t *Transaction) Signed() int {
	if t.Kind == KindDebit {
		return -t.Amount
	}
	return t.Amount
}
