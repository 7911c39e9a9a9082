package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// CanTransition reports whether a payment may move from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentCompleted || next == PaymentFailed
	case PaymentCompleted:
		return next == PaymentRefunded
	}
	return false
}

type Payment struct {
	ID               uuid.UUID       `json:"id"`
	AccountID        uuid.UUID       `json:"account_id"`
	PackageID        uuid.UUID       `json:"package_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Credits          int             `json:"credits"`
	BonusCredits     int             `json:"bonus_credits"`
	ProviderIntentID *string         `json:"provider_intent_id,omitempty"`
	Status           PaymentStatus   `json:"status"`
	TransactionID    *uuid.UUID      `json:"transaction_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// TotalCredits is the amount credited when the payment completes.
func (p *Payment) TotalCredits() int {
	return p.Credits + p.BonusCredits
}
