package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSignupGrant is the credit balance every new account starts with.
const DefaultSignupGrant = 10

type Account struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	PasswordHash   string    `json:"-"`
	Balance        int       `json:"balance"`
	TotalPurchased int       `json:"total_purchased"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
