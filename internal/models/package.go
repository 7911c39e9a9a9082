package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreditPackage struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Credits      int             `json:"credits"`
	BonusCredits int             `json:"bonus_credits"`
	Price        decimal.Decimal `json:"price"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TotalCredits is what a completed purchase of the package credits.
func (p *CreditPackage) TotalCredits() int {
	return p.Credits + p.BonusCredits
}

// PriceMinor returns the price in the currency's minor unit (cents).
func (p *CreditPackage) PriceMinor() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

// PricePerCredit is the effective price of one credit including the bonus.
func (p *CreditPackage) PricePerCredit() decimal.Decimal {
	total := p.TotalCredits()
	if total == 0 {
		return decimal.Zero
	}
	return p.Price.Div(decimal.NewFromInt(int64(total))).Round(4)
}

// DefaultPackages is the catalogue seeded into an empty store.
func DefaultPackages() []*CreditPackage {
	return []*CreditPackage{
		{Name: "Starter", Credits: 50, BonusCredits: 0, Price: decimal.RequireFromString("9.99"), Active: true},
		{Name: "Pro", Credits: 150, BonusCredits: 10, Price: decimal.RequireFromString("24.99"), Active: true},
		{Name: "Business", Credits: 500, BonusCredits: 50, Price: decimal.RequireFromString("79.99"), Active: true},
		{Name: "Enterprise", Credits: 2000, BonusCredits: 200, Price: decimal.RequireFromString("299.99"), Active: true},
	}
}
