// Package store persists accounts, ledger entries, payments and generation
// jobs. Every mutation of an account's credits happens inside a unit opened
// with Store.WithinAccount; units for the same account are serialised.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/models"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrPackageNotFound   = errors.New("credit package not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrJobNotFound       = errors.New("generation job not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateIntent   = errors.New("provider intent already linked to a payment")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence boundary shared by the ledger, the payment
// reconciler and the generation orchestrator.
type Store interface {
	// WithinAccount runs fn as one atomic unit bound to accountID. The
	// account row is locked for the whole unit. A non-nil error from fn rolls
	// back every write made through tx.
	WithinAccount(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)

	// ListTransactions returns entries newest first plus the total count
	// matching the filter. An empty kind matches every kind.
	ListTransactions(ctx context.Context, accountID uuid.UUID, kind models.TransactionKind, limit, offset int) ([]*models.Transaction, int, error)

	SeedPackages(ctx context.Context, pkgs []*models.CreditPackage) error
	ListPackages(ctx context.Context) ([]*models.CreditPackage, error)
	GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error)
	ListPayments(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Payment, int, error)

	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	ListJobs(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.GenerationJob, int, error)
	SetJobStage(ctx context.Context, id uuid.UUID, stage string) error
}

// Tx is the set of writes allowed inside an account unit.
type Tx interface {
	// AccountID is the account the unit is bound to.
	AccountID() uuid.UUID

	// Account returns the locked account row as seen by this unit.
	Account(ctx context.Context) (*models.Account, error)

	// AppendTransaction applies t.Signed() to the balance, adds purchased
	// credits to TotalPurchased for PURCHASE entries, and inserts t. It fills
	// ID, Seq, BalanceAfter, Status and CreatedAt.
	AppendTransaction(ctx context.Context, t *models.Transaction) error

	PaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error

	CreateJob(ctx context.Context, j *models.GenerationJob) error
	JobForUpdate(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	UpdateJob(ctx context.Context, j *models.GenerationJob) error

	// AfterCommit registers fn to run once the unit has committed.
	AfterCommit(fn func())
}
