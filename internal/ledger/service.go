package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/metrics"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var (
	ErrAccountNotFound     = store.ErrAccountNotFound
	ErrJobNotFound         = store.ErrJobNotFound
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyRefunded     = errors.New("job already refunded")
	ErrNotRefundable       = errors.New("job completed and cannot be refunded")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidKind         = errors.New("invalid transaction kind for credit")
)

// InsufficientCreditsError reports how far short the balance was.
// errors.Is(err, ErrInsufficientCredits) holds for it.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool { return target == ErrInsufficientCredits }

// Shortfall is the number of credits missing.
func (e *InsufficientCreditsError) Shortfall() int { return e.Required - e.Available }

type HistoryFilter struct {
	Kind   models.TransactionKind
	Limit  int
	Offset int
}

type HistoryPage struct {
	Items   []*models.Transaction `json:"items"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
	HasMore bool                  `json:"has_more"`
}

// Service is the only writer of account balances. The *Tx variants run
// inside a unit the caller already opened so a ledger entry commits together
// with the caller's own row changes.
type Service interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount int, description string, jobID *uuid.UUID) (*models.Transaction, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int, kind models.TransactionKind, description string, paymentID *uuid.UUID) (*models.Transaction, error)
	RefundJob(ctx context.Context, accountID, jobID uuid.UUID) (*models.Transaction, error)
	History(ctx context.Context, accountID uuid.UUID, f HistoryFilter) (*HistoryPage, error)

	DebitTx(ctx context.Context, tx store.Tx, amount int, description string, jobID *uuid.UUID) (*models.Transaction, error)
	CreditTx(ctx context.Context, tx store.Tx, amount int, kind models.TransactionKind, description string, paymentID *uuid.UUID) (*models.Transaction, error)
	ForceDebitTx(ctx context.Context, tx store.Tx, amount int, description string, paymentID *uuid.UUID) (*models.Transaction, error)
}

type service struct {
	store   store.Store
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewService(st store.Store, m *metrics.Metrics, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: st, metrics: m, log: log, now: time.Now}
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func (s *service) Debit(ctx context.Context, accountID uuid.UUID, amount int, description string, jobID *uuid.UUID) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.DebitTx(ctx, tx, amount, description, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) DebitTx(ctx context.Context, tx store.Tx, amount int, description string, jobID *uuid.UUID) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acc, err := tx.Account(ctx)
	if err != nil {
		return nil, err
	}
	if acc.Balance < amount {
		s.metrics.InsufficientCredits()
		return nil, &InsufficientCreditsError{Required: amount, Available: acc.Balance}
	}
	return s.append(ctx, tx, &models.Transaction{
		Kind:        models.KindDebit,
		Amount:      amount,
		Description: description,
		JobID:       jobID,
	})
}

func (s *service) Credit(ctx context.Context, accountID uuid.UUID, amount int, kind models.TransactionKind, description string, paymentID *uuid.UUID) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.CreditTx(ctx, tx, amount, kind, description, paymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) CreditTx(ctx context.Context, tx store.Tx, amount int, kind models.TransactionKind, description string, paymentID *uuid.UUID) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if kind == models.KindDebit || !kind.Valid() {
		return nil, ErrInvalidKind
	}
	return s.append(ctx, tx, &models.Transaction{
		Kind:        kind,
		Amount:      amount,
		Description: description,
		PaymentID:   paymentID,
	})
}

// ForceDebitTx debits without a balance check. It reverses credits the
// payment provider has taken back and may leave the balance negative.
func (s *service) ForceDebitTx(ctx context.Context, tx store.Tx, amount int, description string, paymentID *uuid.UUID) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	t, err := s.append(ctx, tx, &models.Transaction{
		Kind:        models.KindDebit,
		Amount:      amount,
		Description: description,
		PaymentID:   paymentID,
	})
	if err != nil {
		return nil, err
	}
	if t.BalanceAfter < 0 {
		s.log.Warn("balance negative after refund reversal", "account_id", tx.AccountID(), "balance", t.BalanceAfter)
	}
	return t, nil
}

func (s *service) RefundJob(ctx context.Context, accountID, jobID uuid.UUID) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		job, err := tx.JobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		switch job.Status {
		case models.JobRefunded:
			return ErrAlreadyRefunded
		case models.JobCompleted:
			return ErrNotRefundable
		}
		out, err = s.append(ctx, tx, &models.Transaction{
			Kind:        models.KindRefund,
			Amount:      job.CreditsCharged,
			Description: fmt.Sprintf("Refund for failed video generation #%s", job.ID),
			JobID:       &job.ID,
		})
		if err != nil {
			return err
		}
		now := s.now()
		job.Status = models.JobRefunded
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, f HistoryFilter) (*HistoryPage, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	items, total, err := s.store.ListTransactions(ctx, accountID, f.Kind, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{
		Items:   items,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+f.Limit < total,
	}, nil
}

func (s *service) append(ctx context.Context, tx store.Tx, t *models.Transaction) (*models.Transaction, error) {
	if err := tx.AppendTransaction(ctx, t); err != nil {
		return nil, err
	}
	kind, amount := string(t.Kind), t.Amount
	tx.AfterCommit(func() { s.metrics.LedgerEntry(kind, amount) })
	return t, nil
}
