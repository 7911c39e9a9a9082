package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/metrics"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/notify"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

const currencyUSD = "usd"

var (
	ErrPackageNotFound     = store.ErrPackageNotFound
	ErrPaymentNotFound     = store.ErrPaymentNotFound
	ErrInvalidTransition   = store.ErrInvalidTransition
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrProviderError       = errors.New("payment provider error")
	ErrNotConfigured       = errors.New("payment provider not configured")
	ErrPaymentNotSettled   = errors.New("payment has not succeeded at the provider")
	ErrEventAlreadyHandled = errors.New("event already processed")
)

type IntentResult struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	ClientSecret string    `json:"client_secret"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Credits      int       `json:"credits"`
	BonusCredits int       `json:"bonus_credits"`
	TotalCredits int       `json:"total_credits"`
}

type ConfirmResult struct {
	AlreadyProcessed bool                `json:"already_processed"`
	Payment          *models.Payment     `json:"payment"`
	Transaction      *models.Transaction `json:"transaction,omitempty"`
	TotalCredits     int                 `json:"total_credits"`
}

type PaymentPage struct {
	Items   []*models.Payment `json:"items"`
	Total   int               `json:"total"`
	HasMore bool              `json:"has_more"`
}

type Service interface {
	Packages(ctx context.Context) ([]*models.CreditPackage, error)
	CreateIntent(ctx context.Context, accountID, packageID uuid.UUID) (*IntentResult, error)
	// Confirm credits the purchase behind intentID. Repeated calls are no-ops
	// reported with AlreadyProcessed.
	Confirm(ctx context.Context, intentID string) (*ConfirmResult, error)
	// ConfirmForAccount is the client-initiated confirmation: the payment must
	// belong to accountID and the provider must report the intent succeeded.
	ConfirmForAccount(ctx context.Context, accountID uuid.UUID, intentID string) (*ConfirmResult, error)
	HandleEvent(ctx context.Context, ev *Event) error
	VerifyAndParseEvent(payload []byte, signature string) (*Event, error)
	History(ctx context.Context, accountID uuid.UUID, limit, offset int) (*PaymentPage, error)
	GetPayment(ctx context.Context, accountID, paymentID uuid.UUID) (*models.Payment, error)
}

type service struct {
	store    store.Store
	ledger   ledger.Service
	provider Provider
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires the reconciler. provider may be nil when no payment
// processor is configured; intent creation and webhooks then fail with
// ErrNotConfigured.
func NewService(st store.Store, led ledger.Service, provider Provider, notifier notify.Notifier, m *metrics.Metrics, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLog(log)
	}
	return &service{
		store:    st,
		ledger:   led,
		provider: provider,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

var _ Service = (*service)(nil)

func (s *service) Packages(ctx context.Context) ([]*models.CreditPackage, error) {
	return s.store.ListPackages(ctx)
}

func (s *service) CreateIntent(ctx context.Context, accountID, packageID uuid.UUID) (*IntentResult, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return nil, ErrPackageNotFound
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		AccountID:    accountID,
		PackageID:    pkg.ID,
		Amount:       pkg.Price,
		Currency:     currencyUSD,
		Credits:      pkg.Credits,
		BonusCredits: pkg.BonusCredits,
		Status:       models.PaymentPending,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, IntentParams{
		AmountMinor:  pkg.PriceMinor(),
		Currency:     currencyUSD,
		Description:  fmt.Sprintf("%s Package - %d credits", pkg.Name, pkg.Credits),
		ReceiptEmail: acc.Email,
		Metadata: map[string]string{
			"userId":       accountID.String(),
			"packageId":    pkg.ID.String(),
			"paymentId":    payment.ID.String(),
			"credits":      strconv.Itoa(pkg.Credits),
			"bonusCredits": strconv.Itoa(pkg.BonusCredits),
		},
	})
	if err != nil {
		if markErr := s.transition(ctx, payment.AccountID, payment.ID, models.PaymentFailed, nil); markErr != nil {
			s.log.Error("mark payment failed", "payment_id", payment.ID, "error", markErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}

	err = s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.PaymentForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		p.ProviderIntentID = &intent.ID
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("link intent: %w", err)
	}

	return &IntentResult{
		PaymentID:    payment.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       pkg.Price.StringFixed(2),
		Currency:     currencyUSD,
		Credits:      pkg.Credits,
		BonusCredits: pkg.BonusCredits,
		TotalCredits: pkg.TotalCredits(),
	}, nil
}

func (s *service) ConfirmForAccount(ctx context.Context, accountID uuid.UUID, intentID string) (*ConfirmResult, error) {
	payment, err := s.store.GetPaymentByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if payment.AccountID != accountID {
		return nil, ErrPaymentNotFound
	}
	if payment.Status == models.PaymentCompleted {
		return &ConfirmResult{AlreadyProcessed: true, Payment: payment, TotalCredits: payment.TotalCredits()}, nil
	}
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	intent, err := s.provider.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	if intent.Status != intentStatusSucceeded {
		return nil, ErrPaymentNotSettled
	}
	return s.Confirm(ctx, intentID)
}

func (s *service) Confirm(ctx context.Context, intentID string) (*ConfirmResult, error) {
	payment, err := s.store.GetPaymentByIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	pkgName := s.packageName(ctx, payment.PackageID)

	result := &ConfirmResult{TotalCredits: payment.TotalCredits()}
	err = s.store.WithinAccount(ctx, payment.AccountID, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.PaymentForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentCompleted {
			result.AlreadyProcessed = true
			result.Payment = p
			return nil
		}
		if !p.Status.CanTransition(models.PaymentCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, models.PaymentCompleted)
		}
		desc := fmt.Sprintf("Purchased %s package (%d + %d bonus credits)", pkgName, p.Credits, p.BonusCredits)
		entry, err := s.ledger.CreditTx(ctx, tx, p.TotalCredits(), models.KindPurchase, desc, &p.ID)
		if err != nil {
			return err
		}
		now := s.now()
		p.Status = models.PaymentCompleted
		p.TransactionID = &entry.ID
		p.CompletedAt = &now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		result.Payment = p
		result.Transaction = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.AlreadyProcessed {
		s.log.Info("payment confirmed", "payment_id", payment.ID, "account_id", payment.AccountID, "credits", result.TotalCredits)
		s.notifyAccount(ctx, payment.AccountID, func(acc *models.Account) notify.Message {
			return notify.PurchaseCompleted(acc.Email, acc.Name, pkgName, result.TotalCredits, result.Transaction.BalanceAfter)
		})
	}
	return result, nil
}

func (s *service) VerifyAndParseEvent(payload []byte, signature string) (*Event, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	if signature == "" {
		return nil, ErrInvalidSignature
	}
	return s.provider.ParseEvent(payload, signature)
}

// HandleEvent applies a verified provider event. Events that need no ledger
// change (duplicates, unknown payments, unhandled types) return nil.
func (s *service) HandleEvent(ctx context.Context, ev *Event) error {
	var err error
	outcome := "applied"
	switch ev.Type {
	case EventIntentSucceeded:
		var res *ConfirmResult
		res, err = s.Confirm(ctx, ev.IntentID)
		if err == nil && res.AlreadyProcessed {
			outcome = "duplicate"
		}
	case EventIntentFailed:
		err = s.handleFailure(ctx, ev.IntentID)
	case EventChargeRefunded:
		err = s.handleRefund(ctx, ev.IntentID)
	default:
		outcome = "ignored"
		s.log.Info("unhandled payment event", "type", ev.Type, "event_id", ev.ID)
	}

	switch {
	case errors.Is(err, ErrPaymentNotFound):
		s.log.Warn("payment event for unknown intent", "type", ev.Type, "intent_id", ev.IntentID)
		outcome, err = "ignored", nil
	case errors.Is(err, ErrEventAlreadyHandled):
		outcome, err = "duplicate", nil
	case errors.Is(err, ErrInvalidTransition) && ev.Type == EventIntentSucceeded:
		// Stripe lets a customer retry an intent after a failed attempt, so
		// the money arrived for a payment already marked FAILED.
		s.log.Error("payment captured after failure; manual credit required",
			"type", ev.Type, "intent_id", ev.IntentID, "event_id", ev.ID, "error", err)
		outcome, err = "stranded", nil
	case errors.Is(err, ErrInvalidTransition):
		// Redelivery cannot fix a payment in the wrong state.
		s.log.Error("payment event rejected", "type", ev.Type, "intent_id", ev.IntentID, "error", err)
		outcome, err = "rejected", nil
	case err != nil:
		outcome = "error"
	}
	s.metrics.PaymentEvent(ev.Type, outcome)
	return err
}

func (s *service) handleFailure(ctx context.Context, intentID string) error {
	payment, err := s.store.GetPaymentByIntent(ctx, intentID)
	if err != nil {
		return err
	}
	err = s.transition(ctx, payment.AccountID, payment.ID, models.PaymentFailed, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.log.Info("payment failure event skipped", "payment_id", payment.ID, "status", payment.Status)
			return ErrEventAlreadyHandled
		}
		return err
	}
	s.log.Info("payment failed", "payment_id", payment.ID, "intent_id", intentID)
	pkgName := s.packageName(ctx, payment.PackageID)
	s.notifyAccount(ctx, payment.AccountID, func(acc *models.Account) notify.Message {
		return notify.PaymentFailed(acc.Email, acc.Name, pkgName)
	})
	return nil
}

// handleRefund reverses a completed purchase. The debit is applied even if it
// drives the balance negative.
func (s *service) handleRefund(ctx context.Context, intentID string) error {
	payment, err := s.store.GetPaymentByIntent(ctx, intentID)
	if err != nil {
		return err
	}
	var entry *models.Transaction
	err = s.transition(ctx, payment.AccountID, payment.ID, models.PaymentRefunded, func(ctx context.Context, tx store.Tx, p *models.Payment) error {
		var err error
		entry, err = s.ledger.ForceDebitTx(ctx, tx, p.TotalCredits(), fmt.Sprintf("Refund for payment #%s", p.ID), &p.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.log.Info("refund event skipped, payment not completed", "payment_id", payment.ID)
			return ErrEventAlreadyHandled
		}
		return err
	}
	s.log.Info("payment refunded", "payment_id", payment.ID, "credits", payment.TotalCredits(), "balance", entry.BalanceAfter)
	pkgName := s.packageName(ctx, payment.PackageID)
	s.notifyAccount(ctx, payment.AccountID, func(acc *models.Account) notify.Message {
		return notify.PurchaseRefunded(acc.Email, acc.Name, pkgName, payment.TotalCredits(), entry.BalanceAfter)
	})
	return nil
}

// transition moves a payment to next inside the account unit, running also
// in the same unit when set.
func (s *service) transition(ctx context.Context, accountID, paymentID uuid.UUID, next models.PaymentStatus,
	also func(ctx context.Context, tx store.Tx, p *models.Payment) error) error {
	return s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.PaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if !p.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
		}
		if also != nil {
			if err := also(ctx, tx, p); err != nil {
				return err
			}
		}
		p.Status = next
		return tx.UpdatePayment(ctx, p)
	})
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, limit, offset int) (*PaymentPage, error) {
	if limit <= 0 {
		limit = ledger.DefaultHistoryLimit
	}
	if limit > ledger.MaxHistoryLimit {
		limit = ledger.MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := s.store.ListPayments(ctx, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &PaymentPage{Items: items, Total: total, HasMore: offset+limit < total}, nil
}

func (s *service) GetPayment(ctx context.Context, accountID, paymentID uuid.UUID) (*models.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.AccountID != accountID {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

func (s *service) packageName(ctx context.Context, id uuid.UUID) string {
	pkg, err := s.store.GetPackage(ctx, id)
	if err != nil {
		return "credit"
	}
	return pkg.Name
}

func (s *service) notifyAccount(ctx context.Context, accountID uuid.UUID, build func(*models.Account) notify.Message) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		s.log.Warn("notification skipped", "account_id", accountID, "error", err)
		return
	}
	if err := s.notifier.Notify(ctx, build(acc)); err != nil {
		s.log.Warn("notification failed", "account_id", accountID, "error", err)
	}
}
