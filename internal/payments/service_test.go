package payments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/notify"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type fakeProvider struct {
	mu        sync.Mutex
	createErr error
	created   []IntentParams
	statuses  map[string]string
	n         int
}

func (f *fakeProvider) CreatePaymentIntent(_ context.Context, p IntentParams) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.n++
	f.created = append(f.created, p)
	id := fmt.Sprintf("pi_%d", f.n)
	return &Intent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}, nil
}

func (f *fakeProvider) GetPaymentIntent(_ context.Context, id string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[id]
	if status == "" {
		status = intentStatusSucceeded
	}
	return &Intent{ID: id, Status: status}, nil
}

func (f *fakeProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	if signature != "good" {
		return nil, ErrInvalidSignature
	}
	return &Event{ID: "evt_1", Type: string(payload)}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fixture struct {
	st       *store.Memory
	ledger   ledger.Service
	provider *fakeProvider
	notifier *recordingNotifier
	svc      Service
	account  uuid.UUID
	pro      *models.CreditPackage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.SeedPackages(ctx, models.DefaultPackages()); err != nil {
		t.Fatalf("SeedPackages: %v", err)
	}
	acc := &models.Account{Email: "buyer@example.com", Name: "Buyer", PasswordHash: "x"}
	if err := st.CreateAccount(ctx, acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pkgs, _ := st.ListPackages(ctx)
	var pro *models.CreditPackage
	for _, p := range pkgs {
		if p.Name == "Pro" {
			pro = p
		}
	}
	if pro == nil {
		t.Fatalf("Pro package not seeded")
	}
	led := ledger.NewService(st, nil, nil)
	prov := &fakeProvider{statuses: map[string]string{}}
	rn := &recordingNotifier{}
	return &fixture{
		st:       st,
		ledger:   led,
		provider: prov,
		notifier: rn,
		svc:      NewService(st, led, prov, rn, nil, nil),
		account:  acc.ID,
		pro:      pro,
	}
}

func (f *fixture) balance(t *testing.T) int {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), f.account)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return b
}

func (f *fixture) intent(t *testing.T) (string, uuid.UUID) {
	t.Helper()
	res, err := f.svc.CreateIntent(context.Background(), f.account, f.pro.ID)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	p, _ := f.st.GetPayment(context.Background(), res.PaymentID)
	return *p.ProviderIntentID, p.ID
}

// ---------------------------------------------------------------------------
// 1. Intent creation
// ---------------------------------------------------------------------------

func TestCreateIntent_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateIntent(context.Background(), f.account, f.pro.ID)
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if res.TotalCredits != 160 || res.Credits != 150 || res.BonusCredits != 10 {
		t.Errorf("credits = %d/%d/%d, want 150/10/160", res.Credits, res.BonusCredits, res.TotalCredits)
	}
	if res.Amount != "24.99" || res.ClientSecret == "" {
		t.Errorf("amount=%q secret=%q", res.Amount, res.ClientSecret)
	}

	sent := f.provider.created[0]
	if sent.AmountMinor != 2499 || sent.Currency != "usd" {
		t.Errorf("provider got %d %s, want 2499 usd", sent.AmountMinor, sent.Currency)
	}
	if sent.Metadata["paymentId"] != res.PaymentID.String() || sent.Metadata["bonusCredits"] != "10" {
		t.Errorf("metadata = %v", sent.Metadata)
	}
	if sent.ReceiptEmail != "buyer@example.com" {
		t.Errorf("receipt email = %q", sent.ReceiptEmail)
	}

	p, _ := f.st.GetPayment(context.Background(), res.PaymentID)
	if p.Status != models.PaymentPending || p.ProviderIntentID == nil || *p.ProviderIntentID != "pi_1" {
		t.Errorf("payment = %+v", p)
	}
	if f.balance(t) != 0 {
		t.Errorf("balance changed before confirmation")
	}
}

func TestCreateIntent_ProviderErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.provider.createErr = errors.New("card network down")

	_, err := f.svc.CreateIntent(context.Background(), f.account, f.pro.ID)
	if !errors.Is(err, ErrProviderError) {
		t.Fatalf("err = %v, want ErrProviderError", err)
	}
	page, _ := f.svc.History(context.Background(), f.account, 10, 0)
	if page.Total != 1 || page.Items[0].Status != models.PaymentFailed {
		t.Fatalf("payment history = %+v", page.Items)
	}
}

func TestCreateIntent_UnknownPackage(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.CreateIntent(context.Background(), f.account, uuid.New()); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("err = %v, want ErrPackageNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// 2. Confirmation is idempotent
// ---------------------------------------------------------------------------

func TestConfirm_Twice(t *testing.T) {
	f := newFixture(t)
	intentID, paymentID := f.intent(t)

	res, err := f.svc.Confirm(context.Background(), intentID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.AlreadyProcessed || res.Transaction == nil || res.Transaction.Amount != 160 {
		t.Fatalf("first confirm = %+v", res)
	}
	if res.Transaction.Description != "Purchased Pro package (150 + 10 bonus credits)" {
		t.Errorf("description = %q", res.Transaction.Description)
	}

	res, err = f.svc.Confirm(context.Background(), intentID)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if !res.AlreadyProcessed {
		t.Errorf("second confirm should report already processed")
	}
	if f.balance(t) != 160 {
		t.Errorf("balance = %d, want 160", f.balance(t))
	}

	p, _ := f.st.GetPayment(context.Background(), paymentID)
	if p.Status != models.PaymentCompleted || p.TransactionID == nil || p.CompletedAt == nil {
		t.Errorf("payment = %+v", p)
	}
	acc, _ := f.st.GetAccount(context.Background(), f.account)
	if acc.TotalPurchased != 160 {
		t.Errorf("total purchased = %d, want 160", acc.TotalPurchased)
	}
	if f.notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", f.notifier.count())
	}
}

func TestConfirm_ConcurrentWebhookAndClient(t *testing.T) {
	f := newFixture(t)
	intentID, _ := f.intent(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res *ConfirmResult
			var err error
			if i%2 == 0 {
				err = f.svc.HandleEvent(context.Background(), &Event{Type: EventIntentSucceeded, IntentID: intentID})
			} else {
				res, err = f.svc.ConfirmForAccount(context.Background(), f.account, intentID)
			}
			if err != nil {
				t.Errorf("confirm %d: %v", i, err)
				return
			}
			if res != nil && !res.AlreadyProcessed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if f.balance(t) != 160 {
		t.Fatalf("balance = %d, want 160", f.balance(t))
	}
	purchases, _ := f.ledger.History(context.Background(), f.account, ledger.HistoryFilter{Kind: models.KindPurchase})
	if purchases.Total != 1 {
		t.Errorf("purchase entries = %d, want 1", purchases.Total)
	}
	if fresh > 1 {
		t.Errorf("%d client confirmations credited", fresh)
	}
}

func TestConfirm_UnknownIntent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Confirm(context.Background(), "pi_missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("err = %v, want ErrPaymentNotFound", err)
	}
}

func TestConfirmForAccount_Guards(t *testing.T) {
	f := newFixture(t)
	intentID, _ := f.intent(t)

	if _, err := f.svc.ConfirmForAccount(context.Background(), uuid.New(), intentID); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("other account err = %v, want ErrPaymentNotFound", err)
	}

	f.provider.statuses[intentID] = "processing"
	if _, err := f.svc.ConfirmForAccount(context.Background(), f.account, intentID); !errors.Is(err, ErrPaymentNotSettled) {
		t.Errorf("unsettled err = %v, want ErrPaymentNotSettled", err)
	}
	if f.balance(t) != 0 {
		t.Errorf("balance credited for unsettled payment")
	}
}

// ---------------------------------------------------------------------------
// 3. Provider events
// ---------------------------------------------------------------------------

func TestHandleEvent_SuccessAfterFailureIsFlagged(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	f.svc = NewService(f.st, f.ledger, f.provider, f.notifier, nil, slog.New(slog.NewJSONHandler(&logs, nil)))
	intentID, paymentID := f.intent(t)
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, &Event{Type: EventIntentFailed, IntentID: intentID}); err != nil {
		t.Fatalf("failure event: %v", err)
	}
	p, _ := f.st.GetPayment(ctx, paymentID)
	if p.Status != models.PaymentFailed {
		t.Fatalf("status = %s, want FAILED", p.Status)
	}

	// Redelivery of the failure is a no-op.
	if err := f.svc.HandleEvent(ctx, &Event{Type: EventIntentFailed, IntentID: intentID}); err != nil {
		t.Fatalf("duplicate failure event: %v", err)
	}

	// A success for a failed payment is acknowledged but never credits.
	if err := f.svc.HandleEvent(ctx, &Event{Type: EventIntentSucceeded, IntentID: intentID}); err != nil {
		t.Fatalf("late success event: %v", err)
	}
	if f.balance(t) != 0 {
		t.Errorf("balance = %d, want 0", f.balance(t))
	}
	if _, err := f.svc.Confirm(ctx, intentID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirm failed payment err = %v, want ErrInvalidTransition", err)
	}
	// The captured money must surface as an actionable error, not a silent skip.
	out := logs.String()
	if !strings.Contains(out, "manual credit required") || !strings.Contains(out, intentID) {
		t.Errorf("stranded payment not flagged; logs:\n%s", out)
	}
}

func TestHandleEvent_RefundAfterSpendGoesNegative(t *testing.T) {
	f := newFixture(t)
	intentID, paymentID := f.intent(t)
	ctx := context.Background()

	if err := f.svc.HandleEvent(ctx, &Event{Type: EventIntentSucceeded, IntentID: intentID}); err != nil {
		t.Fatalf("success event: %v", err)
	}
	if _, err := f.ledger.Debit(ctx, f.account, 100, "Video generation", nil); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	if err := f.svc.HandleEvent(ctx, &Event{Type: EventChargeRefunded, IntentID: intentID}); err != nil {
		t.Fatalf("refund event: %v", err)
	}
	if f.balance(t) != -100 {
		t.Errorf("balance = %d, want -100", f.balance(t))
	}
	p, _ := f.st.GetPayment(ctx, paymentID)
	if p.Status != models.PaymentRefunded {
		t.Errorf("status = %s, want REFUNDED", p.Status)
	}

	// Redelivered refund does not debit twice.
	if err := f.svc.HandleEvent(ctx, &Event{Type: EventChargeRefunded, IntentID: intentID}); err != nil {
		t.Fatalf("duplicate refund event: %v", err)
	}
	if f.balance(t) != -100 {
		t.Errorf("balance after duplicate = %d, want -100", f.balance(t))
	}

	debits, _ := f.ledger.History(ctx, f.account, ledger.HistoryFilter{Kind: models.KindDebit})
	if debits.Total != 2 {
		t.Errorf("debit entries = %d, want 2", debits.Total)
	}
	if debits.Items[0].Description != fmt.Sprintf("Refund for payment #%s", paymentID) {
		t.Errorf("description = %q", debits.Items[0].Description)
	}
}

func TestHandleEvent_RefundOfPendingIsSkipped(t *testing.T) {
	f := newFixture(t)
	intentID, paymentID := f.intent(t)

	if err := f.svc.HandleEvent(context.Background(), &Event{Type: EventChargeRefunded, IntentID: intentID}); err != nil {
		t.Fatalf("refund event: %v", err)
	}
	p, _ := f.st.GetPayment(context.Background(), paymentID)
	if p.Status != models.PaymentPending {
		t.Errorf("status = %s, want PENDING", p.Status)
	}
}

func TestHandleEvent_UnknownAndUnhandled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.HandleEvent(ctx, &Event{Type: EventIntentSucceeded, IntentID: "pi_elsewhere"}); err != nil {
		t.Errorf("unknown intent: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, &Event{Type: "customer.created"}); err != nil {
		t.Errorf("unhandled type: %v", err)
	}
}

func TestVerifyAndParseEvent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.VerifyAndParseEvent([]byte(EventIntentSucceeded), ""); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("empty signature err = %v", err)
	}
	if _, err := f.svc.VerifyAndParseEvent([]byte(EventIntentSucceeded), "forged"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("bad signature err = %v", err)
	}
	ev, err := f.svc.VerifyAndParseEvent([]byte(EventIntentSucceeded), "good")
	if err != nil || ev.Type != EventIntentSucceeded {
		t.Errorf("good signature: ev=%+v err=%v", ev, err)
	}

	noProvider := NewService(f.st, f.ledger, nil, nil, nil, nil)
	if _, err := noProvider.VerifyAndParseEvent([]byte("x"), "good"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no provider err = %v, want ErrNotConfigured", err)
	}
}

// ---------------------------------------------------------------------------
// 4. History
// ---------------------------------------------------------------------------

func TestGetPayment_Ownership(t *testing.T) {
	f := newFixture(t)
	_, paymentID := f.intent(t)

	if _, err := f.svc.GetPayment(context.Background(), f.account, paymentID); err != nil {
		t.Errorf("owner GetPayment: %v", err)
	}
	if _, err := f.svc.GetPayment(context.Background(), uuid.New(), paymentID); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("stranger err = %v, want ErrPaymentNotFound", err)
	}
}
