package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/models"
)

// Memory is an in-process Store. Units hold a per-account mutex and stage
// their writes; staged writes become visible to readers only on commit.
type Memory struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*models.Account
	byEmail  map[string]uuid.UUID
	entries  map[uuid.UUID][]*models.Transaction
	packages []*models.CreditPackage
	payments map[uuid.UUID]*models.Payment
	byIntent map[string]uuid.UUID
	jobs     map[uuid.UUID]*models.GenerationJob

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[uuid.UUID]*models.Account),
		byEmail:  make(map[string]uuid.UUID),
		entries:  make(map[uuid.UUID][]*models.Transaction),
		payments: make(map[uuid.UUID]*models.Payment),
		byIntent: make(map[string]uuid.UUID),
		jobs:     make(map[uuid.UUID]*models.GenerationJob),
		locks:    make(map[uuid.UUID]*sync.Mutex),
		now:      time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) accountLock(id uuid.UUID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Memory) WithinAccount(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	acc, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return ErrAccountNotFound
	}
	cp := *acc
	tx := &memTx{
		m:        m,
		account:  &cp,
		payments: make(map[uuid.UUID]*models.Payment),
		jobs:     make(map[uuid.UUID]*models.GenerationJob),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	for _, f := range tx.after {
		f()
	}
	return nil
}

func (m *Memory) CreateAccount(_ context.Context, acc *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(acc.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrDuplicateEmail
	}
	if acc.ID == uuid.Nil {
		acc.ID = uuid.New()
	}
	now := m.now()
	acc.CreatedAt, acc.UpdatedAt = now, now
	acc.Balance, acc.TotalPurchased = 0, 0
	cp := *acc
	m.accounts[acc.ID] = &cp
	m.byEmail[email] = acc.ID
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *Memory) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	m.mu.RLock()
	id, ok := m.byEmail[strings.ToLower(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return m.GetAccount(ctx, id)
}

func (m *Memory) ListTransactions(_ context.Context, accountID uuid.UUID, kind models.TransactionKind, limit, offset int) ([]*models.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.entries[accountID]
	matched := make([]*models.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if kind != "" && all[i].Kind != kind {
			continue
		}
		cp := *all[i]
		matched = append(matched, &cp)
	}
	return page(matched, limit, offset), len(matched), nil
}

func (m *Memory) SeedPackages(_ context.Context, pkgs []*models.CreditPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.packages) > 0 {
		return nil
	}
	for _, p := range pkgs {
		cp := *p
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		cp.CreatedAt = m.now()
		m.packages = append(m.packages, &cp)
	}
	return nil
}

func (m *Memory) ListPackages(_ context.Context) ([]*models.CreditPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.CreditPackage, 0, len(m.packages))
	for _, p := range m.packages {
		if !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (m *Memory) GetPackage(_ context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.packages {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPackageNotFound
}

func (m *Memory) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[p.AccountID]; !ok {
		return ErrAccountNotFound
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = m.now()
	if p.ProviderIntentID != nil {
		if _, dup := m.byIntent[*p.ProviderIntentID]; dup {
			return ErrDuplicateIntent
		}
		m.byIntent[*p.ProviderIntentID] = p.ID
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error) {
	m.mu.RLock()
	id, ok := m.byIntent[intentID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return m.GetPayment(ctx, id)
}

func (m *Memory) ListPayments(_ context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Payment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Payment
	for _, p := range m.payments {
		if p.AccountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ListJobs(_ context.Context, accountID uuid.UUID, limit, offset int) ([]*models.GenerationJob, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.GenerationJob
	for _, j := range m.jobs {
		if j.AccountID == accountID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

func (m *Memory) SetJobStage(_ context.Context, id uuid.UUID, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	cp := *j
	cp.Stage = stage
	m.jobs[id] = &cp
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

type memTx struct {
	m        *Memory
	account  *models.Account
	appended []*models.Transaction
	payments map[uuid.UUID]*models.Payment
	jobs     map[uuid.UUID]*models.GenerationJob
	after    []func()
}

func (t *memTx) AccountID() uuid.UUID { return t.account.ID }

func (t *memTx) Account(_ context.Context) (*models.Account, error) {
	cp := *t.account
	return &cp, nil
}

func (t *memTx) AppendTransaction(_ context.Context, e *models.Transaction) error {
	t.m.mu.RLock()
	seq := int64(len(t.m.entries[t.account.ID]))
	t.m.mu.RUnlock()
	seq += int64(len(t.appended)) + 1

	t.account.Balance += e.Signed()
	if e.Kind == models.KindPurchase {
		t.account.TotalPurchased += e.Amount
	}
	now := t.m.now()
	t.account.UpdatedAt = now

	e.ID = uuid.New()
	e.AccountID = t.account.ID
	e.Seq = seq
	e.BalanceAfter = t.account.Balance
	e.Status = models.TxCompleted
	e.CreatedAt = now
	cp := *e
	t.appended = append(t.appended, &cp)
	return nil
}

func (t *memTx) PaymentForUpdate(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	if p, ok := t.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	t.m.mu.RLock()
	p, ok := t.m.payments[id]
	t.m.mu.RUnlock()
	if !ok || p.AccountID != t.account.ID {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	if _, err := t.PaymentForUpdate(ctx, p.ID); err != nil {
		return err
	}
	cp := *p
	t.payments[p.ID] = &cp
	return nil
}

func (t *memTx) CreateJob(_ context.Context, j *models.GenerationJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.AccountID = t.account.ID
	j.CreatedAt = t.m.now()
	cp := *j
	t.jobs[j.ID] = &cp
	return nil
}

func (t *memTx) JobForUpdate(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	if j, ok := t.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	t.m.mu.RLock()
	j, ok := t.m.jobs[id]
	t.m.mu.RUnlock()
	if !ok || j.AccountID != t.account.ID {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (t *memTx) UpdateJob(ctx context.Context, j *models.GenerationJob) error {
	if _, err := t.JobForUpdate(ctx, j.ID); err != nil {
		return err
	}
	cp := *j
	t.jobs[j.ID] = &cp
	return nil
}

func (t *memTx) AfterCommit(fn func()) {
	t.after = append(t.after, fn)
}

func (t *memTx) commit() {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[t.account.ID] = t.account
	m.entries[t.account.ID] = append(m.entries[t.account.ID], t.appended...)
	for id, p := range t.payments {
		m.payments[id] = p
		if p.ProviderIntentID != nil {
			m.byIntent[*p.ProviderIntentID] = id
		}
	}
	for id, j := range t.jobs {
		m.jobs[id] = j
	}
}
