package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/models"
)

func newAccount(t *testing.T, m *Memory, email string) *models.Account {
	t.Helper()
	acc := &models.Account{Email: email, Name: "Test", PasswordHash: "x"}
	if err := m.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acc
}

// ---------------------------------------------------------------------------
// 1. A failing unit leaves no trace
// ---------------------------------------------------------------------------

func TestMemory_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acc := newAccount(t, m, "a@example.com")

	boom := errors.New("boom")
	err := m.WithinAccount(ctx, acc.ID, func(ctx context.Context, tx Tx) error {
		if err := tx.AppendTransaction(ctx, &models.Transaction{Kind: models.KindBonus, Amount: 5}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinAccount err = %v, want boom", err)
	}

	got, _ := m.GetAccount(ctx, acc.ID)
	if got.Balance != 0 {
		t.Errorf("balance after rollback = %d, want 0", got.Balance)
	}
	entries, total, _ := m.ListTransactions(ctx, acc.ID, "", 10, 0)
	if total != 0 || len(entries) != 0 {
		t.Errorf("entries after rollback = %d, want 0", total)
	}
}

// ---------------------------------------------------------------------------
// 2. Seq and balance_after follow commit order
// ---------------------------------------------------------------------------

func TestMemory_AppendAssignsSeqAndBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acc := newAccount(t, m, "b@example.com")

	amounts := []struct {
		kind   models.TransactionKind
		amount int
	}{
		{models.KindBonus, 10},
		{models.KindPurchase, 50},
		{models.KindDebit, 15},
	}
	for _, a := range amounts {
		err := m.WithinAccount(ctx, acc.ID, func(ctx context.Context, tx Tx) error {
			return tx.AppendTransaction(ctx, &models.Transaction{Kind: a.kind, Amount: a.amount})
		})
		if err != nil {
			t.Fatalf("append %s: %v", a.kind, err)
		}
	}

	entries, total, err := m.ListTransactions(ctx, acc.ID, "", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	// newest first
	if entries[0].Seq != 3 || entries[0].BalanceAfter != 45 {
		t.Errorf("newest entry seq=%d balance_after=%d, want 3/45", entries[0].Seq, entries[0].BalanceAfter)
	}
	got, _ := m.GetAccount(ctx, acc.ID)
	if got.Balance != 45 || got.TotalPurchased != 50 {
		t.Errorf("account = %d/%d, want 45/50", got.Balance, got.TotalPurchased)
	}

	purchases, n, _ := m.ListTransactions(ctx, acc.ID, models.KindPurchase, 10, 0)
	if n != 1 || purchases[0].Amount != 50 {
		t.Errorf("kind filter returned %d entries", n)
	}
}

// ---------------------------------------------------------------------------
// 3. AfterCommit runs only on success
// ---------------------------------------------------------------------------

func TestMemory_AfterCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acc := newAccount(t, m, "c@example.com")

	ran := 0
	_ = m.WithinAccount(ctx, acc.ID, func(ctx context.Context, tx Tx) error {
		tx.AfterCommit(func() { ran++ })
		return errors.New("rollback")
	})
	if ran != 0 {
		t.Fatalf("after-commit ran on rollback")
	}
	_ = m.WithinAccount(ctx, acc.ID, func(ctx context.Context, tx Tx) error {
		tx.AfterCommit(func() { ran++ })
		return nil
	})
	if ran != 1 {
		t.Errorf("after-commit ran %d times, want 1", ran)
	}
}

// ---------------------------------------------------------------------------
// 4. Units for one account never interleave
// ---------------------------------------------------------------------------

func TestMemory_UnitsSerialisePerAccount(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acc := newAccount(t, m, "d@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithinAccount(ctx, acc.ID, func(ctx context.Context, tx Tx) error {
				return tx.AppendTransaction(ctx, &models.Transaction{Kind: models.KindBonus, Amount: 1})
			})
		}()
	}
	wg.Wait()

	entries, total, _ := m.ListTransactions(ctx, acc.ID, "", 100, 0)
	if total != 50 {
		t.Fatalf("total = %d, want 50", total)
	}
	for i, e := range entries {
		if want := int64(50 - i); e.Seq != want {
			t.Fatalf("entry %d seq = %d, want %d", i, e.Seq, want)
		}
		if e.BalanceAfter != int(e.Seq) {
			t.Fatalf("entry seq %d balance_after = %d", e.Seq, e.BalanceAfter)
		}
	}
}

// ---------------------------------------------------------------------------
// 5. Rows of another account are invisible inside a unit
// ---------------------------------------------------------------------------

func TestMemory_JobForUpdateScopedToAccount(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := newAccount(t, m, "owner@example.com")
	other := newAccount(t, m, "other@example.com")

	var jobID uuid.UUID
	err := m.WithinAccount(ctx, owner.ID, func(ctx context.Context, tx Tx) error {
		j := &models.GenerationJob{CreditsCharged: 5, Status: models.JobProcessing, Stage: models.StageCharged}
		if err := tx.CreateJob(ctx, j); err != nil {
			return err
		}
		jobID = j.ID
		return nil
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	err = m.WithinAccount(ctx, other.ID, func(ctx context.Context, tx Tx) error {
		_, err := tx.JobForUpdate(ctx, jobID)
		return err
	})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestMemory_DuplicateEmail(t *testing.T) {
	m := NewMemory()
	newAccount(t, m, "dup@example.com")
	err := m.CreateAccount(context.Background(), &models.Account{Email: "DUP@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestMemory_UnknownAccount(t *testing.T) {
	m := NewMemory()
	err := m.WithinAccount(context.Background(), uuid.New(), func(context.Context, Tx) error { return nil })
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}
