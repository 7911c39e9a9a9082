package generation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/artifact"
	"github.com/ahsann455/recap-render-ai/internal/avatar"
	"github.com/ahsann455/recap-render-ai/internal/models"
)

// stuckDID accepts talks but never finishes rendering them.
type stuckDID struct {
	mu    sync.Mutex
	polls int
}

func (d *stuckDID) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /talks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"tlk_stuck","status":"created"}`))
	})
	mux.HandleFunc("GET /talks/{id}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.polls++
		d.mu.Unlock()
		w.Write([]byte(`{"id":"tlk_stuck","status":"started"}`))
	})
	return mux
}

// withDID rebuilds the fixture service around a D-ID client pointed at a
// server that never completes a talk.
func (f *fixture) withDID(t *testing.T, cfg Config) *stuckDID {
	t.Helper()
	d := &stuckDID{}
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)
	client, err := avatar.NewDID(srv.URL, "key", nil)
	if err != nil {
		t.Fatal(err)
	}
	local, err := artifact.NewLocal(f.artifacts, "")
	if err != nil {
		t.Fatal(err)
	}
	f.svc = NewService(Deps{
		Store:     f.st,
		Ledger:    f.ledger,
		Enqueuer:  f.enqueuer,
		Scripts:   f.gen,
		Avatar:    client,
		Artifacts: local,
		Notifier:  f.notifier,
	}, cfg)
	return d
}

// assertRefunded checks the job ended REFUNDED with the balance restored by
// exactly one REFUND matching the single DEBIT.
func (f *fixture) assertRefunded(t *testing.T, acc, jobID uuid.UUID, balance int) *models.GenerationJob {
	t.Helper()
	ctx := context.Background()
	job, err := f.svc.GetJob(ctx, acc, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobRefunded {
		t.Fatalf("status = %s (%s)", job.Status, job.FailureReason)
	}
	if b := f.balance(t, acc); b != balance {
		t.Errorf("balance = %d, want %d", b, balance)
	}
	debits, _, _ := f.st.ListTransactions(ctx, acc, models.KindDebit, 10, 0)
	refunds, _, _ := f.st.ListTransactions(ctx, acc, models.KindRefund, 10, 0)
	if len(debits) != 1 || len(refunds) != 1 {
		t.Fatalf("debits = %d, refunds = %d", len(debits), len(refunds))
	}
	if debits[0].Amount != refunds[0].Amount || refunds[0].Amount != job.CreditsCharged {
		t.Errorf("debit %d, refund %d, charged %d", debits[0].Amount, refunds[0].Amount, job.CreditsCharged)
	}
	return job
}

// ---------------------------------------------------------------------------
// Synthesis deadlines
// ---------------------------------------------------------------------------

func TestRun_SynthesisTimeoutRefunds(t *testing.T) {
	f := newFixture(t)
	did := f.withDID(t, Config{PollTimeout: 150 * time.Millisecond, PollInterval: 20 * time.Millisecond})
	acc := f.account(t, 10)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, acc, sourceNotes, opts(2, "720p"))
	if err != nil {
		t.Fatal(err)
	}
	if b := f.balance(t, acc); b != 0 {
		t.Fatalf("balance after charge = %d", b)
	}
	if err := f.svc.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := f.assertRefunded(t, acc, job.ID, 10)
	if !strings.Contains(got.FailureReason, avatar.ErrTimeout.Error()) {
		t.Errorf("reason = %q", got.FailureReason)
	}
	did.mu.Lock()
	defer did.mu.Unlock()
	if did.polls == 0 {
		t.Error("provider was never polled")
	}
}

func TestRun_CancelledMidPipelineStillRefunds(t *testing.T) {
	f := newFixture(t)
	f.withDID(t, Config{PollTimeout: time.Minute, PollInterval: 20 * time.Millisecond})
	acc := f.account(t, 10)

	job, err := f.svc.Submit(context.Background(), acc, sourceNotes, opts(2, "720p"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := f.svc.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := f.assertRefunded(t, acc, job.ID, 10)
	if got.FailureReason == "" {
		t.Error("failure reason not recorded")
	}
}

// ---------------------------------------------------------------------------
// Failure reasons
// ---------------------------------------------------------------------------

func TestRun_LongMultibyteReasonStaysValidUTF8(t *testing.T) {
	f := newFixture(t)
	// "é" is two bytes and straddles the cut.
	f.gen.scriptErr = errorString(strings.Repeat("a", maxFailureReason-1) + "é tail")
	acc := f.account(t, 10)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, acc, sourceNotes, opts(1, "720p"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := f.assertRefunded(t, acc, job.ID, 10)
	if !utf8.ValidString(got.FailureReason) {
		t.Errorf("reason is not valid UTF-8")
	}
	if len(got.FailureReason) != maxFailureReason-1 {
		t.Errorf("len = %d, want %d", len(got.FailureReason), maxFailureReason-1)
	}
}

func TestTruncateReason(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "boom", 10, "boom"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"rune boundary", "aé", 2, "a"},
		{"whole rune fits", "aé", 3, "aé"},
		{"three byte rune", "ab€", 4, "ab"},
		{"invalid input", "a\xffb", 10, "a�b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateReason(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncateReason(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result %q is not valid UTF-8", got)
			}
		})
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
