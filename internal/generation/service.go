// Package generation charges for and runs lecture video generation jobs. A
// job is paid for up front and refunded if any pipeline stage fails.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/artifact"
	"github.com/ahsann455/recap-render-ai/internal/avatar"
	"github.com/ahsann455/recap-render-ai/internal/document"
	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/llm"
	"github.com/ahsann455/recap-render-ai/internal/metrics"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/notify"
	"github.com/ahsann455/recap-render-ai/internal/pricing"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100

	maxFailureReason = 500
	bookkeepingWait  = 30 * time.Second
)

var (
	ErrJobNotFound    = store.ErrJobNotFound
	ErrNoScenes       = errors.New("scene breakdown produced no scenes")
	ErrPipelinePanic  = errors.New("pipeline stage panicked")
	ErrInvalidOptions = errors.New("invalid generation options")
)

// Enqueuer schedules the pipeline for a job inside the unit that created it.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx store.Tx, jobID uuid.UUID) error
}

type JobPage struct {
	Items   []*models.GenerationJob `json:"items"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
	HasMore bool                    `json:"has_more"`
}

type Service interface {
	Quote(opts models.JobOptions) (pricing.Quote, error)
	// Submit charges the account and creates a PROCESSING job in one unit.
	Submit(ctx context.Context, accountID uuid.UUID, sourceText string, opts models.JobOptions) (*models.GenerationJob, error)
	// Run executes the pipeline for a job. It returns an error only when the
	// outcome could not be recorded and the run should be retried.
	Run(ctx context.Context, jobID uuid.UUID) error
	GetJob(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error)
	History(ctx context.Context, accountID uuid.UUID, limit, offset int) (*JobPage, error)
}

type Config struct {
	PollTimeout  time.Duration
	PollInterval time.Duration
}

type Deps struct {
	Store     store.Store
	Ledger    ledger.Service
	Enqueuer  Enqueuer
	Scripts   llm.Generator
	Avatar    avatar.Client
	Artifacts artifact.Store
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

type service struct {
	store     store.Store
	ledger    ledger.Service
	enqueuer  Enqueuer
	scripts   llm.Generator
	avatar    avatar.Client
	artifacts artifact.Store
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	log       *slog.Logger
	cfg       Config
	now       func() time.Time
}

func NewService(d Deps, cfg Config) Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLog(d.Log)
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = avatar.DefaultPollTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = avatar.DefaultPollInterval
	}
	return &service{
		store:     d.Store,
		ledger:    d.Ledger,
		enqueuer:  d.Enqueuer,
		scripts:   d.Scripts,
		avatar:    d.Avatar,
		artifacts: d.Artifacts,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		log:       d.Log,
		cfg:       cfg,
		now:       time.Now,
	}
}

var _ Service = (*service)(nil)

func pricingOptions(o models.JobOptions) pricing.Options {
	return pricing.Options{
		DurationMinutes:   o.DurationMinutes,
		Resolution:        o.Resolution,
		CustomMusic:       o.CustomMusic,
		PremiumVoice:      o.PremiumVoice,
		VisualEnhancement: o.VisualEnhancement,
	}
}

func (s *service) Quote(opts models.JobOptions) (pricing.Quote, error) {
	return pricing.Calculate(pricingOptions(opts))
}

func (s *service) Submit(ctx context.Context, accountID uuid.UUID, sourceText string, opts models.JobOptions) (*models.GenerationJob, error) {
	quote, err := s.Quote(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	mode, err := llm.ParseMode(opts.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	style, err := llm.ParseStyle(opts.Style)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	text, err := document.FromText(sourceText)
	if err != nil {
		return nil, err
	}
	opts.Mode, opts.Style, opts.Resolution = string(mode), string(style), quote.Resolution

	job := &models.GenerationJob{
		ID:             uuid.New(),
		CreditsCharged: quote.Total,
		Status:         models.JobProcessing,
		Stage:          models.StageCharged,
		Options:        opts,
		SourceText:     text,
	}
	err = s.store.WithinAccount(ctx, accountID, func(ctx context.Context, tx store.Tx) error {
		entry, err := s.ledger.DebitTx(ctx, tx, quote.Total, describe(opts, quote), &job.ID)
		if err != nil {
			return err
		}
		job.TransactionID = &entry.ID
		if err := tx.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		if err := s.enqueuer.EnqueueTx(ctx, tx, job.ID); err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("generation job submitted", "job_id", job.ID, "account_id", accountID, "credits", quote.Total)
	return job, nil
}

func describe(opts models.JobOptions, q pricing.Quote) string {
	if opts.Title != "" {
		return fmt.Sprintf("Video generation: %s (%d min, %s)", opts.Title, q.DurationMinutes, q.Resolution)
	}
	return fmt.Sprintf("Video generation (%d min, %s)", q.DurationMinutes, q.Resolution)
}

func (s *service) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			s.log.Warn("generation job vanished", "job_id", jobID)
			return nil
		}
		return err
	}

	switch job.Status {
	case models.JobProcessing:
	case models.JobFailed:
		// A previous attempt failed the job but could not refund it.
		return s.refund(ctx, job, job.FailureReason)
	default:
		s.log.Info("generation job already finished", "job_id", job.ID, "status", job.Status)
		return nil
	}

	start := s.now()
	resultURL, err := s.pipeline(ctx, job)
	if err != nil {
		return s.fail(ctx, job, err, start)
	}
	return s.complete(ctx, job, resultURL, start)
}

func (s *service) complete(ctx context.Context, job *models.GenerationJob, resultURL string, start time.Time) error {
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	done := false
	err := s.store.WithinAccount(ctx, job.AccountID, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.JobForUpdate(ctx, job.ID)
		if err != nil {
			return err
		}
		if j.Status != models.JobProcessing {
			return nil
		}
		now := s.now()
		j.Status = models.JobCompleted
		j.Stage = models.StageCompleted
		j.ResultReference = resultURL
		j.CompletedAt = &now
		done = true
		return tx.UpdateJob(ctx, j)
	})
	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	if !done {
		return nil
	}

	s.metrics.GenerationFinished(string(models.JobCompleted), s.now().Sub(start))
	s.log.Info("generation job completed", "job_id", job.ID, "account_id", job.AccountID, "result", resultURL)
	s.notifyAccount(ctx, job.AccountID, func(acc *models.Account) notify.Message {
		return notify.GenerationCompleted(acc.Email, acc.Name, jobTitle(job), resultURL)
	})
	return nil
}

// fail records the failure and returns the charged credits.
func (s *service) fail(ctx context.Context, job *models.GenerationJob, cause error, start time.Time) error {
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	reason := truncateReason(cause.Error(), maxFailureReason)
	s.log.Error("generation pipeline failed", "job_id", job.ID, "account_id", job.AccountID, "error", cause)

	err := s.store.WithinAccount(ctx, job.AccountID, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.JobForUpdate(ctx, job.ID)
		if err != nil {
			return err
		}
		if j.Status != models.JobProcessing {
			return nil
		}
		j.Status = models.JobFailed
		j.FailureReason = reason
		return tx.UpdateJob(ctx, j)
	})
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	s.metrics.GenerationFinished(string(models.JobFailed), s.now().Sub(start))
	return s.refund(ctx, job, reason)
}

func (s *service) refund(ctx context.Context, job *models.GenerationJob, reason string) error {
	entry, err := s.ledger.RefundJob(ctx, job.AccountID, job.ID)
	switch {
	case errors.Is(err, ledger.ErrAlreadyRefunded):
		return nil
	case errors.Is(err, ledger.ErrNotRefundable):
		s.log.Warn("refund skipped for completed job", "job_id", job.ID)
		return nil
	case err != nil:
		return fmt.Errorf("refund job %s: %w", job.ID, err)
	}

	s.metrics.GenerationFinished(string(models.JobRefunded), 0)
	s.log.Info("generation job refunded", "job_id", job.ID, "account_id", job.AccountID, "credits", entry.Amount, "balance", entry.BalanceAfter)
	s.notifyAccount(ctx, job.AccountID, func(acc *models.Account) notify.Message {
		return notify.GenerationFailed(acc.Email, acc.Name, jobTitle(job), reason, entry.Amount)
	})
	return nil
}

func (s *service) GetJob(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, limit, offset int) (*JobPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := s.store.ListJobs(ctx, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &JobPage{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}, nil
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

// bookkeepingContext outlives a cancelled pipeline so the outcome is still
// recorded.
func bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingWait)
}

// truncateReason cuts s to at most n bytes without splitting a rune, so the
// result stays valid UTF-8 for a TEXT column.
func truncateReason(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func jobTitle(job *models.GenerationJob) string {
	if job.Options.Title != "" {
		return job.Options.Title
	}
	return "Lecture video " + job.ID.String()[:8]
}

func marshalManifest(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
