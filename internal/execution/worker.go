package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/ahsann455/recap-render-ai/internal/store"
)

// PipelineTimeout bounds one pipeline attempt. It must exceed the avatar
// poll budget multiplied by the scene count of a typical lecture.
const PipelineTimeout = 45 * time.Minute

var ErrNotTransactional = errors.New("unit is not backed by a postgres transaction")

type GenerateVideoArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (GenerateVideoArgs) Kind() string { return "generate_video" }

func (GenerateVideoArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 5,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Runner executes the generation pipeline for one job.
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

type GenerateVideoWorker struct {
	river.WorkerDefaults[GenerateVideoArgs]
	runner Runner
}

func NewGenerateVideoWorker(r Runner) *GenerateVideoWorker {
	return &GenerateVideoWorker{runner: r}
}

func (w *GenerateVideoWorker) Timeout(*river.Job[GenerateVideoArgs]) time.Duration {
	return PipelineTimeout
}

func (w *GenerateVideoWorker) Work(ctx context.Context, job *river.Job[GenerateVideoArgs]) error {
	if err := w.runner.Run(ctx, job.Args.JobID); err != nil {
		return fmt.Errorf("generation job %s attempt %d: %w", job.Args.JobID, job.Attempt, err)
	}
	return nil
}

// InsertTxFunc enqueues a job within the given transaction. Provided by main
// using river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args GenerateVideoArgs) error

// RiverEnqueuer inserts the pipeline job in the same transaction that
// charged the account, so the job runs if and only if the charge commits.
type RiverEnqueuer struct {
	insert InsertTxFunc
}

func NewRiverEnqueuer(insert InsertTxFunc) *RiverEnqueuer {
	return &RiverEnqueuer{insert: insert}
}

func (e *RiverEnqueuer) EnqueueTx(ctx context.Context, tx store.Tx, jobID uuid.UUID) error {
	pgxTx, ok := store.PgxTx(tx)
	if !ok {
		return ErrNotTransactional
	}
	return e.insert(ctx, pgxTx, GenerateVideoArgs{JobID: jobID})
}
