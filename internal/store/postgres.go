package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ahsann455/recap-render-ai/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is the production Store. An account unit is a pgx transaction
// that starts by locking the account row.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

// Migrate creates the schema if it does not exist yet.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// PgxTx exposes the pgx transaction behind a unit so other writers (the job
// queue) can join it. ok is false for non-Postgres units.
func PgxTx(tx Tx) (pgx.Tx, bool) {
	pt, ok := tx.(*pgUnit)
	if !ok {
		return nil, false
	}
	return pt.tx, true
}

func (s *Postgres) WithinAccount(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	unit := &pgUnit{tx: tx, accountID: accountID}
	if _, err := unit.Account(ctx); err != nil {
		return err
	}
	if err := fn(ctx, unit); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, f := range unit.after {
		f()
	}
	return nil
}

const accountColumns = `id, email, name, password_hash, balance, total_purchased, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Balance, &a.TotalPurchased, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) CreateAccount(ctx context.Context, acc *models.Account) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+accountColumns, acc.Email, acc.Name, acc.PasswordHash)
	created, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	*acc = *created
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *Postgres) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email))
}

const transactionColumns = `id, account_id, kind, amount, balance_after, description, payment_id, job_id, status, seq, created_at`

func (s *Postgres) ListTransactions(ctx context.Context, accountID uuid.UUID, kind models.TransactionKind, limit, offset int) ([]*models.Transaction, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM credit_transactions
		WHERE account_id = $1 AND ($2 = '' OR kind = $2)
	`, accountID, string(kind)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM credit_transactions
		WHERE account_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY seq DESC
		LIMIT $3 OFFSET $4
	`, accountID, string(kind), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []*models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.Description,
			&t.PaymentID, &t.JobID, &t.Status, &t.Seq, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &t)
	}
	return out, total, rows.Err()
}

// SeedPackages inserts the catalogue by name; existing packages are left untouched.
func (s *Postgres) SeedPackages(ctx context.Context, pkgs []*models.CreditPackage) error {
	batch := &pgx.Batch{}
	for _, p := range pkgs {
		batch.Queue(`
			INSERT INTO credit_packages (name, credits, bonus_credits, price, active)
			VALUES ($1, $2, $3, $4::numeric, $5)
			ON CONFLICT (name) DO NOTHING
		`, p.Name, p.Credits, p.BonusCredits, p.Price.String(), p.Active)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

const packageColumns = `id, name, credits, bonus_credits, price::text, active, created_at`

func scanPackage(row pgx.Row) (*models.CreditPackage, error) {
	var p models.CreditPackage
	var price string
	if err := row.Scan(&p.ID, &p.Name, &p.Credits, &p.BonusCredits, &price, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("package %s price: %w", p.ID, err)
	}
	p.Price = d
	return &p, nil
}

func (s *Postgres) ListPackages(ctx context.Context) ([]*models.CreditPackage, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+packageColumns+` FROM credit_packages WHERE active ORDER BY price ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CreditPackage
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	p, err := scanPackage(s.pool.QueryRow(ctx, `SELECT `+packageColumns+` FROM credit_packages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	return p, err
}

const paymentColumns = `id, account_id, package_id, amount::text, currency, credits, bonus_credits,
	provider_intent_id, status, transaction_id, created_at, completed_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var amount string
	err := row.Scan(&p.ID, &p.AccountID, &p.PackageID, &amount, &p.Currency, &p.Credits, &p.BonusCredits,
		&p.ProviderIntentID, &p.Status, &p.TransactionID, &p.CreatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s amount: %w", p.ID, err)
	}
	return &p, nil
}

func (s *Postgres) CreatePayment(ctx context.Context, p *models.Payment) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO payments (account_id, package_id, amount, currency, credits, bonus_credits, provider_intent_id, status)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, p.AccountID, p.PackageID, p.Amount.String(), p.Currency, p.Credits, p.BonusCredits, p.ProviderIntentID, p.Status)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIntent
		}
		return err
	}
	return nil
}

func (s *Postgres) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (s *Postgres) GetPaymentByIntent(ctx context.Context, intentID string) (*models.Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_intent_id = $1`, intentID))
}

func (s *Postgres) ListPayments(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Payment, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM payments WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

const jobColumns = `id, account_id, transaction_id, credits_charged, status, stage, options, source_text,
	result_reference, failure_reason, created_at, completed_at`

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.AccountID, &j.TransactionID, &j.CreditsCharged, &j.Status, &j.Stage, &j.Options,
		&j.SourceText, &j.ResultReference, &j.FailureReason, &j.CreatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
}

func (s *Postgres) ListJobs(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.GenerationJob, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM generation_jobs WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []*models.GenerationJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, j)
	}
	return out, total, rows.Err()
}

func (s *Postgres) SetJobStage(ctx context.Context, id uuid.UUID, stage string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE generation_jobs SET stage = $1 WHERE id = $2`, stage, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

type pgUnit struct {
	tx        pgx.Tx
	accountID uuid.UUID
	after     []func()
}

func (u *pgUnit) AccountID() uuid.UUID { return u.accountID }

func (u *pgUnit) Account(ctx context.Context) (*models.Account, error) {
	return scanAccount(u.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, u.accountID))
}

func (u *pgUnit) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	purchased := 0
	if t.Kind == models.KindPurchase {
		purchased = t.Amount
	}
	row := u.tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $1, total_purchased = total_purchased + $2, tx_seq = tx_seq + 1, updated_at = now()
		WHERE id = $3
		RETURNING balance, tx_seq
	`, t.Signed(), purchased, u.accountID)
	if err := row.Scan(&t.BalanceAfter, &t.Seq); err != nil {
		return err
	}
	t.AccountID = u.accountID
	t.Status = models.TxCompleted
	row = u.tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (account_id, kind, amount, balance_after, description, payment_id, job_id, status, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, t.AccountID, t.Kind, t.Amount, t.BalanceAfter, t.Description, t.PaymentID, t.JobID, t.Status, t.Seq)
	return row.Scan(&t.ID, &t.CreatedAt)
}

func (u *pgUnit) PaymentForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(u.tx.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND account_id = $2 FOR UPDATE
	`, id, u.accountID))
}

func (u *pgUnit) UpdatePayment(ctx context.Context, p *models.Payment) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE payments
		SET provider_intent_id = $1, status = $2, transaction_id = $3, completed_at = $4
		WHERE id = $5 AND account_id = $6
	`, p.ProviderIntentID, p.Status, p.TransactionID, p.CompletedAt, p.ID, u.accountID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIntent
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (u *pgUnit) CreateJob(ctx context.Context, j *models.GenerationJob) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.AccountID = u.accountID
	return u.tx.QueryRow(ctx, `
		INSERT INTO generation_jobs (id, account_id, transaction_id, credits_charged, status, stage, options, source_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, j.ID, j.AccountID, j.TransactionID, j.CreditsCharged, j.Status, j.Stage, j.Options, j.SourceText).Scan(&j.CreatedAt)
}

func (u *pgUnit) JobForUpdate(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	return scanJob(u.tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 AND account_id = $2 FOR UPDATE
	`, id, u.accountID))
}

func (u *pgUnit) UpdateJob(ctx context.Context, j *models.GenerationJob) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $1, stage = $2, result_reference = $3, failure_reason = $4, completed_at = $5
		WHERE id = $6 AND account_id = $7
	`, j.Status, j.Stage, j.ResultReference, j.FailureReason, j.CompletedAt, j.ID, u.accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (u *pgUnit) AfterCommit(fn func()) {
	u.after = append(u.after, fn)
}
