package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = store.ErrDuplicateEmail
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const DefaultTokenTTL = 24 * time.Hour

type Config struct {
	Secret      string
	TokenTTL    time.Duration
	SignupGrant int
}

type Service interface {
	Register(ctx context.Context, email, password, name string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, *models.Account, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	Me(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
}

type service struct {
	store  store.Store
	ledger ledger.Service
	secret []byte
	ttl    time.Duration
	grant  int
	log    *slog.Logger
	now    func() time.Time
}

func NewService(st store.Store, led ledger.Service, cfg Config, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &service{
		store:  st,
		ledger: led,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		grant:  cfg.SignupGrant,
		log:    log,
		now:    time.Now,
	}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

// Register creates the account and credits the signup grant as a BONUS entry.
func (s *service) Register(ctx context.Context, email, password, name string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc := &models.Account{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	if s.grant > 0 {
		entry, err := s.ledger.Credit(ctx, acc.ID, s.grant, models.KindBonus, "Welcome bonus credits", nil)
		if err != nil {
			s.log.Error("signup grant failed", "account_id", acc.ID, "error", err)
		} else {
			acc.Balance = entry.BalanceAfter
		}
	}
	s.log.Info("account registered", "account_id", acc.ID)
	return acc, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *models.Account, error) {
	acc, err := s.store.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.issueToken(acc.ID)
	if err != nil {
		return "", nil, err
	}
	return token, acc, nil
}

func (s *service) issueToken(accountID uuid.UUID) (string, error) {
	now := s.now()
	c := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

func (s *service) Me(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}
