package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ahsann455/recap-render-ai/internal/httpx"
	"github.com/ahsann455/recap-render-ai/internal/middleware"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AccountResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Balance        int       `json:"balance"`
	TotalPurchased int       `json:"total_purchased"`
	CreatedAt      time.Time `json:"created_at"`
}

type LoginResponse struct {
	Token   string          `json:"token"`
	Account AccountResponse `json:"account"`
}

type Handler struct {
	svc      Service
	validate *httpx.Validator
	log      *slog.Logger
}

func NewHandler(svc Service, v *httpx.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if v == nil {
		v = httpx.NewValidator()
	}
	return &Handler{svc: svc, validate: v, log: log}
}

// POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.validate.Decode(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			httpx.WriteError(w, http.StatusConflict, "email already registered")
			return
		}
		h.log.Error("register failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, accountToResponse(acc))
}

// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.validate.Decode(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, acc, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("login failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "login failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, Account: accountToResponse(acc)})
}

// GET /api/v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	acc, err := h.svc.Me(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "account not found")
			return
		}
		h.log.Error("load account failed", "account_id", accountID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountToResponse(acc))
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:             a.ID.String(),
		Email:          a.Email,
		Name:           a.Name,
		Balance:        a.Balance,
		TotalPurchased: a.TotalPurchased,
		CreatedAt:      a.CreatedAt,
	}
}
