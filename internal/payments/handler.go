package payments

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/httpx"
	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/middleware"
	"github.com/ahsann455/recap-render-ai/internal/models"
)

const maxWebhookBytes = 65536

type CreateIntentRequest struct {
	PackageID string `json:"package_id" validate:"required,uuid"`
}

type ConfirmRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

type PackageResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Credits        int    `json:"credits"`
	BonusCredits   int    `json:"bonus_credits"`
	TotalCredits   int    `json:"total_credits"`
	Price          string `json:"price"`
	PricePerCredit string `json:"price_per_credit"`
}

type Handler struct {
	svc      Service
	validate *httpx.Validator
	log      *slog.Logger
}

func NewHandler(svc Service, validate *httpx.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if validate == nil {
		validate = httpx.NewValidator()
	}
	return &Handler{svc: svc, validate: validate, log: log}
}

// GET /api/v1/credits/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.svc.Packages(r.Context())
	if err != nil {
		h.log.Error("list packages failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to fetch packages")
		return
	}
	resp := make([]PackageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		resp = append(resp, packageToResponse(p))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// POST /api/v1/payments/intents
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	var req CreateIntentRequest
	if err := h.validate.Decode(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.CreateIntent(r.Context(), accountID, uuid.MustParse(req.PackageID))
	if err != nil {
		h.writeServiceError(w, "create intent", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

// POST /api/v1/payments/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	var req ConfirmRequest
	if err := h.validate.Decode(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.ConfirmForAccount(r.Context(), accountID, req.PaymentIntentID)
	if err != nil {
		h.writeServiceError(w, "confirm payment", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// POST /api/v1/payments/webhook
// 400 only for payloads that fail verification; processing errors return
// 500 so the provider redelivers.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	ev, err := h.svc.VerifyAndParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			httpx.WriteError(w, http.StatusServiceUnavailable, "payments not configured")
			return
		}
		h.log.Warn("webhook rejected", "error", err)
		httpx.WriteError(w, http.StatusBadRequest, "webhook signature verification failed")
		return
	}
	if err := h.svc.HandleEvent(r.Context(), ev); err != nil {
		h.log.Error("webhook processing failed", "type", ev.Type, "event_id", ev.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// GET /api/v1/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	limit, offset := httpx.Pagination(r)
	page, err := h.svc.History(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list payments", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

// GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid payment id")
		return
	}
	p, err := h.svc.GetPayment(r.Context(), accountID, id)
	if err != nil {
		h.writeServiceError(w, "get payment", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrPackageNotFound):
		httpx.WriteError(w, http.StatusNotFound, "package not found")
	case errors.Is(err, ErrPaymentNotFound):
		httpx.WriteError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, ledger.ErrAccountNotFound):
		httpx.WriteError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, "payment is not in a confirmable state")
	case errors.Is(err, ErrPaymentNotSettled):
		httpx.WriteError(w, http.StatusConflict, "payment has not succeeded yet")
	case errors.Is(err, ErrNotConfigured):
		httpx.WriteError(w, http.StatusServiceUnavailable, "payments not configured")
	case errors.Is(err, ErrProviderError):
		h.log.Error(op+" failed", "error", err)
		httpx.WriteError(w, http.StatusBadGateway, "payment provider error")
	default:
		h.log.Error(op+" failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, op+" failed")
	}
}

func packageToResponse(p *models.CreditPackage) PackageResponse {
	return PackageResponse{
		ID:             p.ID.String(),
		Name:           p.Name,
		Credits:        p.Credits,
		BonusCredits:   p.BonusCredits,
		TotalCredits:   p.TotalCredits(),
		Price:          p.Price.StringFixed(2),
		PricePerCredit: p.PricePerCredit().String(),
	}
}
