package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ahsann455/recap-render-ai/internal/httpx"
	"github.com/ahsann455/recap-render-ai/internal/middleware"
	"github.com/ahsann455/recap-render-ai/internal/models"
)

type BalanceResponse struct {
	Balance int `json:"balance"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// GET /api/v1/credits/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	balance, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "account not found")
			return
		}
		h.log.Error("get balance failed", "account_id", accountID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to fetch balance")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

// GET /api/v1/credits/transactions?limit=&offset=&kind=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	limit, offset := httpx.Pagination(r)
	kind := models.TransactionKind(strings.ToUpper(r.URL.Query().Get("kind")))
	page, err := h.svc.History(r.Context(), accountID, HistoryFilter{Kind: kind, Limit: limit, Offset: offset})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidKind):
			httpx.WriteError(w, http.StatusBadRequest, "invalid kind")
		case errors.Is(err, ErrAccountNotFound):
			httpx.WriteError(w, http.StatusNotFound, "account not found")
		default:
			h.log.Error("list transactions failed", "account_id", accountID, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to fetch transactions")
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}
