package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/ahsann455/recap-render-ai/internal/document"
	"github.com/ahsann455/recap-render-ai/internal/httpx"
	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/middleware"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/pricing"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

const maxUploadBytes = 10 << 20

// BalanceReader is the part of the ledger the cost preview needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (int, error)
}

type CostRequest struct {
	DurationMinutes   float64 `json:"duration_minutes" validate:"gt=0,lte=180"`
	Resolution        string  `json:"resolution" validate:"resolution"`
	CustomMusic       bool    `json:"custom_music"`
	PremiumVoice      bool    `json:"premium_voice"`
	VisualEnhancement bool    `json:"visual_enhancement"`
}

type CostResponse struct {
	Cost          pricing.Quote `json:"cost"`
	Balance       int           `json:"balance"`
	CanAfford     bool          `json:"can_afford"`
	CreditsNeeded int           `json:"credits_needed"`
}

type SubmitRequest struct {
	SourceText        string  `json:"source_text" validate:"required"`
	Title             string  `json:"title" validate:"max=200"`
	DurationMinutes   float64 `json:"duration_minutes" validate:"gt=0,lte=180"`
	Resolution        string  `json:"resolution" validate:"resolution"`
	CustomMusic       bool    `json:"custom_music"`
	PremiumVoice      bool    `json:"premium_voice"`
	VisualEnhancement bool    `json:"visual_enhancement"`
	Mode              string  `json:"mode" validate:"omitempty,oneof=summary detailed test"`
	Style             string  `json:"style" validate:"omitempty,oneof=professor visual"`
	VoiceID           string  `json:"voice_id" validate:"max=100"`
	AvatarURL         string  `json:"avatar_url" validate:"omitempty,url"`
}

func (r SubmitRequest) options() models.JobOptions {
	return models.JobOptions{
		DurationMinutes:   r.DurationMinutes,
		Resolution:        r.Resolution,
		CustomMusic:       r.CustomMusic,
		PremiumVoice:      r.PremiumVoice,
		VisualEnhancement: r.VisualEnhancement,
		Mode:              r.Mode,
		Style:             r.Style,
		VoiceID:           r.VoiceID,
		AvatarURL:         r.AvatarURL,
		Title:             r.Title,
	}
}

type SubmitResponse struct {
	JobID          uuid.UUID        `json:"job_id"`
	Status         models.JobStatus `json:"status"`
	CreditsCharged int              `json:"credits_charged"`
}

type insufficientResponse struct {
	Error         string `json:"error"`
	Required      int    `json:"required"`
	Available     int    `json:"available"`
	CreditsNeeded int    `json:"credits_needed"`
}

type Handler struct {
	svc      Service
	balances BalanceReader
	validate *httpx.Validator
	log      *slog.Logger
}

func NewHandler(svc Service, balances BalanceReader, v *httpx.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if v == nil {
		v = httpx.NewValidator()
	}
	return &Handler{svc: svc, balances: balances, validate: v, log: log}
}

// POST /api/v1/credits/calculate-cost
func (h *Handler) CalculateCost(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	var req CostRequest
	if err := h.validate.Decode(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := h.svc.Quote(models.JobOptions{
		DurationMinutes:   req.DurationMinutes,
		Resolution:        req.Resolution,
		CustomMusic:       req.CustomMusic,
		PremiumVoice:      req.PremiumVoice,
		VisualEnhancement: req.VisualEnhancement,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := h.balances.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, accountID, err)
		return
	}
	needed := quote.Total - balance
	if needed < 0 {
		needed = 0
	}
	httpx.WriteJSON(w, http.StatusOK, CostResponse{
		Cost:          quote,
		Balance:       balance,
		CanAfford:     balance >= quote.Total,
		CreditsNeeded: needed,
	})
}

// POST /api/v1/generations accepts JSON with source_text, or a multipart
// form with a "file" part and the same fields as form values.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())

	var req SubmitRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		status, err := h.decodeUpload(w, r, &req)
		if err != nil {
			httpx.WriteError(w, status, err.Error())
			return
		}
	} else if err := h.validate.Decode(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.Submit(r.Context(), accountID, req.SourceText, req.options())
	if err != nil {
		h.writeServiceError(w, accountID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:          job.ID,
		Status:         job.Status,
		CreditsCharged: job.CreditsCharged,
	})
}

func (h *Handler) decodeUpload(w http.ResponseWriter, r *http.Request, req *SubmitRequest) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return http.StatusBadRequest, errors.New("invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return http.StatusBadRequest, errors.New("file is required")
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return http.StatusInternalServerError, errors.New("failed to store upload")
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, file)
	tmp.Close()
	if err != nil {
		return http.StatusInternalServerError, errors.New("failed to store upload")
	}

	text, err := document.Extract(tmp.Name(), header.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, document.ErrUnsupportedType):
			return http.StatusUnsupportedMediaType, err
		case errors.Is(err, document.ErrEmptyOrTooShort), errors.Is(err, document.ErrInvalidEncoding):
			return http.StatusBadRequest, err
		}
		return http.StatusInternalServerError, errors.New("failed to read document")
	}

	req.SourceText = text
	req.Title = r.FormValue("title")
	req.Resolution = r.FormValue("resolution")
	req.Mode = r.FormValue("mode")
	req.Style = r.FormValue("style")
	req.VoiceID = r.FormValue("voice_id")
	req.AvatarURL = r.FormValue("avatar_url")
	if req.DurationMinutes, err = strconv.ParseFloat(r.FormValue("duration_minutes"), 64); err != nil {
		return http.StatusBadRequest, errors.New("duration_minutes must be a number")
	}
	for name, dst := range map[string]*bool{
		"custom_music":       &req.CustomMusic,
		"premium_voice":      &req.PremiumVoice,
		"visual_enhancement": &req.VisualEnhancement,
	} {
		if v := r.FormValue(name); v != "" {
			if *dst, err = strconv.ParseBool(v); err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s must be a boolean", name)
			}
		}
	}
	if err := h.validate.Struct(req); err != nil {
		return http.StatusBadRequest, errors.New("invalid generation options")
	}
	return 0, nil
}

// GET /api/v1/generations?limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	limit, offset := httpx.Pagination(r)
	page, err := h.svc.History(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeServiceError(w, accountID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

// GET /api/v1/generations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.svc.GetJob(r.Context(), accountID, jobID)
	if err != nil {
		h.writeServiceError(w, accountID, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, accountID uuid.UUID, err error) {
	var short *ledger.InsufficientCreditsError
	switch {
	case errors.As(err, &short):
		httpx.WriteJSON(w, http.StatusPaymentRequired, insufficientResponse{
			Error:         "insufficient credits",
			Required:      short.Required,
			Available:     short.Available,
			CreditsNeeded: short.Shortfall(),
		})
	case errors.Is(err, ErrInvalidOptions),
		errors.Is(err, document.ErrEmptyOrTooShort),
		errors.Is(err, document.ErrInvalidEncoding):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrJobNotFound):
		httpx.WriteError(w, http.StatusNotFound, "generation not found")
	case errors.Is(err, store.ErrAccountNotFound):
		httpx.WriteError(w, http.StatusNotFound, "account not found")
	default:
		h.log.Error("generation request failed", "account_id", accountID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
