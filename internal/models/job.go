package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobRefunded   JobStatus = "REFUNDED"
)

// Pipeline stages, in execution order. FAILED and REFUNDED are tracked by status.
const (
	StageCharged   = "CHARGED"
	StageScript    = "SCRIPT"
	StageScenes    = "SCENES"
	StageSynthesis = "SYNTHESIS"
	StageAssembled = "ASSEMBLED"
	StageCompleted = "COMPLETED"
)

// JobOptions are the caller-selected parameters of a generation request.
type JobOptions struct {
	DurationMinutes   float64 `json:"duration_minutes"`
	Resolution        string  `json:"resolution"`
	CustomMusic       bool    `json:"custom_music"`
	PremiumVoice      bool    `json:"premium_voice"`
	VisualEnhancement bool    `json:"visual_enhancement"`
	Mode              string  `json:"mode"`
	Style             string  `json:"style"`
	VoiceID           string  `json:"voice_id,omitempty"`
	AvatarURL         string  `json:"avatar_url,omitempty"`
	Title             string  `json:"title,omitempty"`
}

type GenerationJob struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	TransactionID   *uuid.UUID `json:"transaction_id,omitempty"`
	CreditsCharged  int        `json:"credits_charged"`
	Status          JobStatus  `json:"status"`
	Stage           string     `json:"stage"`
	Options         JobOptions `json:"options"`
	SourceText      string     `json:"-"`
	ResultReference string     `json:"result_reference,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
