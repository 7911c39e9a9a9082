// Package llm generates lecture scripts and scene breakdowns through an
// OpenAI-compatible chat completions API (Groq by default).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

// DefaultModels are tried in order until one is available.
var DefaultModels = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"mixtral-8x7b-32768",
}

var (
	ErrNotConfigured   = errors.New("llm api key not configured")
	ErrNoModels        = errors.New("no models configured")
	ErrEmptyCompletion = errors.New("model returned an empty completion")
)

// APIError is a non-2xx response from the completions endpoint.
type APIError struct {
	Status  int
	Code    string
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("llm api %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("llm api %d: %s", e.Status, e.Message)
}

// ModelUnavailableError means the requested model does not exist or was
// retired. Generate moves on to the next model when it sees one.
type ModelUnavailableError struct {
	Model string
	Err   *APIError
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL     string
	APIKey      string
	Models      []string
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	baseURL     string
	apiKey      string
	models      []string
	temperature float64
	httpClient  *http.Client
	log         *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		models:      cfg.Models,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		log:         log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate sends one system+user exchange and returns the trimmed reply.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	if len(c.models) == 0 {
		return "", ErrNoModels
	}

	var lastErr error
	for _, model := range c.models {
		out, err := c.complete(ctx, model, system, user)
		if err == nil {
			return out, nil
		}
		var unavailable *ModelUnavailableError
		if !errors.As(err, &unavailable) {
			return "", err
		}
		c.log.Warn("llm model unavailable, trying next", "model", model, "error", err)
		lastErr = err
	}
	return "", fmt.Errorf("all models unavailable: %w", lastErr)
}

func (c *Client) complete(ctx context.Context, model, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: c.temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			apiErr.Message = env.Error.Message
			apiErr.Code = env.Error.Code
			apiErr.Type = env.Error.Type
		}
		if modelUnavailable(apiErr) {
			return "", &ModelUnavailableError{Model: model, Err: apiErr}
		}
		return "", apiErr
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func modelUnavailable(e *APIError) bool {
	if e.Status == http.StatusNotFound {
		return true
	}
	switch e.Code {
	case "model_not_found", "model_decommissioned":
		return true
	}
	return false
}
