package avatar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ahsann455/recap-render-ai/internal/metrics"
)

const DefaultBaseURL = "https://api.d-id.com"

// talkSchema is the subset of the talk status document the client relies on.
const talkSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "status": {"type": "string"},
    "result_url": {"type": "string"},
    "error": {}
  }
}`

// DID is the D-ID talks API client.
type DID struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	schema     *jsonschema.Schema
	metrics    *metrics.Metrics
	maxResult  int64
}

func NewDID(baseURL, apiKey string, m *metrics.Metrics) (*DID, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	schema, err := jsonschema.CompileString("https://recap-render.dev/schemas/did-talk.json", talkSchema)
	if err != nil {
		return nil, fmt.Errorf("compile talk schema: %w", err)
	}
	return &DID{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		schema:     schema,
		metrics:    m,
		maxResult:  maxResultBytes,
	}, nil
}

var _ Client = (*DID)(nil)

type talkRequest struct {
	Script    talkScript `json:"script"`
	SourceURL string     `json:"source_url"`
	Config    talkConfig `json:"config"`
}

type talkScript struct {
	Type     string       `json:"type"`
	Input    string       `json:"input"`
	Provider talkProvider `json:"provider"`
}

type talkProvider struct {
	Type    string `json:"type"`
	VoiceID string `json:"voice_id"`
}

type talkConfig struct {
	Ratio string `json:"ratio"`
}

type talkStatus struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	ResultURL string          `json:"result_url"`
	Error     json.RawMessage `json:"error"`
}

func (d *DID) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(d.apiKey+":"))
}

func (d *DID) Submit(ctx context.Context, spec JobSpec) (string, error) {
	spec, err := spec.withDefaults()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(talkRequest{
		Script: talkScript{
			Type:     "text",
			Input:    spec.Text,
			Provider: talkProvider{Type: "microsoft", VoiceID: spec.VoiceID},
		},
		SourceURL: spec.SourceImageURL,
		Config:    talkConfig{Ratio: spec.AspectRatio},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/talks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	status, err := d.do(req)
	if err != nil {
		return "", fmt.Errorf("create talk: %w", err)
	}
	return status.ID, nil
}

func (d *DID) Poll(ctx context.Context, externalID string, timeout, interval time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/talks/"+externalID, nil)
		if err != nil {
			return "", err
		}
		status, err := d.do(req)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				d.metrics.AvatarPoll("timeout")
				return "", ErrTimeout
			}
			d.metrics.AvatarPoll("error")
			return "", fmt.Errorf("poll talk %s: %w", externalID, err)
		}
		if status.ResultURL != "" {
			d.metrics.AvatarPoll("done")
			return status.ResultURL, nil
		}
		if status.Status == "error" || status.Status == "rejected" {
			d.metrics.AvatarPoll("failed")
			return "", fmt.Errorf("%w: talk %s: %s", ErrProviderError, externalID, providerMessage(status.Error))
		}
		d.metrics.AvatarPoll("pending")

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				d.metrics.AvatarPoll("timeout")
				return "", ErrTimeout
			}
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (d *DID) Fetch(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: download returned %d", ErrProviderError, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResult+1))
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	if int64(len(data)) > d.maxResult {
		return nil, fmt.Errorf("%w: result larger than %d bytes", ErrProviderError, d.maxResult)
	}
	return data, nil
}

// do sends an authenticated request and validates the talk document it returns.
func (d *DID) do(req *http.Request) (*talkStatus, error) {
	req.Header.Set("Authorization", d.authHeader())
	req.Header.Set("Accept", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderError, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", ErrProviderError)
	}
	if err := d.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: unexpected response: %v", ErrProviderError, err)
	}
	var status talkStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	return &status, nil
}

func providerMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "provider returned error"
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Description string `json:"description"`
		Kind        string `json:"kind"`
	}
	if json.Unmarshal(raw, &obj) == nil && (obj.Description != "" || obj.Kind != "") {
		return strings.TrimSpace(obj.Kind + " " + obj.Description)
	}
	return string(raw)
}
