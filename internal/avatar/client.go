// Package avatar talks to the external talking-avatar renderer. A job is
// submitted, polled until it yields a result URL, and the rendered clip is
// fetched.
package avatar

import (
	"context"
	"errors"
	"time"
)

const (
	// MaxTextLength is the longest narration the renderer accepts per job.
	MaxTextLength = 10000

	DefaultVoiceID      = "en-US-JennyNeural"
	DefaultSourceImage  = "https://d-id-public-bucket.s3.amazonaws.com/or-roman.jpg"
	DefaultAspectRatio  = "16:9"
	DefaultPollTimeout  = 180 * time.Second
	DefaultPollInterval = 2 * time.Second
	maxResultBytes      = 512 << 20
)

var (
	ErrTextTooLong   = errors.New("narration exceeds provider text limit")
	ErrEmptyText     = errors.New("narration is empty")
	ErrTimeout       = errors.New("avatar job did not finish before the deadline")
	ErrProviderError = errors.New("avatar provider error")
)

type JobSpec struct {
	Text           string
	VoiceID        string
	SourceImageURL string
	AspectRatio    string
}

// withDefaults fills unset fields and rejects text the provider would refuse.
func (s JobSpec) withDefaults() (JobSpec, error) {
	if s.Text == "" {
		return s, ErrEmptyText
	}
	if len(s.Text) > MaxTextLength {
		return s, ErrTextTooLong
	}
	if s.VoiceID == "" {
		s.VoiceID = DefaultVoiceID
	}
	if s.SourceImageURL == "" {
		s.SourceImageURL = DefaultSourceImage
	}
	if s.AspectRatio == "" {
		s.AspectRatio = DefaultAspectRatio
	}
	return s, nil
}

type Client interface {
	// Submit starts a render and returns the provider's job id.
	Submit(ctx context.Context, spec JobSpec) (string, error)
	// Poll waits until the job yields a result URL. It fails with ErrTimeout
	// once timeout elapses and ErrProviderError if the provider reports failure.
	Poll(ctx context.Context, externalID string, timeout, interval time.Duration) (string, error)
	Fetch(ctx context.Context, resultURL string) ([]byte, error)
}
