package avatar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stub renders nothing. It is used when no provider key is configured and in
// tests. Narration containing FailOn makes Poll report a provider error.
type Stub struct {
	FailOn string

	mu    sync.Mutex
	seq   int
	texts map[string]string
}

func NewStub() *Stub {
	return &Stub{texts: make(map[string]string)}
}

var _ Client = (*Stub)(nil)

func (s *Stub) Submit(_ context.Context, spec JobSpec) (string, error) {
	spec, err := spec.withDefaults()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("stub-%d", s.seq)
	s.texts[id] = spec.Text
	return id, nil
}

func (s *Stub) Poll(ctx context.Context, externalID string, _, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	text, ok := s.texts[externalID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown job %s", ErrProviderError, externalID)
	}
	if s.FailOn != "" && strings.Contains(text, s.FailOn) {
		return "", fmt.Errorf("%w: job %s rejected", ErrProviderError, externalID)
	}
	return "stub://" + externalID + ".mp4", nil
}

func (s *Stub) Fetch(ctx context.Context, resultURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := strings.TrimSuffix(strings.TrimPrefix(resultURL, "stub://"), ".mp4")
	s.mu.Lock()
	text, ok := s.texts[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown result %s", ErrProviderError, resultURL)
	}
	return []byte("STUBMP4:" + text), nil
}

// Submitted returns how many jobs have been submitted.
func (s *Stub) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
