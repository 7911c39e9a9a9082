package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type mockCompleter struct {
	mu     sync.Mutex
	system []string
	user   []string
	reply  string
	err    error
}

func (m *mockCompleter) Generate(_ context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.system = append(m.system, system)
	m.user = append(m.user, user)
	return m.reply, m.err
}

func TestGenerateScript_PromptByModeAndStyle(t *testing.T) {
	tests := []struct {
		mode       Mode
		style      Style
		wantSystem string
		wantUser   string
	}{
		{ModeSummary, StyleProfessor, "concise, engaging", "professor teaching"},
		{ModeDetailed, StyleVisual, "detailed, comprehensive", "visual metaphors"},
		{ModeTest, StyleProfessor, "test preparation", "likely exam questions"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+string(tt.style), func(t *testing.T) {
			m := &mockCompleter{reply: "script"}
			w := NewScriptWriter(m)

			out, err := w.GenerateScript(context.Background(), "photosynthesis notes", tt.mode, tt.style)
			if err != nil {
				t.Fatalf("GenerateScript: %v", err)
			}
			if out != "script" {
				t.Errorf("out = %q", out)
			}
			if !strings.Contains(m.system[0], tt.wantSystem) {
				t.Errorf("system = %q", m.system[0])
			}
			if !strings.Contains(m.user[0], tt.wantUser) || !strings.HasSuffix(m.user[0], "Notes:\nphotosynthesis notes") {
				t.Errorf("user = %q", m.user[0])
			}
		})
	}
}

func TestGenerateScript_InvalidOptions(t *testing.T) {
	w := NewScriptWriter(&mockCompleter{})
	if _, err := w.GenerateScript(context.Background(), "x", "poem", StyleVisual); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("mode err = %v", err)
	}
	if _, err := w.GenerateScript(context.Background(), "x", ModeSummary, "mime"); !errors.Is(err, ErrInvalidStyle) {
		t.Errorf("style err = %v", err)
	}
}

func TestGenerateSceneBreakdown_WrapsError(t *testing.T) {
	cause := errors.New("upstream down")
	w := NewScriptWriter(&mockCompleter{err: cause})
	_, err := w.GenerateSceneBreakdown(context.Background(), "script")
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseModeAndStyle(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeSummary {
		t.Errorf("ParseMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseMode("essay"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("ParseMode(essay) err = %v", err)
	}
	if s, err := ParseStyle("visual"); err != nil || s != StyleVisual {
		t.Errorf("ParseStyle(visual) = %v, %v", s, err)
	}
	if _, err := ParseStyle("x"); !errors.Is(err, ErrInvalidStyle) {
		t.Errorf("ParseStyle(x) err = %v", err)
	}
}
