package llm

import (
	"context"
	"errors"
	"fmt"
)

type Mode string

const (
	ModeSummary  Mode = "summary"
	ModeDetailed Mode = "detailed"
	ModeTest     Mode = "test"
)

type Style string

const (
	StyleProfessor Style = "professor"
	StyleVisual    Style = "visual"
)

var (
	ErrInvalidMode  = errors.New("invalid script mode")
	ErrInvalidStyle = errors.New("invalid script style")
)

// Completer is the single chat call the script writer needs.
type Completer interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Generator produces the two texts a generation job needs.
type Generator interface {
	GenerateScript(ctx context.Context, source string, mode Mode, style Style) (string, error)
	GenerateSceneBreakdown(ctx context.Context, script string) (string, error)
}

type prompt struct {
	system string
	user   string
}

var modePrompts = map[Mode]prompt{
	ModeSummary: {
		system: "You are an expert educator creating concise, engaging lecture scripts. Focus on key concepts and main ideas.",
		user:   "Create a summary lecture script covering the main points and key concepts from these notes. Keep it concise but comprehensive.",
	},
	ModeDetailed: {
		system: "You are an expert educator creating detailed, comprehensive lecture scripts. Explain concepts thoroughly with examples.",
		user:   "Create a detailed lecture script that thoroughly explains all concepts from these notes. Include examples and explanations.",
	},
	ModeTest: {
		system: "You are an expert educator creating test preparation lecture scripts. Focus on likely exam questions and solutions.",
		user:   "Create a test prep lecture script. Identify key topics, generate likely exam questions, and provide clear solutions with explanations.",
	},
}

var styleModifiers = map[Style]string{
	StyleProfessor: "Format: Write as if you are a professor teaching in front of a class. Use conversational language, engage students, and explain as you would write on a board.",
	StyleVisual:    "Format: Write in a way that can be visualized. Include descriptions of diagrams, charts, or visual metaphors that would help explain concepts.",
}

const breakdownSystem = "You are a video production assistant. Break down lecture scripts into scenes with timing and visual descriptions."

const breakdownInstructions = `Break this lecture script into scenes for video production. For each scene, provide:
1. Scene number
2. Duration (in seconds)
3. Narration text
4. Visual description

Use exactly this layout for every scene:
Scene N: <title>
Duration (in seconds): <seconds>
Narration: <what the presenter says>
Visual: <what is shown on screen>`

type ScriptWriter struct {
	llm Completer
}

func NewScriptWriter(c Completer) *ScriptWriter {
	return &ScriptWriter{llm: c}
}

var _ Generator = (*ScriptWriter)(nil)

// ParseMode maps an option string to a Mode; empty means summary.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeSummary, nil
	}
	m := Mode(s)
	if _, ok := modePrompts[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// ParseStyle maps an option string to a Style; empty means professor.
func ParseStyle(s string) (Style, error) {
	if s == "" {
		return StyleProfessor, nil
	}
	st := Style(s)
	if _, ok := styleModifiers[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStyle, s)
	}
	return st, nil
}

func (w *ScriptWriter) GenerateScript(ctx context.Context, source string, mode Mode, style Style) (string, error) {
	p, ok := modePrompts[mode]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	modifier, ok := styleModifiers[style]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStyle, style)
	}
	user := p.user + "\n\n" + modifier + "\n\nNotes:\n" + source
	out, err := w.llm.Generate(ctx, p.system, user)
	if err != nil {
		return "", fmt.Errorf("script generation: %w", err)
	}
	return out, nil
}

func (w *ScriptWriter) GenerateSceneBreakdown(ctx context.Context, script string) (string, error) {
	out, err := w.llm.Generate(ctx, breakdownSystem, breakdownInstructions+"\n\nScript:\n"+script)
	if err != nil {
		return "", fmt.Errorf("scene breakdown: %w", err)
	}
	return out, nil
}
