package generation

import (
	"testing"
)

func TestParseScenes_LabelledBreakdown(t *testing.T) {
	text := `Scene 1: Introduction
Duration (in seconds): 30
Narration: Welcome to today's lecture on cells.
Visual: A microscope zooming in.

Scene 2: The Nucleus
Duration (in seconds): 45.5
Narration: The nucleus stores DNA.
It controls the cell.
Description: Diagram of a nucleus.`

	got := ParseScenes(text)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	want := []Scene{
		{Number: 1, Title: "Introduction", Narration: "Welcome to today's lecture on cells.", Visual: "A microscope zooming in.", DurationSec: 30},
		{Number: 2, Title: "The Nucleus", Narration: "The nucleus stores DNA. It controls the cell.", Visual: "Diagram of a nucleus.", DurationSec: 45.5},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scene %d = %+v\nwant %+v", i, got[i], want[i])
		}
	}
}

func TestParseScenes_HeaderVariants(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantTitle string
		wantNum   int
	}{
		{"scene colon", "Scene 3: Wrap up", "Wrap up", 3},
		{"numbered dot", "4. Summary", "Summary", 4},
		{"paren", "5) Quiz", "Quiz", 5},
		{"dash", "scene 6 - Outro", "Outro", 6},
		{"bare number", "7", "Scene 7", 7},
		{"markdown", "**Scene 8: Bold**", "Bold", 8},
		{"heading", "### Scene 9: Heading", "Heading", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseScenes(tt.line + "\nNarration: hello")
			if len(got) != 1 {
				t.Fatalf("len = %d: %+v", len(got), got)
			}
			if got[0].Title != tt.wantTitle || got[0].Number != tt.wantNum {
				t.Errorf("got %q/%d, want %q/%d", got[0].Title, got[0].Number, tt.wantTitle, tt.wantNum)
			}
		})
	}
}

func TestParseScenes_NoHeaderIsOneImplicitScene(t *testing.T) {
	got := ParseScenes("Just a paragraph of narration.\n\nAnd a second line.")
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Title != "Scene 1" || got[0].Narration != "Just a paragraph of narration. And a second line." {
		t.Errorf("scene = %+v", got[0])
	}
}

func TestParseScenes_PreambleBeforeFirstHeader(t *testing.T) {
	got := ParseScenes("Here is your breakdown.\nScene 1: Start\nNarration: go")
	if len(got) != 2 {
		t.Fatalf("len = %d: %+v", len(got), got)
	}
	if got[0].Narration != "Here is your breakdown." || got[0].Title != "Scene 1" {
		t.Errorf("implicit scene = %+v", got[0])
	}
	if got[1].Title != "Start" {
		t.Errorf("second scene = %+v", got[1])
	}
}

func TestParseScenes_DropsScenesWithoutNarration(t *testing.T) {
	text := `Scene 1: Visual only
Visual: a chart
Duration (in seconds): 10
Scene 2: Spoken
Narration: words`
	got := ParseScenes(text)
	if len(got) != 1 || got[0].Title != "Spoken" {
		t.Fatalf("got %+v", got)
	}
}

func TestParseScenes_DuplicateHeadersStartNewScenes(t *testing.T) {
	text := `Scene 1: A
Narration: first
Scene 1: B
Narration: second`
	got := ParseScenes(text)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Narration != "first" || got[1].Narration != "second" {
		t.Errorf("got %+v", got)
	}
}

func TestParseScenes_EmptyInput(t *testing.T) {
	if got := ParseScenes("  \n\r\n"); len(got) != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestParseScenes_CRLF(t *testing.T) {
	got := ParseScenes("Scene 1: Intro\r\nVoice: hi there\r\n")
	if len(got) != 1 || got[0].Narration != "hi there" {
		t.Fatalf("got %+v", got)
	}
}
