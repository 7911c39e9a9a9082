package generation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Scene is one narrated segment of the lecture video.
type Scene struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	Narration   string  `json:"narration"`
	Visual      string  `json:"visual,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

var (
	sceneHeaderRe = regexp.MustCompile(`(?i)^\s*(?:scene\s*)?(\d+)\s*[:.\-)]?\s*(.*)$`)
	durationRe    = regexp.MustCompile(`(?i)^\s*duration\s*(?:\(\s*in\s+seconds\s*\))?\s*[:=\-]\s*(\d+(?:\.\d+)?)`)
	labelRe       = regexp.MustCompile(`(?i)^\s*(narration|voice|text|visual|description)\s*[:=\-]\s*(.*)$`)
)

type sceneBuilder struct {
	number    int
	title     string
	narration []string
	visual    []string
	duration  float64
}

type sceneParser struct {
	scenes []Scene
	cur    *sceneBuilder
}

// ParseScenes turns a free-form scene breakdown into scenes. A header line
// ("Scene 2: Title", "3. Title") starts a scene, labelled lines fill its
// fields and unlabelled lines count as narration. Text before the first
// header forms an implicit first scene. Scenes without narration are dropped.
func ParseScenes(text string) []Scene {
	p := &sceneParser{}
	for _, raw := range strings.Split(text, "\n") {
		p.line(cleanLine(raw))
	}
	p.flush()

	for i := range p.scenes {
		if p.scenes[i].Title == "" {
			p.scenes[i].Title = fmt.Sprintf("Scene %d", i+1)
		}
	}
	return p.scenes
}

func (p *sceneParser) line(ln string) {
	if ln == "" {
		return
	}
	if m := sceneHeaderRe.FindStringSubmatch(ln); m != nil {
		p.flush()
		n, _ := strconv.Atoi(m[1])
		title := strings.TrimSpace(m[2])
		if title == "" {
			title = fmt.Sprintf("Scene %d", n)
		}
		p.cur = &sceneBuilder{number: n, title: title}
		return
	}

	cur := p.current()
	if m := durationRe.FindStringSubmatch(ln); m != nil {
		cur.duration, _ = strconv.ParseFloat(m[1], 64)
		return
	}
	if m := labelRe.FindStringSubmatch(ln); m != nil {
		body := strings.TrimSpace(m[2])
		if body == "" {
			return
		}
		switch strings.ToLower(m[1]) {
		case "visual", "description":
			cur.visual = append(cur.visual, body)
		default:
			cur.narration = append(cur.narration, body)
		}
		return
	}
	cur.narration = append(cur.narration, ln)
}

// current returns the scene being built, opening the implicit one if needed.
func (p *sceneParser) current() *sceneBuilder {
	if p.cur == nil {
		p.cur = &sceneBuilder{}
	}
	return p.cur
}

func (p *sceneParser) flush() {
	b := p.cur
	p.cur = nil
	if b == nil {
		return
	}
	narration := strings.Join(b.narration, " ")
	if narration == "" {
		return
	}
	p.scenes = append(p.scenes, Scene{
		Number:      b.number,
		Title:       b.title,
		Narration:   narration,
		Visual:      strings.Join(b.visual, " "),
		DurationSec: b.duration,
	})
}

// cleanLine strips markdown emphasis and heading markers LLMs like to add.
func cleanLine(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(s, "\r"))
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.TrimLeft(s, "#> ")
	return strings.TrimSpace(s)
}
