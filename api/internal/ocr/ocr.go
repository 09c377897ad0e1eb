// Package ocr reads the solution sheet: plain text, per-line text and
// normalized line boxes for highlight placement.
package ocr

import (
	"context"
	"strings"

	"mistakepatch/api/internal/grading"
)

const (
	MaxTextChars    = 1500
	MaxLines        = 12
	MaxCharsPerLine = 120
)

type Line struct {
	Text string
	Box  *grading.LineBox
}

type Page struct {
	Text  string
	Lines []Line
}

type Reader interface {
	Name() string
	Read(ctx context.Context, image []byte) (Page, error)
}

func squash(s string) string { return strings.Join(strings.Fields(s), " ") }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// PlainText collapses whitespace and caps the length.
func (p Page) PlainText() string {
	text := p.Text
	if strings.TrimSpace(text) == "" {
		parts := make([]string, 0, len(p.Lines))
		for _, l := range p.Lines {
			parts = append(parts, l.Text)
		}
		text = strings.Join(parts, " ")
	}
	return truncate(squash(text), MaxTextChars)
}

// LineTexts returns up to MaxLines non-empty lines, whitespace-collapsed.
func (p Page) LineTexts() []string {
	var raw []string
	if len(p.Lines) > 0 {
		for _, l := range p.Lines {
			raw = append(raw, l.Text)
		}
	} else {
		raw = strings.Split(p.Text, "\n")
	}
	out := make([]string, 0, MaxLines)
	for _, s := range raw {
		s = squash(s)
		if s == "" {
			continue
		}
		out = append(out, truncate(s, MaxCharsPerLine))
		if len(out) == MaxLines {
			break
		}
	}
	return out
}

// Boxes returns the line boxes reported by the reader, in reading order.
func (p Page) Boxes() []grading.LineBox {
	var out []grading.LineBox
	for _, l := range p.Lines {
		if l.Box != nil && l.Box.W > 0 && l.Box.H > 0 {
			out = append(out, *l.Box)
		}
	}
	return out
}

var fallbackBoxes = []grading.LineBox{
	{X: 0.5, Y: 0.20, W: 0.75, H: 0.1},
	{X: 0.5, Y: 0.33, W: 0.75, H: 0.1},
	{X: 0.5, Y: 0.46, W: 0.75, H: 0.1},
	{X: 0.5, Y: 0.59, W: 0.75, H: 0.1},
	{X: 0.5, Y: 0.72, W: 0.72, H: 0.1},
	{X: 0.5, Y: 0.85, W: 0.70, H: 0.1},
}

// FallbackBoxes are fixed line positions used when nothing could be detected.
func FallbackBoxes(n int) []grading.LineBox {
	n = min(max(n, 0), len(fallbackBoxes))
	return append([]grading.LineBox(nil), fallbackBoxes[:n]...)
}

// SuggestBoxes prefers reader boxes, then the ink-line detector, then the fixed fallback.
// It never returns an empty slice for n > 0.
func SuggestBoxes(page Page, image []byte, n int) []grading.LineBox {
	if n <= 0 {
		return nil
	}
	if boxes := page.Boxes(); len(boxes) > 0 {
		if len(boxes) > n {
			boxes = boxes[:n]
		}
		return boxes
	}
	if boxes, err := DetectInkLines(image, n); err == nil && len(boxes) > 0 {
		return boxes
	}
	return FallbackBoxes(n)
}

// Static serves fixed text. Used when no OCR backend is configured and by the offline grader.
type Static struct {
	Text string
}

func (Static) Name() string { return "static" }

func (s Static) Read(_ context.Context, _ []byte) (Page, error) {
	page := Page{Text: s.Text}
	for _, l := range strings.Split(s.Text, "\n") {
		if strings.TrimSpace(l) != "" {
			page.Lines = append(page.Lines, Line{Text: l})
		}
	}
	return page, nil
}
