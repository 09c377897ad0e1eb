// Package llm is the generation side of grading: it asks a vision model for
// candidate results and hands back the raw JSON of every run.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable means no provider is configured; the pipeline goes straight to the fallback payload.
var ErrUnavailable = errors.New("llm: no provider configured")

type Image struct {
	Data []byte
	Mime string
}

type Request struct {
	Solution      Image
	Problem       *Image
	Subject       string // math | physics
	HighlightMode string // tap | ocr_box | region_box
}

type Engine interface {
	Name() string
	GetModel() string
	// Generate returns one raw candidate, typically a JSON object as text.
	Generate(ctx context.Context, req Request) ([]byte, error)
}

type Engines struct {
	OpenAI Engine
	Gemini Engine
}

func (e *Engines) GetEngine(name string) (Engine, error) {
	var eng Engine
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gpt", "openai":
		eng = e.OpenAI
	case "gemini":
		eng = e.Gemini
	case "", "none":
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("unknown llm provider %q; use 'openai' or 'gemini'", name)
	}
	if eng == nil {
		return nil, ErrUnavailable
	}
	return eng, nil
}
