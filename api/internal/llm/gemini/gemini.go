package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"mistakepatch/api/internal/llm"
	"mistakepatch/api/internal/util"
)

type Engine struct {
	APIKey string
	Model  string
}

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func blob(img llm.Image) *genai.Blob {
	mime := img.Mime
	if mime == "" {
		mime, _ = util.SniffImageMime(img.Data)
	}
	return &genai.Blob{MIMEType: mime, Data: img.Data}
}

func parts(req llm.Request) []genai.Part {
	out := []genai.Part{
		genai.Text(llm.UserPrompt(req)),
		blob(req.Solution),
	}
	if req.Problem != nil && len(req.Problem.Data) > 0 {
		out = append(out, blob(*req.Problem))
	}
	return out
}

// Generate asks for a JSON response with the grading prompt and schema as system instruction.
func (e *Engine) Generate(ctx context.Context, req llm.Request) ([]byte, error) {
	if e.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	if len(req.Solution.Data) == 0 {
		return nil, errors.New("gemini: solution image is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(llm.SystemPrompt),
			genai.Text("\nanalysis_result.schema.json:\n" + string(llm.SchemaJSON)),
		},
	}

	// retry transient failures
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := m.GenerateContent(ctx, parts(req)...)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
			continue
		}
		txt := util.StripCodeFences(firstText(resp))
		if txt == "" {
			return nil, fmt.Errorf("gemini: empty response")
		}
		return []byte(txt), nil
	}
	return nil, fmt.Errorf("gemini generate: %w", lastErr)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
