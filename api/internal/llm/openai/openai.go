package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"mistakepatch/api/internal/llm"
	"mistakepatch/api/internal/util"
)

type Engine struct {
	Model  string
	client *goopenai.Client
}

// New builds a chat-completions engine; baseURL may be empty for the public API.
func New(key, model, baseURL string, timeout time.Duration) *Engine {
	cfg := goopenai.DefaultConfig(strings.TrimSpace(key))
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Engine{Model: strings.TrimSpace(model), client: goopenai.NewClientWithConfig(cfg)}
}

func (e *Engine) Name() string     { return "openai" }
func (e *Engine) GetModel() string { return e.Model }

func imagePart(img llm.Image) goopenai.ChatMessagePart {
	mime := img.Mime
	if mime == "" {
		mime, _ = util.SniffImageMime(img.Data)
	}
	return goopenai.ChatMessagePart{
		Type: goopenai.ChatMessagePartTypeImageURL,
		ImageURL: &goopenai.ChatMessageImageURL{
			URL:    util.MakeDataURL(mime, img.Data),
			Detail: goopenai.ImageURLDetailHigh,
		},
	}
}

func (e *Engine) request(req llm.Request) goopenai.ChatCompletionRequest {
	parts := []goopenai.ChatMessagePart{
		{Type: goopenai.ChatMessagePartTypeText, Text: llm.UserPrompt(req)},
		imagePart(req.Solution),
	}
	if req.Problem != nil && len(req.Problem.Data) > 0 {
		parts = append(parts, imagePart(*req.Problem))
	}
	return goopenai.ChatCompletionRequest{
		Model: e.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: llm.SystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, MultiContent: parts},
		},
		Temperature: 0,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
				Name:   "analysis_result",
				Schema: llm.SchemaJSON,
				Strict: true,
			},
		},
	}
}

// retryable: transport failures and 5xx. A 4xx will fail the same way again.
func retryable(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func (e *Engine) Generate(ctx context.Context, req llm.Request) ([]byte, error) {
	if len(req.Solution.Data) == 0 {
		return nil, errors.New("openai: solution image is empty")
	}
	body := e.request(req)

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := e.client.CreateChatCompletion(ctx, body)
		if err != nil {
			lastErr = fmt.Errorf("openai chat: %w", err)
			if !retryable(err) {
				break
			}
			time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
			continue
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("openai chat: empty response")
		}
		out := util.StripCodeFences(resp.Choices[0].Message.Content)
		if out == "" {
			return nil, errors.New("openai chat: empty content")
		}
		return []byte(out), nil
	}
	return nil, lastErr
}
