package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mistakepatch/api/internal/llm"
)

func TestParts_SolutionAndProblem(t *testing.T) {
	req := llm.Request{
		Solution: llm.Image{Data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
		Problem:  &llm.Image{Data: []byte{0xFF, 0xD8}, Mime: "image/jpeg"},
		Subject:  "physics",
	}

	got := parts(req)

	require.Len(t, got, 3)
	assert.Contains(t, string(got[0].(genai.Text)), "subject=physics")
	assert.Equal(t, "image/png", got[1].(*genai.Blob).MIMEType)
	assert.Equal(t, "image/jpeg", got[2].(*genai.Blob).MIMEType)
}

func TestFirstText(t *testing.T) {
	assert.Empty(t, firstText(nil))
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: nil},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"score_total":7}`)}}},
	}}
	assert.Equal(t, `{"score_total":7}`, firstText(resp))
}

func TestGenerate_RequiresKey(t *testing.T) {
	_, err := New(" ", "gemini-2.5-flash").Generate(context.Background(), llm.Request{Solution: llm.Image{Data: []byte{1}}})
	assert.Error(t, err)
}
