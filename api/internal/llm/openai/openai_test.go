package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mistakepatch/api/internal/llm"
)

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func solution() llm.Request {
	return llm.Request{Solution: llm.Image{Data: []byte{0xFF, 0xD8, 0xFF}}, Subject: "math", HighlightMode: "ocr_box"}
}

func TestGenerate_SendsSchemaAndImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		format := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		schema := format["json_schema"].(map[string]any)
		assert.Equal(t, "analysis_result", schema["name"])

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		user := msgs[1].(map[string]any)["content"].([]any)
		require.Len(t, user, 2)
		img := user[1].(map[string]any)["image_url"].(map[string]any)
		assert.Contains(t, img["url"], "data:image/jpeg;base64,")

		_ = json.NewEncoder(w).Encode(completion("```json\n{\"score_total\": 6}\n```"))
	}))
	defer srv.Close()

	e := New("sk-test", "gpt-4o-mini", srv.URL+"/v1", time.Second)
	raw, err := e.Generate(context.Background(), solution())

	require.NoError(t, err)
	assert.JSONEq(t, `{"score_total": 6}`, string(raw))
}

func TestGenerate_RetriesServerErrorOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(completion(`{"score_total": 8}`))
	}))
	defer srv.Close()

	raw, err := New("k", "m", srv.URL+"/v1", time.Second).Generate(context.Background(), solution())
	require.NoError(t, err)
	assert.Equal(t, `{"score_total": 8}`, string(raw))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := New("k", "m", srv.URL+"/v1", time.Second).Generate(context.Background(), solution())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
