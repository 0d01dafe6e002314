package llm

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

	"policyrag/internal/errs"
)

type chatStub struct {
	respond func(w http.ResponseWriter, content string, maxTokens int)
	calls   atomic.Int32
}

func (s *chatStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	var req struct {
		MaxTokens int `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	content := ""
	if len(req.Messages) > 0 {
		content = req.Messages[0].Content
	}
	s.respond(w, content, req.MaxTokens)
}

func writeChatCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func newGenerationClient(t *testing.T, stub http.Handler) *GenerationClient {
	t.Helper()
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)
	t.Setenv("TEST_API_KEY", "test-key")
	c, err := NewGenerationClient(GenerationConfig{
		BaseURL:   ts.URL,
		APIKeyEnv: "TEST_API_KEY",
		Timeout:   5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNewGenerationClientRequiresKey(t *testing.T) {
	t.Setenv("EMPTY_KEY_ENV", "")
	_, err := NewGenerationClient(GenerationConfig{APIKeyEnv: "EMPTY_KEY_ENV"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestGenerateForwardsPromptAndTokenCap(t *testing.T) {
	var gotPrompt string
	var gotMaxTokens int
	stub := &chatStub{respond: func(w http.ResponseWriter, content string, maxTokens int) {
		gotPrompt, gotMaxTokens = content, maxTokens
		writeChatCompletion(w, "  a grounded answer  ")
	}}
	c := newGenerationClient(t, stub)

	out, err := c.Generate(context.Background(), "what is the policy?", 128)
	require.NoError(t, err)
	assert.Equal(t, "a grounded answer", out, "output is trimmed")
	assert.Equal(t, "what is the policy?", gotPrompt)
	assert.Equal(t, 128, gotMaxTokens)
}

func TestGenerateEmptyChoicesIsValid(t *testing.T) {
	stub := &chatStub{respond: func(w http.ResponseWriter, _ string, _ int) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-test", "object": "chat.completion", "choices": []any{},
		})
	}}
	c := newGenerationClient(t, stub)

	out, err := c.Generate(context.Background(), "q", 16)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	stub := &chatStub{}
	stub.respond = func(w http.ResponseWriter, _ string, _ int) {
		if stub.calls.Load() == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		writeChatCompletion(w, "second try")
	}
	c := newGenerationClient(t, stub)

	out, err := c.Generate(context.Background(), "q", 16)
	require.NoError(t, err)
	assert.Equal(t, "second try", out)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestGenerateExhaustedRetriesSurfaceExternalError(t *testing.T) {
	stub := &chatStub{respond: func(w http.ResponseWriter, _ string, _ int) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}}
	c := newGenerationClient(t, stub)

	_, err := c.Generate(context.Background(), "q", 16)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternal)
	assert.Equal(t, int32(maxRetries+1), stub.calls.Load())
}
