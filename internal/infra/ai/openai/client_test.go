package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/vulnrisk/internal/domain/ai"
)

type captured struct {
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	MaxCompletion  int    `json:"max_completion_tokens"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func server(t *testing.T, status int, body string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okBody = `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"# Threat model"},"finish_reason":"stop"}]}`

func TestComplete_SendsPromptAndReturnsContent(t *testing.T) {
	var got captured
	srv := server(t, http.StatusOK, okBody, &got)
	c := NewClientWithBaseURL("sk-test", "", srv.URL+"/v1")

	out, err := c.Complete(context.Background(), ai.Prompt{System: "sys", User: "usr", JSON: true})

	require.NoError(t, err)
	assert.Equal(t, "# Threat model", out)
	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, maxTokens, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "usr", got.Messages[1].Content)
}

func TestComplete_ReasoningModelOptions(t *testing.T) {
	var got captured
	srv := server(t, http.StatusOK, okBody, &got)
	c := NewClientWithBaseURL("sk-test", "o1-mini", srv.URL+"/v1")

	_, err := c.Complete(context.Background(), ai.Prompt{System: "sys", User: "usr"})

	require.NoError(t, err)
	assert.Equal(t, maxTokens, got.MaxCompletion)
	assert.Zero(t, got.MaxTokens)
	assert.Nil(t, got.ResponseFormat)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestComplete_RateLimitIsQuota(t *testing.T) {
	srv := server(t, http.StatusTooManyRequests,
		`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, nil)
	c := NewClientWithBaseURL("sk-test", "gpt-4o", srv.URL+"/v1")

	_, err := c.Complete(context.Background(), ai.Prompt{User: "u"})

	require.Error(t, err)
	assert.Truef(t, errors.Is(err, ai.ErrQuotaExceeded), "%v", err)
}

func TestComplete_ServerErrorIsNotQuota(t *testing.T) {
	srv := server(t, http.StatusInternalServerError,
		`{"error":{"message":"boom","type":"server_error"}}`, nil)
	c := NewClientWithBaseURL("sk-test", "gpt-4o", srv.URL+"/v1")

	_, err := c.Complete(context.Background(), ai.Prompt{User: "u"})

	require.Error(t, err)
	assert.Falsef(t, errors.Is(err, ai.ErrQuotaExceeded), "%v", err)
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := server(t, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, nil)
	c := NewClientWithBaseURL("sk-test", "gpt-4o", srv.URL+"/v1")

	_, err := c.Complete(context.Background(), ai.Prompt{User: "u"})

	assert.Truef(t, errors.Is(err, ai.ErrEmptyResponse), "%v", err)
}
