package openai

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/vulnrisk/internal/domain/ai"
)

const (
	DefaultModel = "gpt-4o"
	maxTokens    = 4096
)

type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

// NewClientWithBaseURL points the client at an OpenAI-compatible endpoint.
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model}
}

// Complete implements ai.Client. Rate limit and quota responses are marked
// with ai.ErrQuotaExceeded.
func (c *Client) Complete(ctx context.Context, p ai.Prompt) (string, error) {
	model := p.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = DefaultModel
	}

	var msgs []openai.ChatCompletionMessage
	if p.System != "" {
		// o1-class models reject the system role
		role := openai.ChatMessageRoleSystem
		if strings.HasPrefix(model, "o1") {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: p.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	req := openai.ChatCompletionRequest{Model: model, Messages: msgs}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoning(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		if quota(err) {
			return "", errors.Mark(errors.Wrap(err, "chat completion"), ai.ErrQuotaExceeded)
		}
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.Wrapf(ai.ErrEmptyResponse, "model %s", model)
	}
	return resp.Choices[0].Message.Content, nil
}

func isReasoning(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func quota(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Type == "insufficient_quota"
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
