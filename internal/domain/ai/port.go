package ai

import "context"

// Prompt is one completion request.
type Prompt struct {
	Model  string
	System string
	User   string
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Client port for the hosted completion service.
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}
