// Package llm defines the provider-neutral completion interface used by the
// summarization and profile pipelines, plus provider adapters in
// subpackages.
package llm

import "context"

// Request is one completion request. Model and MaxTokens may be zero to use
// the provider's defaults.
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// Client provides a provider-neutral interface for making LLM API calls.
// Implementations handle provider-specific details internally.
type Client interface {
	// Complete sends a request and returns the response text.
	Complete(ctx context.Context, req *Request) (string, error)
}

// ClientFunc adapts a function to the Client interface, mainly for tests.
type ClientFunc func(ctx context.Context, req *Request) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}
