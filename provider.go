package promptforge

import "context"

// Provider is the interface that LLM provider adapters must implement.
// Adapters perform a single request/response exchange and classify failures
// as *UpstreamError values; retry behavior is layered on top by WithRetry.
type Provider interface {
	// Name returns the provider identifier (e.g. "deepseek", "gemini").
	Name() string

	// ChatCompletion performs a synchronous chat completion.
	ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Close releases pooled connections held by the adapter.
	Close() error
}
