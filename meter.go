package promptforge

import "time"

// Meter observes service operations for monitoring/logging.
type Meter interface {
	// OnRequest is called when a match or generate operation begins.
	OnRequest(event RequestEvent)

	// OnResult is called when the operation finishes.
	OnResult(event ResultEvent)
}

// RequestEvent describes an operation about to hit the LLM provider.
type RequestEvent struct {
	Operation string // "match" or "generate"
	UserID    string
	Framework string
	Model     string
	RequestID string
}

// ResultEvent describes the outcome of an operation.
type ResultEvent struct {
	Operation string
	UserID    string
	Framework string
	Model     string
	Success   bool
	Duration  time.Duration
	Usage     Usage
	Error     error
}
