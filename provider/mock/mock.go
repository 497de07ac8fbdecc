// Package mock provides a configurable in-memory provider for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptforge/promptforge"
)

// Provider is a mock LLM provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	callCount    atomic.Int64
	staticErr    error
	usage        promptforge.Usage
	responseFunc func(promptforge.ChatRequest) (promptforge.ChatResponse, error)

	mu       sync.Mutex
	errQueue []error
}

var _ promptforge.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name: "mock",
		usage: promptforge.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithErrors queues errors to be returned in order, one per call. A nil
// entry means that call succeeds. Once the queue is drained, calls succeed.
func WithErrors(errs ...error) Option {
	return func(p *Provider) { p.errQueue = errs }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u promptforge.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(promptforge.ChatRequest) (promptforge.ChatResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ChatCompletion(ctx context.Context, req promptforge.ChatRequest) (promptforge.ChatResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return promptforge.ChatResponse{}, ctx.Err()
		}
	}

	p.callCount.Add(1)

	if p.staticErr != nil {
		return promptforge.ChatResponse{}, p.staticErr
	}

	if err := p.nextQueuedErr(); err != nil {
		return promptforge.ChatResponse{}, err
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return promptforge.ChatResponse{
		ID:           "mock-response-id",
		Model:        req.Model,
		Content:      "Hello from mock provider",
		FinishReason: "stop",
		Usage:        p.usage,
	}, nil
}

func (p *Provider) nextQueuedErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errQueue) == 0 {
		return nil
	}
	err := p.errQueue[0]
	p.errQueue = p.errQueue[1:]
	return err
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

func (p *Provider) Close() error { return nil }
