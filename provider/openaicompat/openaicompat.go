// Package openaicompat is a chat completion adapter for OpenAI-compatible
// APIs. Works with DeepSeek, OpenAI, Together, Ollama, and others exposing
// the /chat/completions shape.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/promptforge/promptforge"
)

// Provider is a universal OpenAI-compatible API adapter. It performs one
// attempt per call; retry policy belongs to the caller.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ promptforge.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: defaultClient(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDeepSeek creates a provider for DeepSeek.
func NewDeepSeek(apiKey string, opts ...Option) *Provider {
	return New("deepseek", "https://api.deepseek.com/v1", apiKey, opts...)
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(apiKey string, opts ...Option) *Provider {
	return New("openai", "https://api.openai.com/v1", apiKey, opts...)
}

// defaultClient is tuned for long completion calls against a single host.
func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost: 4,
			MaxConnsPerHost:     8,
		},
	}
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) ChatCompletion(ctx context.Context, req promptforge.ChatRequest) (promptforge.ChatResponse, error) {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}
	body := apiRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	httpResp, err := p.doRequest(ctx, body)
	if err != nil {
		return promptforge.ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return promptforge.ChatResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return promptforge.ChatResponse{}, &promptforge.UpstreamError{
			Kind:   promptforge.UpstreamUnknown,
			Detail: "decode response",
			Err:    err,
		}
	}

	if len(resp.Choices) == 0 {
		return promptforge.ChatResponse{}, &promptforge.UpstreamError{
			Kind:   promptforge.UpstreamUnknown,
			Detail: "empty choices in response",
		}
	}

	return promptforge.ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: promptforge.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) doRequest(ctx context.Context, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("promptforge: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("promptforge: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Transport-level failure: connection refused, DNS, timeout.
		return nil, &promptforge.UpstreamError{
			Kind:   promptforge.UpstreamTransient,
			Detail: "transport failure",
			Err:    err,
		}
	}
	return resp, nil
}

// mapHTTPError classifies non-2xx responses. The upstream saw and rejected
// the request, so these are never retried.
func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	return &promptforge.UpstreamError{
		Kind:   promptforge.UpstreamRejected,
		Status: resp.StatusCode,
		Detail: strings.TrimSpace(string(body)),
	}
}

// Close releases idle connections held by the HTTP client.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
