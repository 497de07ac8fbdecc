// Package matcher recommends prompt-engineering frameworks for free-text
// requirements by asking an LLM to classify against the catalog summary.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promptforge/promptforge"
)

const (
	// Classification is cheap and should be deterministic-ish.
	temperature = 0.3
	maxTokens   = 100

	maxCandidates = 3
)

const systemPrompt = "You are a prompt engineering expert, skilled at " +
	"analyzing user requirements and recommending suitable frameworks."

// LLMMatcher classifies user input against the framework summary table via
// a single low-temperature completion call.
type LLMMatcher struct {
	provider promptforge.Provider
	catalog  promptforge.Catalog
	model    string
	logger   *slog.Logger
}

var _ promptforge.Matcher = (*LLMMatcher)(nil)

// Option configures an LLMMatcher.
type Option func(*LLMMatcher)

// WithLogger sets the matcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *LLMMatcher) { m.logger = logger }
}

// New creates a matcher backed by the given provider and catalog.
func New(provider promptforge.Provider, catalog promptforge.Catalog, model string, opts ...Option) *LLMMatcher {
	m := &LLMMatcher{
		provider: provider,
		catalog:  catalog,
		model:    model,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns one to three framework candidates ordered by fit. A provider
// failure degrades to the default recommendation instead of surfacing: a
// wrong-but-usable suggestion beats an error on this path.
func (m *LLMMatcher) Match(ctx context.Context, input string) ([]promptforge.FrameworkCandidate, error) {
	resp, err := m.provider.ChatCompletion(ctx, promptforge.ChatRequest{
		Model: m.model,
		Messages: []promptforge.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: m.classificationPrompt(input)},
		},
		Temperature: promptforge.Float64Ptr(temperature),
		MaxTokens:   promptforge.IntPtr(maxTokens),
	})
	if err != nil {
		m.logger.Warn("intent analysis failed, using default recommendation", "error", err)
		return defaultCandidates(), nil
	}

	ids := parseFrameworkIDs(resp.Content)
	if len(ids) == 0 {
		m.logger.Warn("intent analysis returned no usable ids", "content", resp.Content)
		return defaultCandidates(), nil
	}

	candidates := make([]promptforge.FrameworkCandidate, 0, len(ids))
	for i, id := range ids {
		candidates = append(candidates, promptforge.FrameworkCandidate{
			ID:          id,
			Name:        id,
			Description: fmt.Sprintf("The %s framework, matched to the stated requirements", id),
			Score:       1.0 - float64(i)*0.1,
			Reasoning:   fmt.Sprintf("%s fits this scenario best based on the input analysis", id),
		})
	}

	m.logger.Info("matched frameworks", "count", len(candidates), "ids", ids)
	return candidates, nil
}

func (m *LLMMatcher) classificationPrompt(input string) string {
	return fmt.Sprintf(`You are a prompt engineering expert. Analyze the user's requirements and pick the 1-3 most suitable frameworks from the list below.

Framework list:
%s

User requirements:
%s

Return only the 1-3 best framework IDs, comma separated, with no other content.
Example: RACEF,Chain-of-Thought`, m.catalog.Summary(), input)
}

// parseFrameworkIDs splits the model's comma-separated reply, dropping blank
// entries and capping at three ids.
func parseFrameworkIDs(content string) []string {
	var ids []string
	for _, part := range strings.Split(content, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		ids = append(ids, id)
		if len(ids) == maxCandidates {
			break
		}
	}
	return ids
}

func defaultCandidates() []promptforge.FrameworkCandidate {
	return []promptforge.FrameworkCandidate{{
		ID:          "RACEF",
		Name:        "RACEF Framework",
		Description: "General-purpose brainstorming and idea generation framework",
		Score:       1.0,
		Reasoning:   "default recommendation",
	}}
}
