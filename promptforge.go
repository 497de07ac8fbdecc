// Package promptforge turns free-text user requirements into structured,
// framework-compliant prompts. It matches input against a catalog of prompt
// engineering frameworks with one LLM call and generates the final prompt
// with a second, charging each generation against a per-user daily quota
// with rollback on failure.
package promptforge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinInputLength is the minimum user-input length accepted by Match and Generate.
const MinInputLength = 10

// Service orchestrates matching, generation, quota accounting and version
// history. Construct it once at startup and share it across request handlers.
type Service struct {
	provider Provider
	ledger   Ledger
	catalog  Catalog
	matcher  Matcher
	versions VersionStore
	meter    Meter
	logger   *slog.Logger
	model    string
}

// Option configures a Service.
type Option func(*Service)

// WithLedger sets the quota ledger.
func WithLedger(l Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithCatalog sets the framework catalog.
func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithMatcher sets the framework matcher.
func WithMatcher(m Matcher) Option {
	return func(s *Service) { s.matcher = m }
}

// WithVersionStore sets the generated-prompt version store.
func WithVersionStore(v VersionStore) Option {
	return func(s *Service) { s.versions = v }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(s *Service) { s.meter = m }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithModel sets the model used for generation requests.
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// New creates a Service backed by the given provider. Default components
// (permissive ledger, placeholder catalog, single-candidate matcher, no-op
// version store and meter) are used unless overridden via options.
func New(provider Provider, opts ...Option) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("promptforge: a provider is required")
	}

	s := &Service{
		provider: provider,
		model:    "deepseek-chat",
	}

	for _, opt := range opts {
		opt(s)
	}

	// Apply defaults after options.
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.ledger == nil {
		s.ledger = openLedger{}
	}
	if s.catalog == nil {
		s.catalog = placeholderCatalog{}
	}
	if s.matcher == nil {
		s.matcher = fallbackMatcher{}
	}
	if s.versions == nil {
		s.versions = noopVersionStore{}
	}
	if s.meter == nil {
		s.meter = noopMeter{}
	}

	return s, nil
}

// Match returns 1-3 framework candidates for the given user input, best first.
func (s *Service) Match(ctx context.Context, input string, tier Tier) ([]FrameworkCandidate, error) {
	input = strings.TrimSpace(input)
	if len(input) < MinInputLength {
		return nil, fmt.Errorf("%w: input must be at least %d characters", ErrInvalidInput, MinInputLength)
	}
	if tier != "" && !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown account tier %q", ErrInvalidInput, tier)
	}

	s.meter.OnRequest(RequestEvent{Operation: "match", Model: s.model})

	start := time.Now()
	candidates, err := s.matcher.Match(ctx, input)
	s.meter.OnResult(ResultEvent{
		Operation: "match",
		Model:     s.model,
		Success:   err == nil,
		Duration:  time.Since(start),
		Error:     err,
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// Quota returns the user's current quota snapshot.
func (s *Service) Quota(ctx context.Context, userID string, tier Tier, tzOffsetMin int) (QuotaStatus, error) {
	if userID == "" {
		return QuotaStatus{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !tier.Valid() {
		return QuotaStatus{}, fmt.Errorf("%w: unknown account tier %q", ErrInvalidInput, tier)
	}
	return s.ledger.Check(ctx, userID, tier, tzOffsetMin)
}

// Generate produces a framework-compliant prompt for the request, consuming
// one unit of the user's daily quota. A generation failure after the quota
// was reserved rolls the reservation back before the error is returned, so
// the user is never charged for output they did not receive.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if err := s.validateGenerate(&req); err != nil {
		return GenerateResult{}, err
	}

	res, err := s.ledger.Reserve(ctx, req.UserID, req.Tier, req.RequestID, req.TZOffsetMinutes)
	if err != nil {
		if IsQuotaDenied(err) {
			return GenerateResult{}, s.denied(ctx, req, err)
		}
		return GenerateResult{}, err
	}

	s.meter.OnRequest(RequestEvent{
		Operation: "generate",
		UserID:    req.UserID,
		Framework: req.FrameworkID,
		Model:     s.model,
		RequestID: req.RequestID,
	})

	doc := s.catalog.Document(req.FrameworkID)

	start := time.Now()
	resp, err := s.provider.ChatCompletion(ctx, ChatRequest{
		Model:       s.model,
		Messages:    generationMessages(doc, req),
		Temperature: Float64Ptr(0.7),
		MaxTokens:   IntPtr(3000),
	})
	duration := time.Since(start)

	if err != nil {
		if rbErr := s.ledger.Rollback(ctx, res); rbErr != nil {
			s.logger.Warn("quota rollback failed", "user", req.UserID, "error", rbErr)
		}
		s.meter.OnResult(ResultEvent{
			Operation: "generate",
			UserID:    req.UserID,
			Framework: req.FrameworkID,
			Model:     s.model,
			Duration:  duration,
			Error:     err,
		})
		return GenerateResult{}, err
	}

	if err := s.ledger.Commit(ctx, res); err != nil {
		s.logger.Warn("quota commit failed", "user", req.UserID, "error", err)
	}

	output := strings.TrimSpace(resp.Content)

	versionID, err := s.versions.SaveVersion(ctx, Version{
		UserID:    req.UserID,
		Content:   output,
		Kind:      "optimize",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		// The user already has their output; losing history is not worth
		// failing the request after quota was consumed.
		s.logger.Warn("version save failed", "user", req.UserID, "error", err)
		versionID = ""
	}

	s.meter.OnResult(ResultEvent{
		Operation: "generate",
		UserID:    req.UserID,
		Framework: req.FrameworkID,
		Model:     s.model,
		Success:   true,
		Duration:  duration,
		Usage:     resp.Usage,
	})

	return GenerateResult{
		Output:        output,
		FrameworkUsed: req.FrameworkID,
		VersionID:     versionID,
		Usage:         resp.Usage,
	}, nil
}

// Versions returns the user's generated prompt history, newest first.
func (s *Service) Versions(ctx context.Context, userID string, limit int) ([]Version, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.versions.ListVersions(ctx, userID, limit)
}

// Sweep removes stale quota records and retry counters.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.ledger.Sweep(ctx, time.Now())
}

// RunSweeper runs Sweep once immediately and then shortly after each UTC
// midnight until ctx is cancelled. Missed runs are harmless: the sweep always
// computes staleness relative to its own invocation time.
func (s *Service) RunSweeper(ctx context.Context) {
	sweep := func() {
		removed, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Warn("quota sweep failed", "error", err)
			return
		}
		s.logger.Info("quota sweep complete", "removed", removed)
	}

	sweep()
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 5, 0, 0, time.UTC)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			sweep()
		}
	}
}

// Close tears down the provider's connection pool.
func (s *Service) Close() error {
	return s.provider.Close()
}

func (s *Service) validateGenerate(req *GenerateRequest) error {
	req.Input = strings.TrimSpace(req.Input)
	if len(req.Input) < MinInputLength {
		return fmt.Errorf("%w: input must be at least %d characters", ErrInvalidInput, MinInputLength)
	}
	if req.FrameworkID == "" {
		return ErrFrameworkMissing
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if req.Tier == "" {
		req.Tier = TierFree
	}
	if !req.Tier.Valid() {
		return fmt.Errorf("%w: unknown account tier %q", ErrInvalidInput, req.Tier)
	}
	return nil
}

// denied builds the QuotaDeniedError carrying a fresh snapshot.
func (s *Service) denied(ctx context.Context, req GenerateRequest, reason error) error {
	status, err := s.ledger.Check(ctx, req.UserID, req.Tier, req.TZOffsetMinutes)
	if err != nil {
		s.logger.Warn("quota snapshot failed after denial", "user", req.UserID, "error", err)
		status = QuotaStatus{UserID: req.UserID}
	}
	return &QuotaDeniedError{Reason: reason, Status: status}
}

// answerOrDefault renders a clarification answer for prompt interpolation.
func answerOrDefault(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not provided"
	}
	return v
}

// generationMessages builds the system and user messages for the generation
// call from the framework document, the user input and the clarification
// answers.
func generationMessages(frameworkDoc string, req GenerateRequest) []Message {
	var system strings.Builder
	system.WriteString("You are a professional prompt engineer. Generate an optimized prompt from the framework document and the information the user provides.\n\n")
	system.WriteString("Framework document:\n")
	system.WriteString(frameworkDoc)
	system.WriteString("\n\nFollow the structure and best practices of the framework document strictly:\n")
	system.WriteString("1. Read the framework's structure section and understand the role of each component\n")
	system.WriteString("2. Study the best-practice examples for how the framework is applied\n")
	system.WriteString("3. Make sure the generated prompt contains every required component of the framework\n")
	system.WriteString("4. Use clear Markdown formatting with appropriate headings\n")
	system.WriteString("5. Produce a concrete, actionable prompt that fits the framework\n\n")
	system.WriteString("The generated prompt must be well structured, include all necessary context, avoid vague wording, and follow the framework's best practices.")

	var user strings.Builder
	user.WriteString("Original user requirements:\n")
	user.WriteString(req.Input)
	user.WriteString("\n\nClarifications:\n")
	user.WriteString("- Goal clarity: " + answerOrDefault(req.Answers.GoalClarity) + "\n")
	user.WriteString("- Target audience: " + answerOrDefault(req.Answers.TargetAudience) + "\n")
	user.WriteString("- Context completeness: " + answerOrDefault(req.Answers.ContextCompleteness) + "\n")
	user.WriteString("- Format requirements: " + answerOrDefault(req.Answers.FormatRequirements) + "\n")
	user.WriteString("- Constraints: " + answerOrDefault(req.Answers.Constraints) + "\n")
	if req.AttachmentContent != "" {
		user.WriteString("\nReference attachment:\n")
		user.WriteString(req.AttachmentContent)
		user.WriteString("\n")
	}
	user.WriteString("\nGenerate the complete optimized prompt in Markdown, based on the framework document and the information above:")

	return []Message{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: user.String()},
	}
}

// openLedger is a ledger that allows everything (no limits). It is the
// default when no ledger is injected.
type openLedger struct{}

func (openLedger) Check(_ context.Context, userID string, _ Tier, tzOffsetMin int) (QuotaStatus, error) {
	return QuotaStatus{UserID: userID, CanGenerate: true}, nil
}

func (openLedger) Reserve(_ context.Context, userID string, tier Tier, _ string, _ int) (*Reservation, error) {
	return &Reservation{ID: uuid.New().String(), UserID: userID, Tier: tier, Degraded: true}, nil
}

func (openLedger) Commit(_ context.Context, res *Reservation) error {
	res.Settle()
	return nil
}

func (openLedger) Rollback(_ context.Context, res *Reservation) error {
	res.Settle()
	return nil
}

func (openLedger) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

// placeholderCatalog synthesizes every document; used when no catalog
// directory is configured.
type placeholderCatalog struct{}

func (placeholderCatalog) Summary() string {
	return DefaultSummary
}

func (placeholderCatalog) Document(id string) string {
	return PlaceholderDocument(id)
}

func (placeholderCatalog) Has(string) bool { return false }

// fallbackMatcher always recommends the default framework; used when no
// matcher is injected.
type fallbackMatcher struct{}

func (fallbackMatcher) Match(context.Context, string) ([]FrameworkCandidate, error) {
	return []FrameworkCandidate{{
		ID:          "RACEF",
		Name:        "RACEF Framework",
		Description: "General-purpose brainstorming and idea generation framework",
		Score:       1.0,
		Reasoning:   "default recommendation",
	}}, nil
}

// noopVersionStore discards versions but still hands out ids.
type noopVersionStore struct{}

func (noopVersionStore) SaveVersion(context.Context, Version) (string, error) {
	return uuid.New().String(), nil
}

func (noopVersionStore) ListVersions(context.Context, string, int) ([]Version, error) {
	return nil, nil
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnRequest(RequestEvent) {}
func (noopMeter) OnResult(ResultEvent)   {}
