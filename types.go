package promptforge

import "time"

// Tier is the account class that determines the daily generation ceiling.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Valid reports whether the tier is one of the known account classes.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPro
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request sent to an LLM provider adapter.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// ChatResponse is the response from an LLM provider adapter.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// FrameworkCandidate is a prompt-engineering framework recommended for a
// given user input. Candidates are ordered by match score, best first.
type FrameworkCandidate struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"match_score"`
	Reasoning   string  `json:"reasoning"`
}

// QuotaStatus is a point-in-time snapshot of a user's daily allowance.
type QuotaStatus struct {
	UserID      string    `json:"user_id"`
	Used        int       `json:"used"`
	Limit       int       `json:"total"`
	ResetAt     time.Time `json:"reset_time"`
	CanGenerate bool      `json:"can_generate"`
}

// ClarificationAnswers carries the follow-up answers collected before
// generation. Empty fields are rendered as "not provided" in the prompt.
type ClarificationAnswers struct {
	GoalClarity         string `json:"goalClarity"`
	TargetAudience      string `json:"targetAudience"`
	ContextCompleteness string `json:"contextCompleteness"`
	FormatRequirements  string `json:"formatRequirements"`
	Constraints         string `json:"constraints"`
}

// GenerateRequest is the input to Service.Generate.
type GenerateRequest struct {
	Input             string
	FrameworkID       string
	Answers           ClarificationAnswers
	AttachmentContent string
	UserID            string
	Tier              Tier
	TZOffsetMinutes   int
	RequestID         string // optional idempotency token correlating client retries
}

// GenerateResult is the outcome of a successful generation.
type GenerateResult struct {
	Output        string `json:"output"`
	FrameworkUsed string `json:"framework_used"`
	VersionID     string `json:"version_id"`
	Usage         Usage  `json:"-"`
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
