package promptforge

import "context"

// Matcher maps free-text user requirements to 1-3 framework candidates.
type Matcher interface {
	Match(ctx context.Context, input string) ([]FrameworkCandidate, error)
}
