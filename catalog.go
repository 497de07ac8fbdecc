package promptforge

import "fmt"

// Catalog resolves prompt-engineering framework identifiers to their
// reference documents.
type Catalog interface {
	// Summary returns the framework overview table handed to the matcher.
	Summary() string

	// Document returns the full framework document for id. Unknown ids
	// resolve to a minimal synthesized placeholder rather than failing.
	Document(id string) string

	// Has reports whether id resolves to a real (non-placeholder) document.
	Has(id string) bool
}

// DefaultSummary is the abbreviated framework table used when no catalog
// directory is configured or the summary file cannot be read.
const DefaultSummary = `# Prompt framework summary

| # | Framework | Use cases |
|:-:|-----------|-----------|
| 1 | RACEF Framework | brainstorming and idea generation, data analysis and market research |
| 2 | CRISPE Framework | marketing campaign planning, training program design |
| 3 | BAB Framework | subscription service promotion, fitness app marketing |
| 48 | Chain of Thought Framework | math problem solving, market analysis, explaining scientific phenomena |
`

// PlaceholderDocument synthesizes a minimal framework document for ids the
// catalog cannot resolve, so generation degrades instead of failing.
func PlaceholderDocument(id string) string {
	return fmt.Sprintf(`# %s Framework

## Overview
A general prompt-optimization framework.

## Use cases
Applicable to a broad range of prompt-engineering scenarios.

## Structure
Generate the optimized prompt from the user's requirements and the
characteristics of this framework.
`, id)
}
