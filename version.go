package promptforge

import (
	"context"
	"time"
)

// Version is a stored snapshot of a generated prompt.
type Version struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"` // e.g. "optimize"
	CreatedAt time.Time `json:"created_at"`
}

// VersionStore persists generated prompts.
type VersionStore interface {
	// SaveVersion stores the version and returns its assigned id.
	SaveVersion(ctx context.Context, v Version) (string, error)

	// ListVersions returns the user's versions, newest first, capped at limit.
	ListVersions(ctx context.Context, userID string, limit int) ([]Version, error)
}
