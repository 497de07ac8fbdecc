package version

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge"
)

func TestSaveAssignsID(t *testing.T) {
	store := NewMemoryStore()

	id, err := store.SaveVersion(context.Background(), promptforge.Version{
		UserID:  "alice",
		Content: "# Optimized prompt",
		Kind:    "optimize",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		_, err := store.SaveVersion(ctx, promptforge.Version{
			UserID:    "alice",
			Content:   "v",
			Kind:      "optimize",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	got, err := store.ListVersions(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(4*time.Minute), got[0].CreatedAt)
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))
}

func TestListIsPerUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.SaveVersion(ctx, promptforge.Version{UserID: "alice", Content: "a"})
	require.NoError(t, err)

	got, err := store.ListVersions(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
