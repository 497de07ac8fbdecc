package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge"
)

func TestMemoryStoreUpsertConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := promptforge.QuotaRecord{UserID: "alice", Day: "2026-08-29", Used: 1, Tier: promptforge.TierFree}
	require.NoError(t, store.UpsertRecord(ctx, rec))
	assert.ErrorIs(t, store.UpsertRecord(ctx, rec), promptforge.ErrRecordConflict)
}

func TestMemoryStorePatchMissingIsNoop(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, store.PatchRecord(ctx, "ghost", "2026-08-29", 3))

	_, found, err := store.GetRecord(ctx, "ghost", "2026-08-29")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreDeleteBefore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, day := range []string{"2026-08-25", "2026-08-28", "2026-08-29"} {
		require.NoError(t, store.UpsertRecord(ctx, promptforge.QuotaRecord{
			UserID: "alice", Day: day, Used: 1, Tier: promptforge.TierFree,
		}))
	}

	n, err := store.DeleteBefore(ctx, "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, _ := store.GetRecord(ctx, "alice", "2026-08-28")
	assert.True(t, found, "cutoff day itself is kept")
}
