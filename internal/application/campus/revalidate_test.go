package campus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyust/tyust-client/internal/infrastructure/cache"
	"github.com/tyust/tyust-client/internal/infrastructure/storage"
)

func TestRevalidate_EmptyCache(t *testing.T) {
	ctx := context.Background()
	c := cache.New(storage.NewMemoryStore(), nil)

	var shown int
	snap := Revalidate(ctx, c, cache.Scores, func(context.Context) ([]Score, error) {
		return []Score{{Course: "线性代数", Score: "88"}}, nil
	}, func(Snapshot[[]Score]) { shown++ })

	assert.Equal(t, 1, shown, "nothing to show before the fetch")
	assert.True(t, snap.Fresh)
	assert.False(t, snap.Cached)
	assert.NoError(t, snap.CacheErr)

	cached, ok, err := cache.ReadAs[[]Score](ctx, c, cache.Scores)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, snap.Value, cached)
}

func TestRevalidate_FailureWithoutCache(t *testing.T) {
	c := cache.New(storage.NewMemoryStore(), nil)
	boom := errors.New("boom")

	snap := Revalidate(context.Background(), c, cache.Courses, func(context.Context) ([]Course, error) {
		return nil, boom
	}, nil)

	assert.ErrorIs(t, snap.Err, boom)
	assert.False(t, snap.HasValue())
}

func TestRevalidate_EmptyListIsCached(t *testing.T) {
	ctx := context.Background()
	c := cache.New(storage.NewMemoryStore(), nil)
	require.NoError(t, cache.WriteAs(ctx, c, cache.Courses, []Course{{ID: "old"}}))

	snap := Revalidate(ctx, c, cache.Courses, func(context.Context) ([]Course, error) {
		return []Course{}, nil
	}, nil)

	require.NoError(t, snap.Err)
	assert.Empty(t, snap.Value)
	cached, ok, _ := cache.ReadAs[[]Course](ctx, c, cache.Courses)
	assert.True(t, ok)
	assert.Empty(t, cached)
}
