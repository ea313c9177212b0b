package library

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentcircle/internal/cache"
	"github.com/BaSui01/agentcircle/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLibrary records how often the wrapped library is hit.
type countingLibrary struct {
	Library
	gets, searches int
}

func (c *countingLibrary) Get(ctx context.Context, id string) (types.LibraryDocument, error) {
	c.gets++
	return c.Library.Get(ctx, id)
}

func (c *countingLibrary) Search(ctx context.Context, query []float64, topK int) ([]SearchResult, error) {
	c.searches++
	return c.Library.Search(ctx, query, topK)
}

func newCachedLibrary(t *testing.T) (*CachedLibrary, *countingLibrary, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mgr, err := cache.NewManager(client, cache.DefaultConfig(), nil)
	require.NoError(t, err)

	inner := &countingLibrary{Library: newTestLibrary(t)}
	return NewCachedLibrary(inner, mgr, time.Minute, nil), inner, mr
}

func TestCachedLibrary_SearchIsCachedUntilSave(t *testing.T) {
	ctx := context.Background()
	lib, inner, _ := newCachedLibrary(t)

	_, err := lib.Save(ctx, types.LibraryDocument{Title: "Stelle", Body: "Orione sorge", Embedding: []float64{1, 0}})
	require.NoError(t, err)

	first, err := lib.Search(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	second, err := lib.Search(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Document.ID, second[0].Document.ID)
	assert.InDelta(t, first[0].Similarity, second[0].Similarity, 1e-12)
	assert.Equal(t, 1, inner.searches)

	// 不同 topK 是不同的键
	_, err = lib.Search(ctx, []float64{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.searches)

	_, err = lib.Save(ctx, types.LibraryDocument{Title: "Stelle 2", Body: "Sirio brilla", Embedding: []float64{0.9, 0.1}})
	require.NoError(t, err)

	third, err := lib.Search(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.searches)
	assert.Len(t, third, 2)
}

func TestCachedLibrary_GetIsCached(t *testing.T) {
	ctx := context.Background()
	lib, inner, _ := newCachedLibrary(t)

	saved, err := lib.Save(ctx, types.LibraryDocument{Title: "Mare", Body: "Onde", Embedding: []float64{0, 1}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := lib.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "Mare", got.Title)
	}
	assert.Equal(t, 1, inner.gets)

	_, err = lib.Get(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestCachedLibrary_CacheOutageFallsThrough(t *testing.T) {
	ctx := context.Background()
	lib, inner, mr := newCachedLibrary(t)

	_, err := lib.Save(ctx, types.LibraryDocument{Title: "Vento", Body: "Maestrale", Embedding: []float64{1, 0}})
	require.NoError(t, err)

	mr.Close()

	hits, err := lib.Search(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	_, err = lib.Search(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.searches)
}
