package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/store"
	"github.com/gravitycar/dnd1strag/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestTruncateThenCountIsZero(t *testing.T) {
	ctx := context.Background()
	backend := storetest.New()
	gw := store.New(backend)

	require.NoError(t, gw.GetOrCreate(ctx, "monsters", 4, nil))

	items := make([]chunk.Chunk, 10)
	for i := range items {
		items[i] = chunk.Chunk{
			ID:        idOf(i),
			Text:      "text",
			Embedding: []float32{1, 0, 0, 0},
			Metadata:  chunk.Metadata{"title": idOf(i)},
		}
	}
	written, warnings, err := gw.Add(ctx, "monsters", items, 3)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, 10, written)

	n, err := gw.Count(ctx, "monsters")
	require.NoError(t, err)
	require.Equal(t, 10, n)

	deleted, err := gw.Truncate(ctx, "monsters", 4)
	require.NoError(t, err)
	require.Equal(t, 10, deleted)

	n, err = gw.Count(ctx, "monsters")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestAddDropsOversizedMetadataWithWarning(t *testing.T) {
	ctx := context.Background()
	backend := storetest.New()
	gw := store.New(backend)
	require.NoError(t, gw.GetOrCreate(ctx, "c", 1, nil))

	oversized := make([]byte, chunk.MaxMetadataValueBytes+1)
	for i := range oversized {
		oversized[i] = 'x'
	}

	written, warnings, err := gw.Add(ctx, "c", []chunk.Chunk{{
		ID:        "a",
		Text:      "t",
		Embedding: []float32{1},
		Metadata:  chunk.Metadata{"title": "A", "huge": string(oversized)},
	}}, 300)
	require.NoError(t, err)
	require.Equal(t, 1, written)
	require.Len(t, warnings, 1)
}

func TestQueryExcludesIDs(t *testing.T) {
	ctx := context.Background()
	backend := storetest.New()
	gw := store.New(backend)
	require.NoError(t, gw.GetOrCreate(ctx, "c", 2, nil))

	_, _, err := gw.Add(ctx, "c", []chunk.Chunk{
		{ID: "a", Text: "t", Embedding: []float32{1, 0}, Metadata: chunk.Metadata{}},
		{ID: "b", Text: "t", Embedding: []float32{1, 0}, Metadata: chunk.Metadata{}},
	}, 300)
	require.NoError(t, err)

	results, err := gw.Query(ctx, "c", []float32{1, 0}, 10, []string{"a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestQueryPropagatesStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	backend := storetest.New()
	backend.FailQuery = errors.New("connection refused")
	gw := store.New(backend)
	require.NoError(t, gw.GetOrCreate(ctx, "c", 1, nil))

	_, err := gw.Query(ctx, "c", []float32{1}, 5, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestCountOnMissingCollectionIsCollectionNotFound(t *testing.T) {
	ctx := context.Background()
	gw := store.New(storetest.New())

	_, err := gw.Count(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrCollectionNotFound)
}

func idOf(i int) string {
	return string(rune('a' + i))
}
