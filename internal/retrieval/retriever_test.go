package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/retrieval"
	"github.com/gravitycar/dnd1strag/internal/store"
	"github.com/gravitycar/dnd1strag/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func seedCollection(t *testing.T, backend *storetest.Backend, name string, items []chunk.Chunk) *store.Gateway {
	t.Helper()
	gw := store.New(backend)
	require.NoError(t, gw.GetOrCreate(context.Background(), name, 2, nil))
	_, _, err := gw.Add(context.Background(), name, items, 300)
	require.NoError(t, err)
	return gw
}

func TestRetrieveExitsOnNoExclusionsAfterOneQuery(t *testing.T) {
	backend := storetest.New()
	items := make([]chunk.Chunk, 5)
	for i := range items {
		items[i] = chunk.Chunk{
			ID:        string(rune('a' + i)),
			Text:      "plain rule text",
			Embedding: []float32{1, float32(i)},
			Metadata:  chunk.Metadata{"title": "RULE"},
		}
	}
	gw := seedCollection(t, backend, "rules", items)

	r := retrieval.New(gw, &fakeEmbedder{vec: []float32{1, 0}})
	out, err := r.Retrieve(context.Background(), "what is the rule", "rules", 3, false)
	require.NoError(t, err)
	require.Equal(t, 1, out.StoreQueries)
	require.Len(t, out.Results, 3)
}

func TestRetrieveFiltersQueryMustAndBackfills(t *testing.T) {
	backend := storetest.New()
	items := []chunk.Chunk{
		{ID: "ac6-cleric", Text: "attack matrix AC 6", Embedding: []float32{1, 0},
			Metadata: chunk.Metadata{"title": "AC 6 cleric matrix",
				"query_must": `{"contain_one_of":[["cleric","clerics"],["ac 6"]]}`}},
		{ID: "ac5-cleric", Text: "attack matrix AC 5", Embedding: []float32{1, 0.01},
			Metadata: chunk.Metadata{"title": "AC 5 cleric matrix",
				"query_must": `{"contain_one_of":[["cleric","clerics"],["ac 5"]]}`}},
		{ID: "ac6-fighter", Text: "attack matrix AC 6 fighter", Embedding: []float32{1, 0.02},
			Metadata: chunk.Metadata{"title": "AC 6 fighter matrix",
				"query_must": `{"contain_one_of":[["fighter","fighters"],["ac 6"]]}`}},
		{ID: "background", Text: "unrelated lore", Embedding: []float32{0, 1},
			Metadata: chunk.Metadata{"title": "LORE"}},
	}
	gw := seedCollection(t, backend, "matrices", items)

	r := retrieval.New(gw, &fakeEmbedder{vec: []float32{1, 0}})
	out, err := r.Retrieve(context.Background(), "what does a cleric need to roll to hit AC 6", "matrices", 2, true)
	require.NoError(t, err)

	var ids []string
	for _, res := range out.Results {
		ids = append(ids, res.ID)
	}
	require.Contains(t, ids, "ac6-cleric")
	require.NotContains(t, ids, "ac5-cleric")
	require.NotContains(t, ids, "ac6-fighter")
}

func TestRetrieveComparisonPromotesEntities(t *testing.T) {
	backend := storetest.New()
	items := []chunk.Chunk{
		{ID: "filler1", Text: "x", Embedding: []float32{1, 0}, Metadata: chunk.Metadata{"title": "FILLER 1"}},
		{ID: "filler2", Text: "x", Embedding: []float32{1, 0.01}, Metadata: chunk.Metadata{"title": "FILLER 2"}},
		{ID: "filler3", Text: "x", Embedding: []float32{1, 0.02}, Metadata: chunk.Metadata{"title": "FILLER 3"}},
		{ID: "red", Text: "red dragon stats", Embedding: []float32{1, 0.5}, Metadata: chunk.Metadata{"title": "Dragon: Red"}},
		{ID: "white", Text: "white dragon stats", Embedding: []float32{1, 0.6}, Metadata: chunk.Metadata{"title": "Dragon: White"}},
	}
	gw := seedCollection(t, backend, "monsters", items)

	r := retrieval.New(gw, &fakeEmbedder{vec: []float32{1, 0}})
	out, err := r.Retrieve(context.Background(), "What is the difference between a red dragon and a white dragon?", "monsters", 2, false)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	ids := map[string]bool{out.Results[0].ID: true, out.Results[1].ID: true}
	require.True(t, ids["red"])
	require.True(t, ids["white"])
}

func TestRetrieveEmptyCollectionReturnsEmptyNoError(t *testing.T) {
	backend := storetest.New()
	gw := seedCollection(t, backend, "empty", nil)

	r := retrieval.New(gw, &fakeEmbedder{vec: []float32{1, 0}})
	out, err := r.Retrieve(context.Background(), "anything", "empty", 5, false)
	require.NoError(t, err)
	require.Empty(t, out.Results)
}

func TestRetrievePropagatesStoreUnavailable(t *testing.T) {
	backend := storetest.New()
	backend.FailQuery = errors.New("conn refused")
	gw := seedCollection(t, backend, "x", nil)

	r := retrieval.New(gw, &fakeEmbedder{vec: []float32{1, 0}})
	_, err := r.Retrieve(context.Background(), "q", "x", 5, false)
	require.Error(t, err)
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestRetrieveNeverDuplicatesIDs(t *testing.T) {
	backend := storetest.New()
	items := make([]chunk.Chunk, 8)
	for i := range items {
		items[i] = chunk.Chunk{
			ID:        string(rune('a' + i)),
			Text:      "text",
			Embedding: []float32{1, float32(i) * 0.1},
			Metadata:  chunk.Metadata{"title": "T"},
		}
	}
	gw := seedCollection(t, backend, "dup", items)

	r := retrieval.New(gw, &fakeEmbedder{vec: []float32{1, 0}})
	out, err := r.Retrieve(context.Background(), "q", "dup", 5, false)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, res := range out.Results {
		require.False(t, seen[res.ID], "duplicate id %q", res.ID)
		seen[res.ID] = true
	}
}
