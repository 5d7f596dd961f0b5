// Package storetest provides an in-memory store.Backend fake so the
// retrieval orchestration layers can be tested deterministically,
// without a live Postgres connection.
package storetest

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/gravitycar/dnd1strag/internal/chunk"
)

type collection struct {
	dimension int
	metadata  map[string]any
	chunks    map[string]chunk.Chunk
	// order preserves insertion order so DeleteBatch has a stable,
	// deterministic pop sequence.
	order []string
}

// Backend is an in-memory store.Backend implementation.
type Backend struct {
	collections map[string]*collection

	// FailQuery, when set, is returned by Query unconditionally —
	// used to simulate StoreUnavailable during a retrieval.
	FailQuery error
}

// New constructs an empty fake backend.
func New() *Backend {
	return &Backend{collections: make(map[string]*collection)}
}

func (b *Backend) GetOrCreateCollection(_ context.Context, name string, dimension int, metadata map[string]any) error {
	if _, ok := b.collections[name]; ok {
		return nil
	}
	b.collections[name] = &collection{
		dimension: dimension,
		metadata:  metadata,
		chunks:    make(map[string]chunk.Chunk),
	}
	return nil
}

func (b *Backend) ListCollections(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(b.collections))
	for n := range b.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) DeleteCollection(_ context.Context, name string) error {
	delete(b.collections, name)
	return nil
}

func (b *Backend) CollectionExists(_ context.Context, name string) (bool, error) {
	_, ok := b.collections[name]
	return ok, nil
}

func (b *Backend) CollectionDimension(_ context.Context, name string) (int, error) {
	c, ok := b.collections[name]
	if !ok {
		return 0, errors.New("no such collection")
	}
	return c.dimension, nil
}

func (b *Backend) Count(_ context.Context, name string) (int, error) {
	c, ok := b.collections[name]
	if !ok {
		return 0, errors.New("no such collection")
	}
	return len(c.chunks), nil
}

func (b *Backend) DeleteBatch(_ context.Context, name string, limit int) (int, error) {
	c, ok := b.collections[name]
	if !ok {
		return 0, errors.New("no such collection")
	}
	n := limit
	if n > len(c.order) {
		n = len(c.order)
	}
	for i := 0; i < n; i++ {
		delete(c.chunks, c.order[i])
	}
	c.order = c.order[n:]
	return n, nil
}

func (b *Backend) InsertBatch(_ context.Context, name string, items []chunk.Chunk) error {
	c, ok := b.collections[name]
	if !ok {
		return errors.New("no such collection")
	}
	for _, item := range items {
		if _, exists := c.chunks[item.ID]; !exists {
			c.order = append(c.order, item.ID)
		}
		c.chunks[item.ID] = item
	}
	return nil
}

func (b *Backend) Query(_ context.Context, name string, embedding []float32, nResults int, excludeIDs []string) ([]chunk.RetrievalResult, error) {
	if b.FailQuery != nil {
		return nil, b.FailQuery
	}
	c, ok := b.collections[name]
	if !ok {
		return nil, errors.New("no such collection")
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	results := make([]chunk.RetrievalResult, 0, len(c.chunks))
	for _, ch := range c.chunks {
		if excluded[ch.ID] {
			continue
		}
		results = append(results, chunk.RetrievalResult{
			ID:       ch.ID,
			Text:     ch.Text,
			Metadata: ch.Metadata,
			Distance: cosineDistance(embedding, ch.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if nResults >= 0 && len(results) > nResults {
		results = results[:nResults]
	}
	return results, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}
