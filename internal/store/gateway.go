// Package store implements the vector store gateway, the sole pathway
// to the vector database: collection lifecycle, batched writes
// respecting size quotas, and similarity queries with exclusion
// filters.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gravitycar/dnd1strag/internal/chunk"
)

const (
	// DefaultWriteBatchSize bounds how many chunks Add writes per
	// round-trip.
	DefaultWriteBatchSize = 300
	// DefaultTruncateBatch bounds how many rows Truncate deletes per
	// round-trip. Callers targeting strict-quota backends should pass
	// 100.
	DefaultTruncateBatch = 500

	maxMetadataValueBytes = chunk.MaxMetadataValueBytes
)

// Backend is the minimal SQL/vector-database seam the Gateway drives.
// Production code implements it against Postgres + pgvector
// (see postgres.go); tests implement it with an in-memory fake so the
// orchestration layers above never need a live database.
type Backend interface {
	GetOrCreateCollection(ctx context.Context, name string, dimension int, metadata map[string]any) error
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CollectionDimension(ctx context.Context, name string) (int, error)
	Count(ctx context.Context, name string) (int, error)

	// DeleteBatch deletes up to limit rows from name and returns how
	// many were actually deleted (0 when the collection is empty).
	DeleteBatch(ctx context.Context, name string, limit int) (int, error)

	// InsertBatch writes one contiguous batch. Callers guarantee
	// len(items) never exceeds the backend's per-batch quota.
	InsertBatch(ctx context.Context, name string, items []chunk.Chunk) error

	// Query returns up to nResults nearest neighbors by cosine
	// distance, excluding any id in excludeIDs, sorted ascending by
	// distance.
	Query(ctx context.Context, name string, embedding []float32, nResults int, excludeIDs []string) ([]chunk.RetrievalResult, error)
}

// Gateway centralizes connection setup, honors the store's write
// quotas, and normalizes its query surface.
type Gateway struct {
	backend  Backend
	writeBatch    int
	truncateBatch int
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWriteBatchSize overrides DefaultWriteBatchSize.
func WithWriteBatchSize(n int) Option {
	return func(g *Gateway) { g.writeBatch = n }
}

// WithTruncateBatchSize overrides DefaultTruncateBatch. Callers
// targeting strict-quota backends should pass 100.
func WithTruncateBatchSize(n int) Option {
	return func(g *Gateway) { g.truncateBatch = n }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New constructs a Gateway over backend.
func New(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend:       backend,
		writeBatch:    DefaultWriteBatchSize,
		truncateBatch: DefaultTruncateBatch,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetOrCreate is idempotent; metadata is expected to carry the
// similarity metric, fixed to cosine for this system.
func (g *Gateway) GetOrCreate(ctx context.Context, name string, dimension int, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["hnsw:space"] = "cosine"
	if err := g.backend.GetOrCreateCollection(ctx, name, dimension, metadata); err != nil {
		return fmt.Errorf("%w: get_or_create %q: %v", ErrStoreUnavailable, name, err)
	}
	return nil
}

// List returns every known collection name.
func (g *Gateway) List(ctx context.Context) ([]string, error) {
	names, err := g.backend.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", ErrStoreUnavailable, err)
	}
	return names, nil
}

// Delete removes a collection and all of its chunks.
func (g *Gateway) Delete(ctx context.Context, name string) error {
	if err := g.backend.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrStoreUnavailable, name, err)
	}
	return nil
}

// Count returns the number of chunks in a collection.
func (g *Gateway) Count(ctx context.Context, name string) (int, error) {
	exists, err := g.backend.CollectionExists(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	n, err := g.backend.Count(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("%w: count %q: %v", ErrStoreUnavailable, name, err)
	}
	return n, nil
}

// Exists reports whether a collection has been created.
func (g *Gateway) Exists(ctx context.Context, name string) (bool, error) {
	exists, err := g.backend.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return exists, nil
}

// Dimension returns a collection's configured embedding dimensionality,
// used to detect an embedder/collection mismatch before retrieval
// proceeds.
func (g *Gateway) Dimension(ctx context.Context, name string) (int, error) {
	dim, err := g.backend.CollectionDimension(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("%w: dimension %q: %v", ErrStoreUnavailable, name, err)
	}
	return dim, nil
}

// Truncate deletes all entries in batches of batchSize (0 selects
// g.truncateBatch). Progress is reported per batch via the gateway's
// logger. Returns the total count deleted.
func (g *Gateway) Truncate(ctx context.Context, name string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = g.truncateBatch
	}

	total := 0
	for {
		n, err := g.backend.DeleteBatch(ctx, name, batchSize)
		if err != nil {
			return total, fmt.Errorf("%w: truncate %q: %v", ErrStoreUnavailable, name, err)
		}
		total += n
		g.logger.Debug("truncate batch", "collection", name, "deleted", n, "total", total)
		if n < batchSize {
			break
		}
	}
	return total, nil
}

// Add writes chunks in contiguous batches of at most writeBatchSize (0
// selects g.writeBatch), sequentially. Per-item metadata values over
// chunk.MaxMetadataValueBytes are dropped with a warning rather than
// failing the whole write. Returns the number of chunks actually
// written and any warnings produced along the way.
func (g *Gateway) Add(ctx context.Context, name string, items []chunk.Chunk, writeBatchSize int) (written int, warnings []string, err error) {
	if writeBatchSize <= 0 {
		writeBatchSize = g.writeBatch
	}
	if writeBatchSize > DefaultWriteBatchSize {
		return 0, nil, fmt.Errorf("%w: requested batch size %d exceeds hard limit %d", ErrQuotaExceeded, writeBatchSize, DefaultWriteBatchSize)
	}

	sanitized := make([]chunk.Chunk, len(items))
	for i, c := range items {
		cleaned, dropped := dropOversizedMetadata(c)
		sanitized[i] = cleaned
		for _, key := range dropped {
			msg := fmt.Sprintf("chunk %q: metadata key %q exceeds %d bytes, dropped", c.ID, key, maxMetadataValueBytes)
			warnings = append(warnings, msg)
			g.logger.Warn("metadata value dropped", "chunk_id", c.ID, "key", key)
		}
	}

	for start := 0; start < len(sanitized); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(sanitized) {
			end = len(sanitized)
		}
		batch := sanitized[start:end]
		if err := g.backend.InsertBatch(ctx, name, batch); err != nil {
			return written, warnings, fmt.Errorf("%w: add batch [%d:%d] to %q: %v", ErrStoreUnavailable, start, end, name, err)
		}
		written += len(batch)
	}
	return written, warnings, nil
}

func dropOversizedMetadata(c chunk.Chunk) (chunk.Chunk, []string) {
	var dropped []string
	cleanMeta := make(chunk.Metadata, len(c.Metadata))
	for k, v := range c.Metadata {
		if s, ok := v.(string); ok && len(s) > maxMetadataValueBytes {
			dropped = append(dropped, k)
			continue
		}
		cleanMeta[k] = v
	}
	c.Metadata = cleanMeta
	return c, dropped
}

// Query returns up to nResults nearest neighbors to queryEmbedding,
// excluding any id in excludeIDs, sorted ascending by distance.
func (g *Gateway) Query(ctx context.Context, name string, queryEmbedding []float32, nResults int, excludeIDs []string) ([]chunk.RetrievalResult, error) {
	results, err := g.backend.Query(ctx, name, queryEmbedding, nResults, excludeIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %v", ErrStoreUnavailable, name, err)
	}
	return results, nil
}
