package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresBackend implements Backend against PostgreSQL + the pgvector
// extension. Collections are rows in a `collections` table; chunks are
// rows in a `chunks` table scoped by `collection_name`, grounded on
// the direct pgx + pgvector-go schema/query pattern used across the
// example pack's Postgres-backed vector stores (rather than routing
// through langchaingo's opaque pgvector.Store, which cannot express
// per-collection count/truncate or an exclude_ids filter).
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an already-connected pool and ensures the
// schema exists.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (*PostgresBackend, error) {
	b := &PostgresBackend{pool: pool}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	dimension  INT NOT NULL,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS chunks (
	collection_name TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
	id              TEXT NOT NULL,
	text            TEXT NOT NULL,
	embedding       vector NOT NULL,
	metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (collection_name, id)
);
`
	_, err := b.pool.Exec(ctx, ddl)
	return err
}

func (b *PostgresBackend) GetOrCreateCollection(ctx context.Context, name string, dimension int, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal collection metadata: %w", err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO collections (name, dimension, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`,
		name, dimension, meta)
	return err
}

func (b *PostgresBackend) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (b *PostgresBackend) DeleteCollection(ctx context.Context, name string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM collections WHERE name = $1`, name)
	return err
}

func (b *PostgresBackend) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := b.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM collections WHERE name = $1)`, name,
	).Scan(&exists)
	return exists, err
}

func (b *PostgresBackend) CollectionDimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := b.pool.QueryRow(ctx,
		`SELECT dimension FROM collections WHERE name = $1`, name,
	).Scan(&dim)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCollectionNotFound, err)
	}
	return dim, nil
}

func (b *PostgresBackend) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE collection_name = $1`, name,
	).Scan(&n)
	return n, err
}

func (b *PostgresBackend) DeleteBatch(ctx context.Context, name string, limit int) (int, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM chunks
		WHERE (collection_name, id) IN (
			SELECT collection_name, id FROM chunks
			WHERE collection_name = $1
			LIMIT $2
		)`,
		name, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (b *PostgresBackend) InsertBatch(ctx context.Context, name string, items []chunk.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range items {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for chunk %q: %w", c.ID, err)
		}
		batch.Queue(`
			INSERT INTO chunks (collection_name, id, text, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (collection_name, id) DO UPDATE
				SET text = EXCLUDED.text, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`,
			name, c.ID, c.Text, pgvector.NewVector(c.Embedding), meta)
	}

	br := b.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range items {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (b *PostgresBackend) Query(ctx context.Context, name string, embedding []float32, nResults int, excludeIDs []string) ([]chunk.RetrievalResult, error) {
	var (
		rows pgx.Rows
		err  error
	)
	qvec := pgvector.NewVector(embedding)

	if len(excludeIDs) == 0 {
		rows, err = b.pool.Query(ctx, `
			SELECT id, text, metadata, embedding <=> $1 AS distance
			FROM chunks
			WHERE collection_name = $2
			ORDER BY embedding <=> $1
			LIMIT $3`,
			qvec, name, nResults)
	} else {
		rows, err = b.pool.Query(ctx, `
			SELECT id, text, metadata, embedding <=> $1 AS distance
			FROM chunks
			WHERE collection_name = $2 AND NOT (id = ANY($3))
			ORDER BY embedding <=> $1
			LIMIT $4`,
			qvec, name, excludeIDs, nResults)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chunk.RetrievalResult
	for rows.Next() {
		var (
			id       string
			text     string
			metaRaw  []byte
			distance float64
		)
		if err := rows.Scan(&id, &text, &metaRaw, &distance); err != nil {
			return nil, err
		}
		var meta chunk.Metadata
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &meta); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for chunk %q: %w", id, err)
			}
		}
		out = append(out, chunk.RetrievalResult{
			ID:       id,
			Text:     text,
			Metadata: meta,
			Distance: distance,
		})
	}
	return out, rows.Err()
}

// connStringHasSSLMode reports whether dsn already sets sslmode. It is
// unexported and nothing in the module calls it.
func connStringHasSSLMode(dsn string) bool {
	return strings.Contains(dsn, "sslmode=")
}
