// Package embedding maps a query string to a vector in the same
// embedding space as the corpus.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// ErrDimensionMismatch is a fatal configuration error: the embedding
// model used does not match the one used to populate the targeted
// collection.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// QueryEmbedder is the interface the retrieval core depends on.
type QueryEmbedder interface {
	// Embed returns a dense vector for query, synchronously.
	Embed(ctx context.Context, query string) ([]float32, error)
	// Dimension reports the vector length this embedder produces.
	Dimension() int
}

// OpenAIEmbedder wraps langchaingo's embeddings.EmbedderImpl.
type OpenAIEmbedder struct {
	inner     *embeddings.EmbedderImpl
	dimension int
}

// NewOpenAIEmbedder creates an embedder backed by OpenAI's
// text-embedding-3-small model (1536-d) via langchaingo.
func NewOpenAIEmbedder(apiKey string) (*OpenAIEmbedder, error) {
	llm, err := lcopenai.New(
		lcopenai.WithToken(apiKey),
		lcopenai.WithEmbeddingModel("text-embedding-3-small"),
	)
	if err != nil {
		return nil, fmt.Errorf("init openai embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("init langchaingo embedder: %w", err)
	}

	return &OpenAIEmbedder{inner: embedder, dimension: 1536}, nil
}

// Embed embeds a single query string.
func (e *OpenAIEmbedder) Embed(ctx context.Context, query string) ([]float32, error) {
	vec, err := e.inner.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// Dimension reports the vector length OpenAIEmbedder produces.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// CheckDimension is a fatal configuration check: the embedder's
// dimension must match the collection's configured dimension.
// ragsvc.Service.Query runs it on every query, before retrieval
// proceeds.
func CheckDimension(embedder QueryEmbedder, collectionDimension int) error {
	if embedder.Dimension() != collectionDimension {
		return fmt.Errorf("%w: embedder produces %d-d vectors, collection expects %d-d",
			ErrDimensionMismatch, embedder.Dimension(), collectionDimension)
	}
	return nil
}
