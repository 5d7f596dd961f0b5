// Package retrieval implements the iterative retriever: it orchestrates
// embed → query → filter → re-query until the target result count is
// met or an iteration limit is reached, and the adaptive truncator,
// which cuts the ordered result list at the largest semantic cliff.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/entity"
	"github.com/gravitycar/dnd1strag/internal/querymust"
)

// DefaultMaxIterations bounds how many times the retriever will
// re-query the store to backfill chunks excluded by query_must.
const DefaultMaxIterations = 3

// embedTimeout and storeQueryTimeout bound each external call so a
// slow embedding provider or database can't hang a request
// indefinitely.
const (
	embedTimeout      = 5 * time.Second
	storeQueryTimeout = 5 * time.Second
)

// Embedder is the subset of embedding.QueryEmbedder the retriever
// depends on; declared locally to keep this package's import surface
// minimal.
type Embedder interface {
	Embed(ctx context.Context, query string) ([]float32, error)
}

// StoreQuerier is the subset of store.Gateway the retriever depends on.
type StoreQuerier interface {
	Query(ctx context.Context, collection string, embedding []float32, nResults int, excludeIDs []string) ([]chunk.RetrievalResult, error)
}

// Retriever orchestrates the iterative filter/backfill retrieval loop.
type Retriever struct {
	store         StoreQuerier
	embedder      Embedder
	maxIterations int
	expander      *entity.Expander
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(r *Retriever) { r.maxIterations = n }
}

// WithEntityExpansion overrides how aggressively comparison queries
// widen the initial retrieval breadth.
func WithEntityExpansion(factor, cap int) Option {
	return func(r *Retriever) {
		r.expander = entity.NewExpander(entity.WithExpandFactor(factor), entity.WithExpandCap(cap))
	}
}

// New constructs a Retriever.
func New(store StoreQuerier, embedder Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		store:         store,
		embedder:      embedder,
		maxIterations: DefaultMaxIterations,
		expander:      entity.NewExpander(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Outcome is the result of one Retrieve call, including the
// diagnostics generated along the way (malformed predicates,
// filter-driven exclusions when debug is requested).
type Outcome struct {
	Results     []chunk.RetrievalResult
	Diagnostics []string
	// StoreQueries is the number of times the backing store was
	// queried, for testing the "at most max_iterations + 1" invariant.
	StoreQueries int
}

// Retrieve embeds the query once, detects whether it's a comparison
// between two or more entities, then loops query→filter→record
// exclusions→re-query until k results survive query_must filtering or
// the iteration limit is hit. The final list is reordered (comparison
// entities promoted to the front) and truncated to k.
func (r *Retriever) Retrieve(ctx context.Context, query, collection string, k int, debug bool) (Outcome, error) {
	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	embedding, err := r.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		return Outcome{}, fmt.Errorf("embed query: %w", err)
	}

	isComparison := entity.IsComparison(query)
	entities := entity.ExtractEntities(query)
	initialN := r.expander.Expand(k, isComparison)

	var (
		kept         []chunk.RetrievalResult
		keptIDs      = make(map[string]bool)
		excludedIDs  []string
		excludedSet  = make(map[string]bool)
		diagnostics  []string
		storeQueries int
	)

	for iteration := 0; len(kept) < k && iteration < r.maxIterations; iteration++ {
		queryCtx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
		results, err := r.store.Query(queryCtx, collection, embedding, initialN, excludedIDs)
		cancel()
		storeQueries++
		if err != nil {
			return Outcome{}, fmt.Errorf("store query (iteration %d): %w", iteration, err)
		}
		if len(results) == 0 {
			break
		}

		newExclusions := 0
		for _, res := range results {
			if keptIDs[res.ID] || excludedSet[res.ID] {
				continue
			}

			raw := res.Metadata.QueryMustRaw()
			if raw != "" {
				predicate, parseErr := querymust.Parse(raw)
				if parseErr != nil {
					diagnostics = append(diagnostics, fmt.Sprintf("chunk %q: %v; included (fail-open)", res.ID, parseErr))
				} else if !querymust.Satisfies(query, predicate) {
					excludedSet[res.ID] = true
					excludedIDs = append(excludedIDs, res.ID)
					newExclusions++
					if debug {
						diagnostics = append(diagnostics, fmt.Sprintf("chunk %q excluded: query_must not satisfied", res.ID))
					}
					continue
				}
			}

			kept = append(kept, res)
			keptIDs[res.ID] = true
		}

		if newExclusions == 0 {
			break
		}
	}

	kept = sortAndTruncate(kept, k, isComparison, entities)

	return Outcome{
		Results:      kept,
		Diagnostics:  diagnostics,
		StoreQueries: storeQueries,
	}, nil
}

// sortAndTruncate reorders and caps the kept results in one pass:
// results whose title matches an extracted comparison entity are
// promoted to the front (entity.TitleMatchesAny), and each partition
// is independently sorted ascending by distance so the promoted run
// stays internally distance-ordered. Doing both in one pass avoids a
// separate reorder step disagreeing with the final sort.
func sortAndTruncate(results []chunk.RetrievalResult, k int, isComparison bool, entities []string) []chunk.RetrievalResult {
	if !isComparison || len(entities) == 0 {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
		return capAt(results, k)
	}

	var matched, rest []chunk.RetrievalResult
	for _, r := range results {
		if entity.TitleMatchesAny(r.Metadata.Title(), entities) {
			matched = append(matched, r)
		} else {
			rest = append(rest, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Distance < matched[j].Distance })
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Distance < rest[j].Distance })

	return capAt(append(matched, rest...), k)
}

func capAt(results []chunk.RetrievalResult, k int) []chunk.RetrievalResult {
	if k >= 0 && len(results) > k {
		return results[:k]
	}
	return results
}
