// Package ragsvc wires the retrieval core's components into the single
// entry point the HTTP server and CLI both call: query(question,
// collection_name, k, debug) -> RAGOutput.
package ragsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/embedding"
	"github.com/gravitycar/dnd1strag/internal/entity"
	"github.com/gravitycar/dnd1strag/internal/llm"
	"github.com/gravitycar/dnd1strag/internal/prompt"
	"github.com/gravitycar/dnd1strag/internal/retrieval"
	"github.com/gravitycar/dnd1strag/internal/store"
)

// DimensionChecker is the subset of store.Gateway the Service uses to
// verify the embedder and collection agree on vector dimensionality.
type DimensionChecker interface {
	Dimension(ctx context.Context, name string) (int, error)
}

// Service is the retrieval core's top-level entry point.
type Service struct {
	gateway   DimensionChecker
	embedder  embedding.QueryEmbedder
	retriever *retrieval.Retriever
	truncator *retrieval.Truncator
	assembler *prompt.Assembler
	kDefault  int
}

// settings collects every Option before the sub-components are
// constructed, since several of them (entity expansion, truncation
// thresholds, the completion model/temperature) configure a
// constructor argument rather than a field on an already-built
// Service.
type settings struct {
	kDefault int

	maxIterations int
	minResults    int
	hasExpansion  bool
	expandFactor  int
	expandCap     int

	hasTruncation  bool
	gapThreshold   float64
	distanceOffset float64

	model       string
	temperature float64
}

// Option configures a Service.
type Option func(*settings)

// WithKDefault overrides the caller-overridable default k.
func WithKDefault(k int) Option {
	return func(s *settings) { s.kDefault = k }
}

// WithMaxIterations overrides retrieval.DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(s *settings) { s.maxIterations = n }
}

// WithMinResults overrides retrieval.MinFloor, the truncator's minimum
// kept-result count.
func WithMinResults(n int) Option {
	return func(s *settings) { s.minResults = n }
}

// WithEntityExpansion overrides how aggressively comparison queries
// widen the initial retrieval breadth.
func WithEntityExpansion(factor, cap int) Option {
	return func(s *settings) {
		s.hasExpansion = true
		s.expandFactor = factor
		s.expandCap = cap
	}
}

// WithTruncation overrides the adaptive truncator's gap threshold and
// distance offset.
func WithTruncation(gapThreshold, distanceOffset float64) Option {
	return func(s *settings) {
		s.hasTruncation = true
		s.gapThreshold = gapThreshold
		s.distanceOffset = distanceOffset
	}
}

// WithModel overrides the completion model the assembler targets.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithTemperature overrides the completion call's sampling
// temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// New wires a Service from its components. gateway additionally
// satisfies retrieval.StoreQuerier; callers pass the concrete
// *store.Gateway.
func New(gateway *store.Gateway, embedder embedding.QueryEmbedder, llmClient llm.Client, opts ...Option) *Service {
	cfg := settings{kDefault: 15}
	for _, opt := range opts {
		opt(&cfg)
	}

	var retrieverOpts []retrieval.Option
	if cfg.maxIterations > 0 {
		retrieverOpts = append(retrieverOpts, retrieval.WithMaxIterations(cfg.maxIterations))
	}
	if cfg.hasExpansion {
		retrieverOpts = append(retrieverOpts, retrieval.WithEntityExpansion(cfg.expandFactor, cfg.expandCap))
	} else {
		retrieverOpts = append(retrieverOpts, retrieval.WithEntityExpansion(entity.DefaultExpandFactor, entity.DefaultExpandCap))
	}

	var truncatorOpts []retrieval.TruncatorOption
	if cfg.minResults > 0 {
		truncatorOpts = append(truncatorOpts, retrieval.WithMinFloor(cfg.minResults))
	}
	if cfg.hasTruncation {
		truncatorOpts = append(truncatorOpts, retrieval.WithGapThreshold(cfg.gapThreshold), retrieval.WithDistanceOffset(cfg.distanceOffset))
	}

	var assemblerOpts []prompt.Option
	if cfg.model != "" {
		assemblerOpts = append(assemblerOpts, prompt.WithModel(cfg.model))
	}
	assemblerOpts = append(assemblerOpts, prompt.WithTemperature(cfg.temperature))

	return &Service{
		gateway:   gateway,
		embedder:  embedder,
		retriever: retrieval.New(gateway, embedder, retrieverOpts...),
		truncator: retrieval.NewTruncator(truncatorOpts...),
		assembler: prompt.New(llmClient, assemblerOpts...),
		kDefault:  cfg.kDefault,
	}
}

// QueryRequest is one inbound question against a collection.
type QueryRequest struct {
	Question       string
	CollectionName string
	K              int
	Debug          bool
}

// Query embeds, retrieves, filters, truncates, and assembles a grounded
// answer for one question.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*chunk.RAGOutput, error) {
	k := req.K
	if k <= 0 {
		k = s.kDefault
	}

	out := &chunk.RAGOutput{
		Meta: map[string]any{
			"collection": req.CollectionName,
			"k":          k,
		},
	}

	collectionDim, err := s.gateway.Dimension(ctx, req.CollectionName)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
		return out, fmt.Errorf("resolve collection dimension: %w", err)
	}
	if err := embedding.CheckDimension(s.embedder, collectionDim); err != nil {
		out.Errors = append(out.Errors, err.Error())
		return out, err
	}

	outcome, err := s.retriever.Retrieve(ctx, req.Question, req.CollectionName, k, req.Debug)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
		return out, fmt.Errorf("retrieve: %w", err)
	}
	out.Diagnostics = append(out.Diagnostics, outcome.Diagnostics...)
	if req.Debug {
		out.Meta["store_queries"] = outcome.StoreQueries
	}

	truncated := s.truncator.Truncate(outcome.Results, k)
	if req.Debug {
		out.Meta["retrieved_count"] = len(outcome.Results)
		out.Meta["truncated_count"] = len(truncated)
	}

	result, err := s.assembler.Assemble(ctx, req.Question, truncated)
	out.Diagnostics = append(out.Diagnostics, result.Diagnostics...)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
		return out, nil
	}

	answer := result.Answer
	out.Answer = &answer
	out.Usage = result.Usage
	return out, nil
}

// ErrConfig is the fatal configuration error kind. Query does not
// return it: an embedder/collection dimension mismatch surfaces as
// embedding.ErrDimensionMismatch, and config.Load exits the process
// when a required environment variable is unset.
var ErrConfig = errors.New("configuration error")
