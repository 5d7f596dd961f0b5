// Command ragcli is a one-shot client for the retrieval core: it either
// asks a single question against a collection, or seeds a collection
// from a JSON file of pre-embedded chunks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/config"
	"github.com/gravitycar/dnd1strag/internal/embedding"
	"github.com/gravitycar/dnd1strag/internal/llm"
	"github.com/gravitycar/dnd1strag/internal/ragsvc"
	"github.com/gravitycar/dnd1strag/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ragcli <query|seed> [flags]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "query":
		runQuery(os.Args[2:])
	case "seed":
		runSeed(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q; expected query or seed\n", os.Args[1])
		os.Exit(1)
	}
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	collection := fs.String("collection", "", "collection to query (required)")
	question := fs.String("question", "", "question text (required)")
	k := fs.Int("k", 0, "max results (0 uses RETRIEVAL_K_DEFAULT)")
	debug := fs.Bool("debug", false, "include diagnostics in the output")
	fs.Parse(args)

	if *collection == "" || *question == "" {
		fmt.Fprintln(os.Stderr, "both -collection and -question are required")
		os.Exit(1)
	}

	cfg := config.Load()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("connect to database", err)
	}
	defer pool.Close()

	backend, err := store.NewPostgresBackend(ctx, pool)
	if err != nil {
		fatal("init vector store schema", err)
	}
	gateway := store.New(backend)

	embedder, err := embedding.NewOpenAIEmbedder(cfg.OpenAIKey)
	if err != nil {
		fatal("create embedder", err)
	}
	llmClient := llm.NewOpenAIClient(cfg.OpenAIKey)

	svc := ragsvc.New(gateway, embedder, llmClient,
		ragsvc.WithKDefault(cfg.KDefault),
		ragsvc.WithMaxIterations(cfg.MaxIterations),
		ragsvc.WithMinResults(cfg.MinResults),
		ragsvc.WithEntityExpansion(cfg.EntityExpandFactor, cfg.EntityExpandCap),
		ragsvc.WithTruncation(cfg.GapThreshold, cfg.DistanceOffset),
		ragsvc.WithModel(cfg.LLMModel),
		ragsvc.WithTemperature(cfg.Temperature),
	)

	out, err := svc.Query(ctx, ragsvc.QueryRequest{
		Question:       *question,
		CollectionName: *collection,
		K:              *k,
		Debug:          *debug,
	})
	if err != nil {
		slog.Error("query returned an error", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal("encode output", err)
	}
}

// seedFile is the shape ragcli seed reads: a flat JSON array of chunks
// carrying a precomputed embedding. A chunk may optionally carry a
// stats block (a monster's structured statistics, e.g. "AC": "5",
// "HD": "8+3") alongside its text and metadata; when present it is
// flattened, prepended to the chunk's text and merged into its
// metadata before validation.
type seedFile struct {
	Dimension int `json:"dimension"`
	Chunks    []struct {
		ID        string            `json:"id"`
		Text      string            `json:"text"`
		Embedding []float32         `json:"embedding"`
		Metadata  chunk.Metadata    `json:"metadata"`
		Stats     map[string]string `json:"stats,omitempty"`
	} `json:"chunks"`
}

func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	collection := fs.String("collection", "", "collection to seed (required)")
	path := fs.String("file", "", "path to a JSON file of pre-embedded chunks (required)")
	batch := fs.Int("batch", 0, "write batch size (0 uses the gateway default)")
	fs.Parse(args)

	if *collection == "" || *path == "" {
		fmt.Fprintln(os.Stderr, "both -collection and -file are required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		fatal("read seed file", err)
	}
	var sf seedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		fatal("parse seed file", err)
	}

	cfg := config.Load()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("connect to database", err)
	}
	defer pool.Close()

	backend, err := store.NewPostgresBackend(ctx, pool)
	if err != nil {
		fatal("init vector store schema", err)
	}
	gateway := store.New(backend)

	if err := gateway.GetOrCreate(ctx, *collection, sf.Dimension, nil); err != nil {
		fatal("get_or_create collection", err)
	}

	items := make([]chunk.Chunk, len(sf.Chunks))
	for i, c := range sf.Chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}

		text, metadata := c.Text, c.Metadata
		if len(c.Stats) > 0 {
			var statMeta chunk.Metadata
			text, statMeta = chunk.PrependStats(c.Stats, c.Text)
			if metadata == nil {
				metadata = make(chunk.Metadata, len(statMeta))
			}
			for k, v := range statMeta {
				metadata[k] = v
			}
		}

		items[i] = chunk.Chunk{ID: id, Text: text, Embedding: c.Embedding, Metadata: metadata}
		if err := items[i].Validate(); err != nil {
			fatal(fmt.Sprintf("chunk %d invalid", i), err)
		}
	}

	written, warnings, err := gateway.Add(ctx, *collection, items, *batch)
	if err != nil {
		fatal("write chunks", err)
	}
	for _, w := range warnings {
		slog.Warn(w)
	}
	slog.Info("seed complete", "collection", *collection, "written", written)
}

func fatal(action string, err error) {
	slog.Error(action+" failed", "error", err)
	os.Exit(1)
}
