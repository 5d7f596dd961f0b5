package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitycar/dnd1strag/internal/config"
	"github.com/gravitycar/dnd1strag/internal/embedding"
	"github.com/gravitycar/dnd1strag/internal/llm"
	"github.com/gravitycar/dnd1strag/internal/ragsvc"
	"github.com/gravitycar/dnd1strag/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()
	slog.Info("starting ragserver", "config", cfg.String())

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database")

	backend, err := store.NewPostgresBackend(ctx, pool)
	if err != nil {
		slog.Error("failed to init vector store schema", "error", err)
		os.Exit(1)
	}
	gateway := store.New(backend,
		store.WithWriteBatchSize(cfg.WriteBatchSize),
		store.WithTruncateBatchSize(cfg.DefaultTruncateBatch),
		store.WithLogger(logger),
	)

	embedder, err := embedding.NewOpenAIEmbedder(cfg.OpenAIKey)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
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

	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", handleQuery(svc))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      logRequests(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

type queryRequest struct {
	Question       string `json:"question"`
	CollectionName string `json:"collection_name"`
	K              int    `json:"k"`
	Debug          bool   `json:"debug"`
}

func handleQuery(svc *ragsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if req.Question == "" || req.CollectionName == "" {
			http.Error(w, "question and collection_name are required", http.StatusBadRequest)
			return
		}

		out, err := svc.Query(r.Context(), ragsvc.QueryRequest{
			Question:       req.Question,
			CollectionName: req.CollectionName,
			K:              req.K,
			Debug:          req.Debug,
		})
		if err != nil {
			slog.Error("query failed", "error", err, "collection", req.CollectionName)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
