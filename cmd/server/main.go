// Package main provides the askrepo HTTP API server.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/askrepo/askrepo/internal/chat"
	"github.com/askrepo/askrepo/internal/chunker"
	"github.com/askrepo/askrepo/internal/config"
	"github.com/askrepo/askrepo/internal/embedding"
	ghclient "github.com/askrepo/askrepo/internal/github"
	"github.com/askrepo/askrepo/internal/httpapi"
	"github.com/askrepo/askrepo/internal/ingest"
	"github.com/askrepo/askrepo/internal/metadb"
	"github.com/askrepo/askrepo/internal/resolver"
	"github.com/askrepo/askrepo/internal/store"
)

func main() {
	// Load .env file if present (local development), ignore if missing.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg := config.Load()
	logger := slog.Default()

	// Vector store.
	qdrant, err := store.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort)
	if err != nil {
		log.Fatalf("failed to connect to Qdrant: %v", err)
	}
	defer qdrant.Close()

	if err := qdrant.EnsureCollection(ctx); err != nil {
		log.Fatalf("failed to ensure collection: %v", err)
	}

	// Metadata store.
	db, err := metadb.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open metadata db: %v", err)
	}
	defer db.Close()

	// OpenAI client, shared by embeddings and generation.
	openaiClient, err := embedding.NewClient(cfg.OpenAIKey)
	if err != nil {
		log.Fatalf("failed to create openai client: %v", err)
	}
	embedder := embedding.NewEmbedder(openaiClient, 0)

	// GitHub client for the service token. Per-user tokens would get their
	// own client via the same factory.
	gh, err := ghclient.NewClient(ctx, cfg.GitHubToken)
	if err != nil {
		log.Fatalf("failed to create github client: %v", err)
	}
	loader := ghclient.NewLoader(gh, logger)

	chk, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("invalid chunking config: %v", err)
	}

	pipeline := ingest.NewPipeline(loader, chk, embedder, qdrant, cfg.BatchSize, logger)
	controller := ingest.NewController(pipeline, db, qdrant,
		time.Duration(cfg.IngestTimeoutSecs)*time.Second, logger)

	res := resolver.New(qdrant, embedder, cfg.CoreFilePatterns,
		cfg.ScoreThreshold, cfg.TopK, cfg.TreePathLimit, logger)
	provider := chat.NewOpenAIProvider(openaiClient.Client(), "")
	streamer := chat.NewStreamer(provider, res, db, db, cfg.DailyQuotas["chat"], logger)

	api := httpapi.NewServer(db, controller, streamer, cfg.DailyQuotas, logger)
	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: api.Routes(qdrant),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("Starting HTTP server on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	// Let in-flight ingestion runs record their outcome before exiting.
	controller.Wait()
}
