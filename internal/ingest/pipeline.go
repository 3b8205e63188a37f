// Package ingest orchestrates the ingestion pipeline (load, chunk, embed,
// persist) and owns the project lifecycle state machine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/askrepo/askrepo/internal/chunker"
	"github.com/askrepo/askrepo/internal/github"
	"github.com/askrepo/askrepo/internal/metadb"
	"github.com/askrepo/askrepo/internal/store"
)

// ErrAllBatchesFailed marks a run where no batch persisted any rows.
var ErrAllBatchesFailed = errors.New("every ingestion batch failed")

// Loader produces a project's snapshot documents.
type Loader interface {
	Load(ctx context.Context, remote string) ([]github.Document, error)
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexStore is the slice of the vector store the pipeline needs.
type IndexStore interface {
	BulkInsert(ctx context.Context, docs []*store.IndexedDocument) error
	DeleteProject(ctx context.Context, projectID string) error
}

// RunResult holds statistics of one ingestion run.
type RunResult struct {
	TotalDocs      int
	TotalChunks    int
	InsertedChunks int
	BatchesTotal   int
	BatchesFailed  int
	Duration       time.Duration
}

// Pipeline drives Loader -> Chunker -> Embedder -> IndexStore for one
// project snapshot.
type Pipeline struct {
	loader    Loader
	chunker   *chunker.Chunker
	embedder  Embedder
	index     IndexStore
	batchSize int
	logger    *slog.Logger
}

// NewPipeline creates an ingestion pipeline. batchSize is the number of
// documents processed per batch; 0 uses 10.
func NewPipeline(loader Loader, ch *chunker.Chunker, embedder Embedder, index IndexStore, batchSize int, logger *slog.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		loader:    loader,
		chunker:   ch,
		embedder:  embedder,
		index:     index,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run ingests one snapshot of the project. Documents are processed in
// fixed-size batches, strictly sequentially; a batch that fails to embed or
// insert is logged and skipped so a partial index survives. Run fails only
// when the snapshot cannot be loaded at all or when every batch failed.
func (p *Pipeline) Run(ctx context.Context, project *metadb.Project) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}

	docs, err := p.loader.Load(ctx, project.RemoteURL)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	result.TotalDocs = len(docs)
	p.logger.Info("loaded snapshot", "project", project.ID, "documents", len(docs))

	for i := 0; i < len(docs); i += p.batchSize {
		end := min(i+p.batchSize, len(docs))
		result.BatchesTotal++

		inserted, chunks, err := p.processBatch(ctx, project.ID, docs[i:end])
		result.TotalChunks += chunks
		if err != nil {
			// Partial-index tolerance: a lost batch is better than a lost run.
			result.BatchesFailed++
			p.logger.Warn("batch failed", "project", project.ID, "batch", result.BatchesTotal, "error", err)
			continue
		}
		result.InsertedChunks += inserted
	}

	result.Duration = time.Since(start)
	p.logger.Info("ingestion run complete",
		"project", project.ID,
		"documents", result.TotalDocs,
		"chunks", result.InsertedChunks,
		"failed_batches", result.BatchesFailed,
		"duration", result.Duration,
	)

	if result.BatchesTotal > 0 && result.BatchesFailed == result.BatchesTotal {
		return result, ErrAllBatchesFailed
	}
	return result, nil
}

// processBatch chunks one batch of documents, embeds every chunk and
// bulk-inserts the assembled rows. Returns rows inserted and chunks produced.
func (p *Pipeline) processBatch(ctx context.Context, projectID string, docs []github.Document) (int, int, error) {
	var chunks []chunker.Chunk
	for _, doc := range docs {
		// Zero-length or non-text documents chunk to nothing; skip them
		// without failing the batch.
		chunks = append(chunks, p.chunker.Split(doc.Path, doc.Content)...)
	}
	if len(chunks) == 0 {
		return 0, 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, len(chunks), fmt.Errorf("embed: %w", err)
	}

	rows := make([]*store.IndexedDocument, len(chunks))
	for i, c := range chunks {
		rows[i] = &store.IndexedDocument{
			ID:         uuid.New().String(),
			ProjectID:  projectID,
			Path:       c.Path,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Embedding:  embeddings[i],
		}
	}

	if err := p.index.BulkInsert(ctx, rows); err != nil {
		return 0, len(chunks), fmt.Errorf("bulk insert: %w", err)
	}
	return len(rows), len(chunks), nil
}
