// Package store is the boundary to the persistent vector store. It is thin
// by design; Qdrant does the real work.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// insertBatchSize groups points per upsert call.
const insertBatchSize = 100

// vectorName is the named vector carrying chunk embeddings.
const vectorName = "content"

// QdrantStore wraps the Qdrant client with connection management and health
// checks.
type QdrantStore struct {
	client *qdrant.Client
	host   string
	port   int
}

// NewQdrantStore creates a Qdrant client and validates connectivity with a
// retried health check, failing fast if the server is unreachable.
func NewQdrantStore(host string, port int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client: client,
		host:   host,
		port:   port,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return s, nil
}

// healthCheckWithRetry performs a health check with exponential backoff.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the chunk collection (1536-dim cosine vectors)
// and its payload indexes if missing. Idempotent.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     VectorDimension,
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without these indexes project-scoped filtering degrades badly.
	for _, field := range []string{"project_id", "path"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: CollectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs an upsert with exponential backoff.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// BulkInsert stores indexed documents, validating embedding dimensions and
// batching upserts.
func (s *QdrantStore) BulkInsert(ctx context.Context, docs []*IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	for i, doc := range docs {
		if len(doc.Embedding) != VectorDimension {
			return fmt.Errorf("%w: row %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(doc.Embedding), VectorDimension)
		}
	}

	for i := 0; i < len(docs); i += insertBatchSize {
		end := min(i+insertBatchSize, len(docs))
		batch := docs[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, doc := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(doc.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(doc.Embedding...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"project_id":  doc.ProjectID,
					"path":        doc.Path,
					"chunk_index": doc.ChunkIndex,
					"content":     doc.Content,
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// DeleteProject removes every indexed document of a project. Resync calls
// this before inserting the new generation.
func (s *QdrantStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("project_id", projectID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}
	return nil
}

// SimilaritySearch returns the topK chunks of a project most similar to the
// query vector, filtered by the score threshold, best first.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, projectID string, vector []float32, threshold float32, topK int) ([]*ScoredDocument, error) {
	if len(vector) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), VectorDimension)
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Using:          &using,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("project_id", projectID),
			},
		},
		ScoreThreshold: qdrant.PtrOf(threshold),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	scored := make([]*ScoredDocument, 0, len(results))
	for _, result := range results {
		scored = append(scored, &ScoredDocument{
			IndexedDocument: pointToDocument(result.Id.GetUuid(), result.Payload),
			Score:           float64(result.Score),
		})
	}
	return scored, nil
}

// GetByPaths returns every chunk of the given paths via exact metadata
// match, ordered by path then chunk index.
func (s *QdrantStore) GetByPaths(ctx context.Context, projectID string, paths []string) ([]*IndexedDocument, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("project_id", projectID),
			qdrant.NewMatchKeywords("path", paths...),
		},
	}

	var docs []*IndexedDocument
	var offset *qdrant.PointId
	batchSize := uint32(100)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: CollectionName,
			Filter:         filter,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll by paths: %w", err)
		}

		for _, result := range results {
			docs = append(docs, pointToDocument(result.Id.GetUuid(), result.Payload))
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Path != docs[j].Path {
			return docs[i].Path < docs[j].Path
		}
		return docs[i].ChunkIndex < docs[j].ChunkIndex
	})
	return docs, nil
}

// ListPaths returns up to limit unique indexed paths of a project, sorted.
func (s *QdrantStore) ListPaths(ctx context.Context, projectID string, limit int) ([]string, error) {
	seen := make(map[string]bool)
	var offset *qdrant.PointId
	batchSize := uint32(100)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: CollectionName,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch("project_id", projectID),
				},
			},
			Limit:       qdrant.PtrOf(batchSize),
			Offset:      offset,
			WithPayload: qdrant.NewWithPayloadInclude("path"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll paths: %w", err)
		}

		for _, result := range results {
			if path := result.Payload["path"].GetStringValue(); path != "" {
				seen[path] = true
			}
		}

		if uint32(len(results)) < batchSize || len(seen) >= limit {
			break
		}
		offset = results[len(results)-1].Id
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// pointToDocument converts a Qdrant payload back into an IndexedDocument.
func pointToDocument(id string, payload map[string]*qdrant.Value) *IndexedDocument {
	return &IndexedDocument{
		ID:         id,
		ProjectID:  payload["project_id"].GetStringValue(),
		Path:       payload["path"].GetStringValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		Content:    payload["content"].GetStringValue(),
	}
}
