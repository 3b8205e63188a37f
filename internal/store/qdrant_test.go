// +build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore connects to a local Qdrant and ensures the collection
// exists. Skips the test if Qdrant is not running.
func setupTestStore(t *testing.T) *QdrantStore {
	s, err := NewQdrantStore("localhost", 6334)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	err = s.EnsureCollection(context.Background())
	require.NoError(t, err, "Failed to ensure collection")

	return s
}

func flatEmbedding(value float32) []float32 {
	embedding := make([]float32, VectorDimension)
	for i := range embedding {
		embedding[i] = value
	}
	return embedding
}

func chunkRow(projectID, path string, index int, embedding []float32) *IndexedDocument {
	return &IndexedDocument{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		Path:       path,
		ChunkIndex: index,
		Content:    "chunk " + path,
		Embedding:  embedding,
	}
}

func TestInsertSearchRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	// Unique project to avoid conflicts with other tests.
	projectID := uuid.New().String()
	embedding := flatEmbedding(0.1)

	row := chunkRow(projectID, "src/index.ts", 0, embedding)
	err := s.BulkInsert(ctx, []*IndexedDocument{row})
	require.NoError(t, err, "Failed to insert chunk")

	results, err := s.SimilaritySearch(ctx, projectID, embedding, 0.1, 5)
	require.NoError(t, err, "Failed to search chunks")

	require.Len(t, results, 1, "Expected 1 search result")
	result := results[0]
	assert.Equal(t, row.Path, result.Path)
	assert.Equal(t, row.ChunkIndex, result.ChunkIndex)
	assert.Equal(t, row.Content, result.Content)
	assert.Greater(t, result.Score, 0.0)
	assert.LessOrEqual(t, result.Score, 1.0)
}

func TestSearchIsProjectScoped(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	projectA := uuid.New().String()
	projectB := uuid.New().String()
	embedding := flatEmbedding(0.2)

	err := s.BulkInsert(ctx, []*IndexedDocument{
		chunkRow(projectA, "a.go", 0, embedding),
		chunkRow(projectB, "b.go", 0, embedding),
	})
	require.NoError(t, err)

	results, err := s.SimilaritySearch(ctx, projectA, embedding, 0.1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.go", results[0].Path)
}

func TestGetByPathsOrdering(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	projectID := uuid.New().String()
	embedding := flatEmbedding(0.3)

	// Insert out of order to verify the returned ordering.
	err := s.BulkInsert(ctx, []*IndexedDocument{
		chunkRow(projectID, "src/b.ts", 1, embedding),
		chunkRow(projectID, "src/a.ts", 0, embedding),
		chunkRow(projectID, "src/b.ts", 0, embedding),
		chunkRow(projectID, "src/c.ts", 0, embedding),
	})
	require.NoError(t, err)

	docs, err := s.GetByPaths(ctx, projectID, []string{"src/a.ts", "src/b.ts"})
	require.NoError(t, err, "Failed to get chunks by paths")

	require.Len(t, docs, 3, "Expected chunks of the requested paths only")
	assert.Equal(t, "src/a.ts", docs[0].Path)
	assert.Equal(t, "src/b.ts", docs[1].Path)
	assert.Equal(t, 0, docs[1].ChunkIndex)
	assert.Equal(t, "src/b.ts", docs[2].Path)
	assert.Equal(t, 1, docs[2].ChunkIndex)
}

func TestListPaths(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	projectID := uuid.New().String()
	embedding := flatEmbedding(0.4)

	err := s.BulkInsert(ctx, []*IndexedDocument{
		chunkRow(projectID, "docs/b.md", 0, embedding),
		chunkRow(projectID, "docs/a.md", 0, embedding),
		chunkRow(projectID, "docs/a.md", 1, embedding),
	})
	require.NoError(t, err)

	// Wait for Qdrant to index points (eventual consistency).
	time.Sleep(100 * time.Millisecond)

	paths, err := s.ListPaths(ctx, projectID, 200)
	require.NoError(t, err, "Failed to list paths")
	assert.Equal(t, []string{"docs/a.md", "docs/b.md"}, paths,
		"Paths should be unique and sorted")
}

func TestDeleteProject(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	projectID := uuid.New().String()
	embedding := flatEmbedding(0.5)

	err := s.BulkInsert(ctx, []*IndexedDocument{
		chunkRow(projectID, "gone.go", 0, embedding),
	})
	require.NoError(t, err)

	err = s.DeleteProject(ctx, projectID)
	require.NoError(t, err, "Failed to delete project")

	time.Sleep(100 * time.Millisecond)

	paths, err := s.ListPaths(ctx, projectID, 200)
	require.NoError(t, err)
	assert.Empty(t, paths, "Expected no paths after project deletion")
}

func TestDimensionValidation(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	wrong := chunkRow(uuid.New().String(), "wrong.go", 0, make([]float32, 512))
	err := s.BulkInsert(ctx, []*IndexedDocument{wrong})
	assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong embedding dimension")

	_, err = s.SimilaritySearch(ctx, uuid.New().String(), make([]float32, 512), 0.1, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong query dimension")
}

func TestBatchInsert(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	ctx := context.Background()

	projectID := uuid.New().String()
	embedding := flatEmbedding(0.6)

	// More rows than one upsert batch of 100.
	rows := make([]*IndexedDocument, 250)
	for i := range rows {
		rows[i] = chunkRow(projectID, "big/file.go", i, embedding)
	}

	err := s.BulkInsert(ctx, rows)
	require.NoError(t, err, "Failed to insert batch")

	docs, err := s.GetByPaths(ctx, projectID, []string{"big/file.go"})
	require.NoError(t, err)
	assert.Len(t, docs, 250, "Expected all chunks across upsert batches")
}
