package ingest

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askrepo/askrepo/internal/github"
	"github.com/askrepo/askrepo/internal/metadb"
	"github.com/askrepo/askrepo/internal/resolver"
	"github.com/askrepo/askrepo/internal/store"
)

// memoryIndex backs both the ingestion pipeline and the resolver so a full
// ingest-then-ask scenario runs without external services.
type memoryIndex struct {
	rows []*store.IndexedDocument
}

func (m *memoryIndex) BulkInsert(ctx context.Context, docs []*store.IndexedDocument) error {
	m.rows = append(m.rows, docs...)
	return nil
}

func (m *memoryIndex) DeleteProject(ctx context.Context, projectID string) error {
	kept := m.rows[:0]
	for _, r := range m.rows {
		if r.ProjectID != projectID {
			kept = append(kept, r)
		}
	}
	m.rows = kept
	return nil
}

func (m *memoryIndex) ListPaths(ctx context.Context, projectID string, limit int) ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	for _, r := range m.rows {
		if r.ProjectID == projectID && !seen[r.Path] {
			seen[r.Path] = true
			paths = append(paths, r.Path)
		}
	}
	sort.Strings(paths)
	if len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

func (m *memoryIndex) GetByPaths(ctx context.Context, projectID string, paths []string) ([]*store.IndexedDocument, error) {
	want := map[string]bool{}
	for _, p := range paths {
		want[p] = true
	}
	var out []*store.IndexedDocument
	for _, r := range m.rows {
		if r.ProjectID == projectID && want[r.Path] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out, nil
}

func (m *memoryIndex) SimilaritySearch(ctx context.Context, projectID string, vector []float32, threshold float32, topK int) ([]*store.ScoredDocument, error) {
	return nil, nil
}

type staticEmbedder struct{}

func (staticEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

func (staticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}

func TestResyncLeavesOneGeneration(t *testing.T) {
	docs := []github.Document{
		{Path: "main.go", Content: "package main"},
		{Path: "util.go", Content: "package main\n\nfunc helper() {}"},
	}

	idx := &memoryIndex{}
	projects := &fakeProjects{}
	p := NewPipeline(&fakeLoader{docs: docs}, mustChunker(t), staticEmbedder{}, idx, 10, nil)
	c := NewController(p, projects, idx, 0, nil)

	project := testProject()
	c.StartIngestion(project)
	c.Wait()
	firstGen := len(idx.rows)
	require.Positive(t, firstGen)

	// Two sequential resyncs must never accumulate rows.
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Resync(context.Background(), project, "alice"))
		c.Wait()
		assert.Len(t, idx.rows, firstGen, "resync %d left more than one generation", i+1)
	}
	assert.Equal(t, metadb.StatusReady, projects.last())
}

func TestIngestThenResolve(t *testing.T) {
	docs := []github.Document{
		{Path: "package.json", Content: `{"name":"demo","main":"src/index.ts"}`},
		{Path: "src/index.ts", Content: "export function main() {}"},
	}

	idx := &memoryIndex{}
	projects := &fakeProjects{}
	p := NewPipeline(&fakeLoader{docs: docs}, mustChunker(t), staticEmbedder{}, idx, 10, nil)
	c := NewController(p, projects, idx, 0, nil)

	c.StartIngestion(testProject())
	c.Wait()
	require.Equal(t, metadb.StatusReady, projects.last())

	res := resolver.New(idx, staticEmbedder{},
		[]string{"package.json", "go.mod", "readme"}, 0.1, 5, 200, nil)

	rc, err := res.Resolve(context.Background(), "p1", "what does this project do?", nil)
	require.NoError(t, err)

	// The core-file heuristic surfaces the manifest without any explicit
	// selection, and the tree nests src/ under a directory node.
	assert.Equal(t, []string{"package.json"}, rc.Sources)
	require.Len(t, rc.Fragments, 1)
	assert.Contains(t, rc.Fragments[0].Content, `"name":"demo"`)

	expectedTree := "├── package.json\n" +
		"└── src\n" +
		"    └── index.ts"
	assert.Equal(t, expectedTree, rc.Tree)
}
