package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTree_Empty(t *testing.T) {
	assert.Equal(t, EmptyTreeMarker, RenderTree(nil))
	assert.Equal(t, EmptyTreeMarker, RenderTree([]string{}))
}

func TestRenderTree_LexicographicSiblings(t *testing.T) {
	paths := []string{"src/a.ts", "src/b.ts", "readme.md"}

	expected := "├── readme.md\n" +
		"└── src\n" +
		"    ├── a.ts\n" +
		"    └── b.ts"
	assert.Equal(t, expected, RenderTree(paths))
}

func TestRenderTree_Deterministic(t *testing.T) {
	paths := []string{
		"cmd/server/main.go",
		"internal/store/qdrant.go",
		"internal/store/models.go",
		"internal/chunker/chunker.go",
		"go.mod",
	}

	first := RenderTree(paths)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, RenderTree(paths), "rendering must be byte-identical")
	}
}

func TestRenderTree_InsertionOrderIrrelevant(t *testing.T) {
	a := RenderTree([]string{"b/x.go", "a/y.go", "a/x.go"})
	b := RenderTree([]string{"a/x.go", "a/y.go", "b/x.go"})
	assert.Equal(t, a, b)
}

func TestRenderTree_NestedConnectors(t *testing.T) {
	paths := []string{"src/deep/leaf.ts", "src/top.ts"}

	expected := "└── src\n" +
		"    ├── deep\n" +
		"    │   └── leaf.ts\n" +
		"    └── top.ts"
	assert.Equal(t, expected, RenderTree(paths))
}
