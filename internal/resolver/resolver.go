// Package resolver assembles the context window for a question: explicit
// files, heuristic core files and similarity hits, merged and deduplicated.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/askrepo/askrepo/internal/store"
)

// maxCoreFiles is how many heuristic core files are appended when the
// caller selected fewer than that many paths explicitly.
const maxCoreFiles = 3

// SearchStore is the slice of the index store the resolver needs.
type SearchStore interface {
	ListPaths(ctx context.Context, projectID string, limit int) ([]string, error)
	GetByPaths(ctx context.Context, projectID string, paths []string) ([]*store.IndexedDocument, error)
	SimilaritySearch(ctx context.Context, projectID string, vector []float32, threshold float32, topK int) ([]*store.ScoredDocument, error)
}

// QueryEmbedder embeds a question for similarity search.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Fragment is one (path, content) pair presented to the model.
type Fragment struct {
	Path    string
	Content string
}

// Context is the resolved context window for one question. Sources is the
// ordered provenance path list; content per path is immutable within an
// index generation, so each path appears exactly once.
type Context struct {
	Tree      string
	Fragments []Fragment
	Sources   []string
}

// Resolver selects which code fragments to show the model.
type Resolver struct {
	store        SearchStore
	embedder     QueryEmbedder
	corePatterns []string
	threshold    float32
	topK         int
	pathLimit    int
	logger       *slog.Logger
}

// New creates a Resolver. corePatterns are substring-matched (case
// insensitive) against indexed paths to find manifest/entrypoint files.
func New(s SearchStore, embedder QueryEmbedder, corePatterns []string, threshold float32, topK, pathLimit int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:        s,
		embedder:     embedder,
		corePatterns: corePatterns,
		threshold:    threshold,
		topK:         topK,
		pathLimit:    pathLimit,
		logger:       logger,
	}
}

// Resolve builds the context window for a question. Explicit selections
// come first, then heuristic core files, then similarity hits; duplicates
// collapse onto the explicitly fetched copy. A similarity-search failure
// degrades to zero hits rather than failing the answer.
func (r *Resolver) Resolve(ctx context.Context, projectID, question string, selected []string) (*Context, error) {
	paths, err := r.store.ListPaths(ctx, projectID, r.pathLimit)
	if err != nil {
		return nil, err
	}

	targets := r.targetPaths(selected, paths)

	var fragments []Fragment
	seen := make(map[string]bool)

	if len(targets) > 0 {
		rows, err := r.store.GetByPaths(ctx, projectID, targets)
		if err != nil {
			return nil, err
		}
		byPath := groupByPath(rows)
		for _, target := range targets {
			if content, ok := byPath[target]; ok && !seen[target] {
				seen[target] = true
				fragments = append(fragments, Fragment{Path: target, Content: content})
			}
		}
	}

	for _, hit := range r.similarityHits(ctx, projectID, question) {
		if seen[hit.Path] {
			continue
		}
		seen[hit.Path] = true
		fragments = append(fragments, Fragment{Path: hit.Path, Content: hit.Content})
	}

	sources := make([]string, len(fragments))
	for i, f := range fragments {
		sources[i] = f.Path
	}

	return &Context{
		Tree:      RenderTree(paths),
		Fragments: fragments,
		Sources:   sources,
	}, nil
}

// targetPaths combines explicit selections with up to three core-file
// matches, deduplicated in priority order.
func (r *Resolver) targetPaths(selected, indexed []string) []string {
	targets := make([]string, 0, len(selected)+maxCoreFiles)
	seen := make(map[string]bool)
	for _, p := range selected {
		if p != "" && !seen[p] {
			seen[p] = true
			targets = append(targets, p)
		}
	}

	if len(selected) >= maxCoreFiles {
		return targets
	}

	added := 0
	for _, pattern := range r.corePatterns {
		if added >= maxCoreFiles {
			break
		}
		for _, path := range indexed {
			if seen[path] || !strings.Contains(strings.ToLower(path), pattern) {
				continue
			}
			seen[path] = true
			targets = append(targets, path)
			added++
			break
		}
	}
	return targets
}

// similarityHits runs the vector search leg. Zero hits is a valid outcome;
// a failed search or embedding call is logged and treated the same way.
func (r *Resolver) similarityHits(ctx context.Context, projectID, question string) []*store.ScoredDocument {
	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		r.logger.Warn("query embedding failed, skipping similarity leg", "project", projectID, "error", err)
		return nil
	}

	hits, err := r.store.SimilaritySearch(ctx, projectID, vector, r.threshold, r.topK)
	if err != nil {
		r.logger.Warn("similarity search failed, continuing with explicit context", "project", projectID, "error", err)
		return nil
	}
	return hits
}

// groupByPath reassembles per-path content from chunk rows. Rows arrive
// sorted by (path, chunk index); overlapping chunk text is accepted.
func groupByPath(rows []*store.IndexedDocument) map[string]string {
	grouped := make(map[string][]string)
	for _, row := range rows {
		grouped[row.Path] = append(grouped[row.Path], row.Content)
	}
	out := make(map[string]string, len(grouped))
	for path, parts := range grouped {
		out[path] = strings.Join(parts, "\n")
	}
	return out
}
