package store

// IndexedDocument is one persisted chunk of a project's source: the unit of
// embedding and retrieval. For a given project, the full set of rows present
// at any time corresponds to exactly one completed ingestion generation; a
// resync deletes all prior rows before inserting new ones.
type IndexedDocument struct {
	ID         string // UUID
	ProjectID  string
	Path       string // originating file path, relative to repo root
	ChunkIndex int    // position within the file's chunk sequence
	Content    string
	Embedding  []float32 // 1536-dim vector (text-embedding-3-small)
}

// ScoredDocument pairs a search hit with its similarity score.
type ScoredDocument struct {
	*IndexedDocument
	Score float64
}

// CollectionName is the single Qdrant collection for all projects; rows are
// scoped by the project_id payload field.
const CollectionName = "code_chunks"

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536
