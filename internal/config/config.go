// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all tunable settings. Values come from environment variables
// (a local .env file is loaded by the binaries before this runs).
type Config struct {
	// Listen address for the HTTP API.
	Port string

	// Qdrant connection.
	QdrantHost string
	QdrantPort int

	// SQLite data directory for project/chat/usage metadata.
	DataDir string

	// External provider credentials.
	OpenAIKey   string
	GitHubToken string

	// Chunking policy: window size and overlap in characters.
	ChunkSize    int
	ChunkOverlap int

	// Ingestion: documents per batch, per-run deadline in seconds (0 = none).
	BatchSize         int
	IngestTimeoutSecs int

	// Retrieval: similarity threshold, top-K hits, max paths in the tree summary.
	ScoreThreshold float32
	TopK           int
	TreePathLimit  int

	// CoreFilePatterns are substring-matched against indexed paths to pick
	// fallback context files when the caller selects fewer than three.
	CoreFilePatterns []string

	// Daily per-user quotas, keyed by action name. Zero means unlimited.
	DailyQuotas map[string]int
}

// Load builds a Config from the environment with defaults suitable for
// local development.
func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		QdrantHost:        getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:        getEnvInt("QDRANT_PORT", 6334),
		DataDir:           getEnv("DATA_DIR", "./data"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		GitHubToken:       os.Getenv("GITHUB_TOKEN"),
		ChunkSize:         getEnvInt("CHUNK_SIZE", 1500),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 200),
		BatchSize:         getEnvInt("INGEST_BATCH_SIZE", 10),
		IngestTimeoutSecs: getEnvInt("INGEST_TIMEOUT_SECS", 900),
		ScoreThreshold:    float32(getEnvFloat("SCORE_THRESHOLD", 0.1)),
		TopK:              getEnvInt("SEARCH_TOP_K", 5),
		TreePathLimit:     getEnvInt("TREE_PATH_LIMIT", 200),
		CoreFilePatterns:  getEnvList("CORE_FILE_PATTERNS", defaultCorePatterns),
		DailyQuotas: map[string]int{
			"chat":   getEnvInt("QUOTA_CHAT_PER_DAY", 50),
			"create": getEnvInt("QUOTA_CREATE_PER_DAY", 10),
		},
	}
}

// defaultCorePatterns match manifest files and common entrypoints.
var defaultCorePatterns = []string{
	"package.json",
	"go.mod",
	"cargo.toml",
	"pyproject.toml",
	"pom.xml",
	"readme",
	"main.go",
	"index.ts",
	"index.js",
	"main.py",
	"app.py",
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
