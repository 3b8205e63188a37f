// Package httpapi exposes the ingestion and chat operations over HTTP.
package httpapi

import (
	"time"

	"github.com/askrepo/askrepo/internal/metadb"
)

// CreateProjectRequest imports a repository as a new project.
type CreateProjectRequest struct {
	Name      string `json:"name"`
	RemoteURL string `json:"remote_url"`
}

// ChatRequest asks a question about a project, optionally constrained to
// explicitly selected paths.
type ChatRequest struct {
	Question string   `json:"question"`
	Paths    []string `json:"paths,omitempty"`
}

// ProjectResponse is the external view of a project record.
type ProjectResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	RemoteURL     string     `json:"remote_url"`
	Status        string     `json:"status"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ErrorResponse is the structured error body used before any streaming has
// begun.
type ErrorResponse struct {
	Error string `json:"error"`
}

func toProjectResponse(p *metadb.Project) ProjectResponse {
	return ProjectResponse{
		ID:            p.ID,
		Name:          p.Name,
		RemoteURL:     p.RemoteURL,
		Status:        string(p.Status),
		LastIndexedAt: p.LastIndexedAt,
		CreatedAt:     p.CreatedAt,
	}
}
