package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/askrepo/askrepo/internal/chat"
	"github.com/askrepo/askrepo/internal/ingest"
	"github.com/askrepo/askrepo/internal/metadb"
)

// Server wires the HTTP surface to the core components. Authentication is
// external; callers identify themselves with the X-User-ID header.
type Server struct {
	db         *metadb.DB
	controller *ingest.Controller
	streamer   *chat.Streamer
	quotas     map[string]int
	logger     *slog.Logger
}

// NewServer creates the HTTP API server.
func NewServer(db *metadb.DB, controller *ingest.Controller, streamer *chat.Streamer, quotas map[string]int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:         db,
		controller: controller,
		streamer:   streamer,
		quotas:     quotas,
		logger:     logger,
	}
}

// Routes builds the request mux.
func (s *Server) Routes(health HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", NewHealthHandler(health))
	mux.HandleFunc("GET /{$}", NewLandingHandler())
	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	mux.HandleFunc("POST /projects/{id}/resync", s.handleResync)
	mux.HandleFunc("GET /projects/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /projects/{id}/chat", s.handleChat)
	return mux
}

// handleCreateProject imports a repository: the project row is written in
// INDEXING state, the response returns immediately and ingestion runs
// asynchronously.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.RemoteURL == "" {
		writeError(w, http.StatusBadRequest, "name and remote_url are required")
		return
	}

	allowed, err := s.db.CheckQuota(r.Context(), userID, "create", s.quotas["create"])
	if err != nil {
		s.internalError(w, "check create quota", err)
		return
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "daily project quota exceeded")
		return
	}
	if err := s.db.IncrementUsage(r.Context(), userID, "create"); err != nil {
		s.internalError(w, "record create usage", err)
		return
	}

	project, err := s.db.CreateProject(r.Context(), userID, req.Name, req.RemoteURL)
	if err != nil {
		s.internalError(w, "create project", err)
		return
	}

	s.controller.StartIngestion(project)
	writeJSON(w, http.StatusAccepted, toProjectResponse(project))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

// handleResync wipes the previous index generation and re-runs ingestion
// asynchronously. A project stuck in ERROR is resync-able like any other.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}

	userID := r.Header.Get("X-User-ID")
	if err := s.controller.Resync(r.Context(), project, userID); err != nil {
		if errors.Is(err, metadb.ErrNotOwner) {
			writeError(w, http.StatusForbidden, "not your project")
			return
		}
		s.internalError(w, "resync", err)
		return
	}

	project.Status = metadb.StatusIndexing
	writeJSON(w, http.StatusAccepted, toProjectResponse(project))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}

	messages, err := s.db.History(r.Context(), project.ID)
	if err != nil {
		s.internalError(w, "load history", err)
		return
	}
	if messages == nil {
		messages = []*metadb.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleChat streams the answer over server-sent events: one "token" data
// event per delta, then a final "sources" event with the provenance path
// list. Errors before the first delta produce a structured JSON error; once
// streaming has started the stream just ends.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	project, ok := s.ownedProject(w, r)
	if !ok {
		return
	}
	userID := r.Header.Get("X-User-ID")

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	flusher, canFlush := w.(http.Flusher)
	started := false
	startStream := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}
	sink := func(delta string) error {
		startStream()
		// Deltas may contain newlines; JSON-encode to keep SSE framing intact.
		encoded, err := json.Marshal(delta)
		if err != nil {
			return err
		}
		if err := writeSSE(w, "token", string(encoded)); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	sources, err := s.streamer.Answer(r.Context(), project.ID, userID, req.Question, req.Paths, sink)
	if err != nil {
		if started {
			// Headers are gone; terminate the stream cleanly.
			s.logger.Warn("chat stream ended early", "project", project.ID, "error", err)
			return
		}
		if errors.Is(err, chat.ErrQuotaExceeded) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		s.internalError(w, "answer question", err)
		return
	}

	// Model may produce no tokens at all; the sources event still needs an
	// open stream.
	startStream()
	encoded, _ := json.Marshal(sources)
	if err := writeSSE(w, "sources", string(encoded)); err == nil && canFlush {
		flusher.Flush()
	}
}

// callerID extracts the external user identity.
func (s *Server) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return "", false
	}
	return userID, true
}

// ownedProject loads the project from the path and enforces ownership.
func (s *Server) ownedProject(w http.ResponseWriter, r *http.Request) (*metadb.Project, bool) {
	userID, ok := s.callerID(w, r)
	if !ok {
		return nil, false
	}

	project, err := s.db.GetProject(r.Context(), r.PathValue("id"))
	if errors.Is(err, metadb.ErrProjectNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, "load project", err)
		return nil, false
	}
	if project.OwnerID != userID {
		writeError(w, http.StatusForbidden, "not your project")
		return nil, false
	}
	return project, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeSSE(w http.ResponseWriter, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
