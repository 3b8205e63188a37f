package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askrepo/askrepo/internal/chat"
	"github.com/askrepo/askrepo/internal/metadb"
	"github.com/askrepo/askrepo/internal/resolver"
)

type stubStream struct {
	deltas []string
}

func (s *stubStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *stubStream) Close() error { return nil }

type stubProvider struct {
	deltas []string
}

func (p *stubProvider) StreamAnswer(ctx context.Context, systemPrompt, question string) (chat.Stream, error) {
	return &stubStream{deltas: p.deltas}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, projectID, question string, selected []string) (*resolver.Context, error) {
	return &resolver.Context{
		Tree:      "└── main.go",
		Fragments: []resolver.Fragment{{Path: "main.go", Content: "package main"}},
		Sources:   []string{"main.go"},
	}, nil
}

type okHealth struct{}

func (okHealth) Health(ctx context.Context) error { return nil }

func chatServer(t *testing.T, deltas []string) (*Server, *metadb.Project) {
	t.Helper()
	db, err := metadb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	project, err := db.CreateProject(context.Background(), "alice", "demo", "https://github.com/acme/demo")
	require.NoError(t, err)

	streamer := chat.NewStreamer(&stubProvider{deltas: deltas}, stubResolver{}, db, db, 0, nil)
	return NewServer(db, nil, streamer, map[string]int{}, nil), project
}

func postChat(t *testing.T, s *Server, projectID, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID+"/chat",
		strings.NewReader(`{"question":"what is this?"}`))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	s.Routes(okHealth{}).ServeHTTP(rec, req)
	return rec
}

func TestHandleChat_StreamsTokensThenSources(t *testing.T) {
	s, project := chatServer(t, []string{"Hello", " world"})

	rec := postChat(t, s, project.ID, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: token\ndata: \"Hello\"\n\n")
	assert.Contains(t, body, "event: token\ndata: \" world\"\n\n")
	assert.Contains(t, body, "event: sources\ndata: [\"main.go\"]\n\n")
	assert.Less(t, strings.Index(body, "event: token"), strings.Index(body, "event: sources"))
}

func TestHandleChat_NoTokensEmitsOnlySources(t *testing.T) {
	s, project := chatServer(t, nil)

	rec := postChat(t, s, project.ID, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.NotContains(t, body, "event: token", "an empty answer must not fabricate token events")
	assert.Contains(t, body, "event: sources\ndata: [\"main.go\"]\n\n")
}

func TestHandleChat_RejectsNonOwner(t *testing.T) {
	s, project := chatServer(t, nil)

	rec := postChat(t, s, project.ID, "mallory")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postChat(t, s, project.ID, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
