package chat

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askrepo/askrepo/internal/metadb"
	"github.com/askrepo/askrepo/internal/resolver"
)

type recordedMessage struct {
	role    string
	content string
	sources []string
}

type fakeHistory struct {
	messages  []recordedMessage
	appendErr error
}

func (f *fakeHistory) AppendMessage(ctx context.Context, projectID, role, content string, sources []string) (*metadb.ChatMessage, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.messages = append(f.messages, recordedMessage{role: role, content: content, sources: sources})
	return &metadb.ChatMessage{ProjectID: projectID, Role: role, Content: content, Sources: sources}, nil
}

type fakeUsage struct {
	allowed    bool
	increments int
}

func (f *fakeUsage) CheckQuota(ctx context.Context, userID, action string, limit int) (bool, error) {
	return f.allowed, nil
}

func (f *fakeUsage) IncrementUsage(ctx context.Context, userID, action string) error {
	f.increments++
	return nil
}

type fakeResolver struct {
	rc  *resolver.Context
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, projectID, question string, selected []string) (*resolver.Context, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rc, nil
}

// scriptedStream replays deltas, then terminates with err (io.EOF for a
// clean finish).
type scriptedStream struct {
	deltas []string
	err    error
	closed bool
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", s.err
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeProvider struct {
	stream   *scriptedStream
	startErr error
}

func (f *fakeProvider) StreamAnswer(ctx context.Context, systemPrompt, question string) (Stream, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.stream, nil
}

func testContext() *resolver.Context {
	return &resolver.Context{
		Tree: "└── main.go",
		Fragments: []resolver.Fragment{
			{Path: "main.go", Content: "package main"},
		},
		Sources: []string{"main.go"},
	}
}

func TestAnswer_StreamsAndPersistsBothSides(t *testing.T) {
	history := &fakeHistory{}
	usage := &fakeUsage{allowed: true}
	stream := &scriptedStream{deltas: []string{"Hello", " ", "world"}, err: io.EOF}
	s := NewStreamer(&fakeProvider{stream: stream}, &fakeResolver{rc: testContext()},
		history, usage, 50, nil)

	var got []string
	sources, err := s.Answer(context.Background(), "p1", "alice", "what is this?", nil,
		func(delta string) error {
			got = append(got, delta)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", " ", "world"}, got)
	assert.Equal(t, []string{"main.go"}, sources)
	assert.Equal(t, 1, usage.increments)
	assert.True(t, stream.closed)

	require.Len(t, history.messages, 2)
	assert.Equal(t, metadb.RoleUser, history.messages[0].role)
	assert.Equal(t, "what is this?", history.messages[0].content)
	assert.Equal(t, metadb.RoleAssistant, history.messages[1].role)
	assert.Equal(t, "Hello world", history.messages[1].content)
	assert.Equal(t, []string{"main.go"}, history.messages[1].sources)
}

func TestAnswer_PartialStreamKeepsForwardedTokens(t *testing.T) {
	history := &fakeHistory{}
	stream := &scriptedStream{deltas: []string{"The ", "answer ", "is"}, err: errors.New("connection reset")}
	s := NewStreamer(&fakeProvider{stream: stream}, &fakeResolver{rc: testContext()},
		history, &fakeUsage{allowed: true}, 50, nil)

	sources, err := s.Answer(context.Background(), "p1", "alice", "q", nil,
		func(string) error { return nil })
	require.NoError(t, err, "a cut stream after the first delta is not an error")
	assert.Equal(t, []string{"main.go"}, sources)

	require.Len(t, history.messages, 2)
	assert.Equal(t, "The answer is", history.messages[1].content,
		"the partial answer is persisted as delivered")
	assert.Equal(t, []string{"main.go"}, history.messages[1].sources)
}

func TestAnswer_ErrorBeforeFirstDelta(t *testing.T) {
	history := &fakeHistory{}
	stream := &scriptedStream{err: errors.New("model overloaded")}
	s := NewStreamer(&fakeProvider{stream: stream}, &fakeResolver{rc: testContext()},
		history, &fakeUsage{allowed: true}, 50, nil)

	_, err := s.Answer(context.Background(), "p1", "alice", "q", nil,
		func(string) error { return nil })
	require.Error(t, err)

	// The question is still on record, but no empty assistant turn.
	require.Len(t, history.messages, 1)
	assert.Equal(t, metadb.RoleUser, history.messages[0].role)
}

func TestAnswer_QuotaDenied(t *testing.T) {
	history := &fakeHistory{}
	usage := &fakeUsage{allowed: false}
	s := NewStreamer(&fakeProvider{}, &fakeResolver{rc: testContext()},
		history, usage, 50, nil)

	_, err := s.Answer(context.Background(), "p1", "alice", "q", nil,
		func(string) error { return nil })
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Zero(t, usage.increments)
	assert.Empty(t, history.messages)
}

func TestAnswer_ResolveFailureLeavesQuestionRecorded(t *testing.T) {
	history := &fakeHistory{}
	s := NewStreamer(&fakeProvider{}, &fakeResolver{err: errors.New("index gone")},
		history, &fakeUsage{allowed: true}, 50, nil)

	_, err := s.Answer(context.Background(), "p1", "alice", "q", nil,
		func(string) error { return nil })
	require.Error(t, err)
	require.Len(t, history.messages, 1)
	assert.Equal(t, metadb.RoleUser, history.messages[0].role)
}

func TestAnswer_SinkFailureStopsStream(t *testing.T) {
	history := &fakeHistory{}
	stream := &scriptedStream{deltas: []string{"a", "b", "c"}, err: io.EOF}
	s := NewStreamer(&fakeProvider{stream: stream}, &fakeResolver{rc: testContext()},
		history, &fakeUsage{allowed: true}, 50, nil)

	calls := 0
	_, err := s.Answer(context.Background(), "p1", "alice", "q", nil,
		func(string) error {
			calls++
			if calls == 2 {
				return errors.New("client went away")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	require.Len(t, history.messages, 2)
	assert.Equal(t, "a", history.messages[1].content,
		"only deltas delivered to the sink are persisted")
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(testContext())

	assert.Contains(t, prompt, "```\n└── main.go\n```")
	assert.Contains(t, prompt, "// main.go\npackage main")
	assert.Contains(t, prompt, "cite the file names")

	empty := BuildSystemPrompt(&resolver.Context{Tree: resolver.EmptyTreeMarker})
	assert.Contains(t, empty, "No file contents are available")
}
