// Package chat drives streaming answer generation over resolved context and
// persists the conversation transcript with provenance.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/askrepo/askrepo/internal/metadb"
	"github.com/askrepo/askrepo/internal/resolver"
)

// ErrQuotaExceeded is returned when the caller's daily chat quota is spent.
var ErrQuotaExceeded = errors.New("daily chat quota exceeded")

// HistoryStore is the slice of the metadata store the streamer needs.
type HistoryStore interface {
	AppendMessage(ctx context.Context, projectID, role, content string, sources []string) (*metadb.ChatMessage, error)
}

// UsageLedger gates chat actions per user per day.
type UsageLedger interface {
	CheckQuota(ctx context.Context, userID, action string, limit int) (bool, error)
	IncrementUsage(ctx context.Context, userID, action string) error
}

// ContextResolver assembles the context window for a question.
type ContextResolver interface {
	Resolve(ctx context.Context, projectID, question string, selected []string) (*resolver.Context, error)
}

// Streamer answers questions about a project with incremental token
// delivery.
type Streamer struct {
	provider  Provider
	resolver  ContextResolver
	history   HistoryStore
	usage     UsageLedger
	chatLimit int
	logger    *slog.Logger
}

// NewStreamer wires the answer path together. chatLimit is the injected
// daily per-user quota (0 = unlimited).
func NewStreamer(provider Provider, res ContextResolver, history HistoryStore, usage UsageLedger, chatLimit int, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		provider:  provider,
		resolver:  res,
		history:   history,
		usage:     usage,
		chatLimit: chatLimit,
		logger:    logger,
	}
}

// Answer resolves context for the question, streams the generated answer
// through sink one delta at a time, and persists both sides of the exchange.
// The user message is persisted before generation so a crash mid-stream
// still leaves the question recorded; the assistant message is persisted
// even when the stream is cut short. An error is returned only if nothing
// was streamed; after the first delta, failures end the stream quietly and
// the partial answer is kept.
func (s *Streamer) Answer(ctx context.Context, projectID, userID, question string, selected []string, sink func(string) error) ([]string, error) {
	ok, err := s.usage.CheckQuota(ctx, userID, "chat", s.chatLimit)
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}
	if err := s.usage.IncrementUsage(ctx, userID, "chat"); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}

	if _, err := s.history.AppendMessage(ctx, projectID, metadb.RoleUser, question, nil); err != nil {
		return nil, fmt.Errorf("persist question: %w", err)
	}

	rc, err := s.resolver.Resolve(ctx, projectID, question, selected)
	if err != nil {
		return nil, fmt.Errorf("resolve context: %w", err)
	}

	stream, err := s.provider.StreamAnswer(ctx, BuildSystemPrompt(rc), question)
	if err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	var streamErr error
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if delta == "" {
			continue
		}
		if err := sink(delta); err != nil {
			streamErr = err
			break
		}
		answer.WriteString(delta)
	}

	if answer.Len() == 0 && streamErr != nil {
		return nil, fmt.Errorf("generation failed: %w", streamErr)
	}

	// A partial answer is still an answer; never discard forwarded tokens.
	if streamErr != nil {
		s.logger.Warn("stream cut short, persisting partial answer",
			"project", projectID, "error", streamErr)
	}
	if _, err := s.history.AppendMessage(ctx, projectID, metadb.RoleAssistant, answer.String(), rc.Sources); err != nil {
		s.logger.Error("failed to persist assistant message", "project", projectID, "error", err)
	}

	return rc.Sources, nil
}
