package chat

import (
	"context"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
)

// Stream yields text deltas of a generation, terminated by io.EOF.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Provider abstracts the streaming completion call.
type Provider interface {
	StreamAnswer(ctx context.Context, systemPrompt, question string) (Stream, error)
}

// OpenAIProvider streams chat completions from OpenAI.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewOpenAIProvider creates a Provider over the shared OpenAI client. An
// empty model defaults to GPT-4o.
func NewOpenAIProvider(client *openai.Client, model string) *OpenAIProvider {
	m := openai.ChatModelGPT4o
	if model != "" {
		m = openai.ChatModel(model)
	}
	return &OpenAIProvider{client: client, model: m}
}

// StreamAnswer starts a token-streaming completion. Errors surface through
// the returned stream's Recv.
func (p *OpenAIProvider) StreamAnswer(ctx context.Context, systemPrompt, question string) (Stream, error) {
	s := p.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(question),
		},
		Model: p.model,
	})
	return &openaiStream{inner: s}, nil
}

type openaiStream struct {
	inner *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) Recv() (string, error) {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.inner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}
