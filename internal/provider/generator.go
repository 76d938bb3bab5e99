package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ragstack/ragstack-go/internal/rag"
)

// Generator adapts an eino ChatModel to the rag.Generator interface.
// Safe for concurrent use when the underlying ChatModel is.
type Generator struct {
	chatModel model.BaseChatModel
}

// NewGenerator wraps the given ChatModel.
func NewGenerator(cm model.BaseChatModel) *Generator {
	return &Generator{chatModel: cm}
}

// GeneratorFromEnv constructs a Generator from environment variables.
// See ConfigFromEnv for the variable reference.
func GeneratorFromEnv(ctx context.Context) (*Generator, error) {
	cm, err := NewFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	return NewGenerator(cm), nil
}

// buildMessages converts a GenerateRequest into the chat message slice.
// The system prompt is optional.
func buildMessages(req rag.GenerateRequest) []*schema.Message {
	messages := make([]*schema.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, schema.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))
	return messages
}

// buildOptions maps the per-request tuning overrides onto model options.
// Zero values fall back to the provider-level defaults.
func buildOptions(req rag.GenerateRequest) []model.Option {
	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Temperature))
	}
	return opts
}

// Generate produces a complete response for the given request.
func (g *Generator) Generate(ctx context.Context, req rag.GenerateRequest) (string, error) {
	msg, err := g.chatModel.Generate(ctx, buildMessages(req), buildOptions(req)...)
	if err != nil {
		return "", fmt.Errorf("provider: generate failed: %w", err)
	}
	if msg == nil {
		return "", fmt.Errorf("provider: generate returned no message")
	}
	return msg.Content, nil
}

// Stream starts a streaming generation for the given request. The returned
// stream yields content deltas until io.EOF.
func (g *Generator) Stream(ctx context.Context, req rag.GenerateRequest) (rag.Stream, error) {
	sr, err := g.chatModel.Stream(ctx, buildMessages(req), buildOptions(req)...)
	if err != nil {
		return nil, fmt.Errorf("provider: stream failed: %w", err)
	}
	return &modelStream{sr: sr}, nil
}

// modelStream adapts a schema.StreamReader to the rag.Stream interface,
// skipping empty chunks so callers only see content deltas.
type modelStream struct {
	sr *schema.StreamReader[*schema.Message]
}

// Recv returns the next non-empty content delta, or io.EOF when the stream
// is exhausted.
func (s *modelStream) Recv() (string, error) {
	for {
		msg, err := s.sr.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("provider: stream receive error: %w", err)
		}
		if msg != nil && msg.Content != "" {
			return msg.Content, nil
		}
	}
}

// Close releases the underlying stream. Safe to call more than once.
func (s *modelStream) Close() {
	s.sr.Close()
}

// Collect drains a stream into a single string, closing it on return.
func Collect(stream rag.Stream) (string, error) {
	defer stream.Close()
	var buf strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return buf.String(), nil
		}
		if err != nil {
			return buf.String(), err
		}
		buf.WriteString(chunk)
	}
}
