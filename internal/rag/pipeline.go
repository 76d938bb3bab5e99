package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ragstack/ragstack-go/internal/budget"
	"github.com/ragstack/ragstack-go/internal/logging"
)

// defaultSystemPrompt instructs the model to ground its answer in the
// retrieved context and admit when the context does not cover the question.
const defaultSystemPrompt = `You are a helpful assistant answering questions about a private knowledge base.
Ground your answer in the provided context. If the context does not contain
the information needed, say so rather than inventing an answer.`

// Pipeline composes an Embedder, a VectorStore, and a Generator into the
// query-answering workflow: embed the query, search for similar stored
// content, filter by score, and generate an answer grounded in the
// surviving context.
//
// The pipeline performs no retries and holds no mutable state; concurrent
// Answer calls are independent.
type Pipeline struct {
	// embedder converts the query to a probe vector (ModeQuery).
	embedder Embedder

	// store performs the similarity search.
	store VectorStore

	// generator produces the answer text.
	generator Generator

	// systemPrompt is the system instruction sent with every generation.
	systemPrompt string

	// maxContextTokens bounds the estimated size of the context block.
	maxContextTokens int

	// defaultTopK is used when Answer is called with topK <= 0.
	defaultTopK int
}

// PipelineConfig holds the optional tuning knobs for a Pipeline.
type PipelineConfig struct {
	// SystemPrompt overrides the default system instruction.
	SystemPrompt string
	// MaxContextTokens bounds the estimated token size of the retrieved
	// context block. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// DefaultTopK is the result count used when a caller passes topK <= 0.
	// Defaults to 5.
	DefaultTopK int
}

// NewPipeline constructs a Pipeline from its three provider clients.
func NewPipeline(embedder Embedder, store VectorStore, generator Generator, cfg *PipelineConfig) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: vector store must not be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("rag: generator must not be nil")
	}
	if cfg == nil {
		cfg = &PipelineConfig{}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}

	return &Pipeline{
		embedder:         embedder,
		store:            store,
		generator:        generator,
		systemPrompt:     cfg.SystemPrompt,
		maxContextTokens: cfg.MaxContextTokens,
		defaultTopK:      cfg.DefaultTopK,
	}, nil
}

// Answer runs the full query workflow and returns the generated response
// with the retrieval results it was grounded on.
//
// When no candidate survives scoreThreshold, generation still proceeds with
// an empty context block (degraded mode) — callers needing "no answer
// without context" must check len(Outcome.Sources) themselves.
func (p *Pipeline) Answer(ctx context.Context, query string, topK int, scoreThreshold float32) (*Outcome, error) {
	sources, prompt, err := p.retrieve(ctx, query, topK, scoreThreshold)
	if err != nil {
		return nil, err
	}

	response, err := p.generator.Generate(ctx, GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: p.systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerator, err)
	}

	return &Outcome{Query: query, Response: response, Sources: sources}, nil
}

// AnswerStream runs the same workflow as Answer but returns the generation
// as a chunk stream. Sources are resolved before the first chunk so callers
// can emit them ahead of the streamed answer.
func (p *Pipeline) AnswerStream(ctx context.Context, query string, topK int, scoreThreshold float32) ([]SearchResult, Stream, error) {
	sources, prompt, err := p.retrieve(ctx, query, topK, scoreThreshold)
	if err != nil {
		return nil, nil, err
	}

	stream, err := p.generator.Stream(ctx, GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: p.systemPrompt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrGenerator, err)
	}

	return sources, stream, nil
}

// retrieve performs the embed → search → filter → prompt-build steps shared
// by Answer and AnswerStream.
func (p *Pipeline) retrieve(ctx context.Context, query string, topK int, scoreThreshold float32) ([]SearchResult, string, error) {
	log := logging.FromContext(ctx)

	if strings.TrimSpace(query) == "" {
		return nil, "", fmt.Errorf("rag: query must not be empty")
	}
	if topK <= 0 {
		topK = p.defaultTopK
	}

	embeddings, err := p.embedder.Embed(ctx, []string{query}, ModeQuery)
	if err != nil {
		return nil, "", fmt.Errorf("%w: embed query: %w", ErrEmbedder, err)
	}
	if len(embeddings) != 1 {
		return nil, "", fmt.Errorf("%w: expected 1 query embedding, got %d", ErrEmbedder, len(embeddings))
	}

	candidates, err := p.store.Search(ctx, embeddings[0], topK, scoreThreshold)
	if err != nil {
		if !errors.Is(err, ErrVectorStore) {
			err = fmt.Errorf("%w: search: %w", ErrVectorStore, err)
		}
		return nil, "", err
	}

	// Filter pipeline-side as well: the store contract treats minScore as
	// optional, and order must be preserved exactly as returned.
	sources := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < scoreThreshold {
			continue
		}
		sources = append(sources, c)
	}

	if len(sources) == 0 {
		log.Debug("rag: no context above threshold, answering in degraded mode",
			slog.String("query", query),
			slog.Int("candidates", len(candidates)),
		)
	}

	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		parts = append(parts, s.Payload.Text)
	}
	kept := budget.TrimContext(parts, p.maxContextTokens)
	if len(kept) < len(parts) {
		log.Debug("rag: context trimmed to fit token budget",
			slog.Int("retrieved", len(parts)),
			slog.Int("kept", len(kept)),
		)
	}

	return sources, buildPrompt(kept, query), nil
}

// buildPrompt embeds the context block ahead of the user's question.
func buildPrompt(contextParts []string, query string) string {
	var b strings.Builder
	b.WriteString("Context information:\n")
	b.WriteString(strings.Join(contextParts, "\n\n"))
	b.WriteString("\n\nUser question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer the question based on the provided context.")
	return b.String()
}
