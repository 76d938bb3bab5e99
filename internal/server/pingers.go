package server

import (
	"context"
	"fmt"

	"github.com/ragstack/ragstack-go/internal/rag"
)

// QdrantPinger probes the vector store over its health-check RPC.
type QdrantPinger struct {
	// store is the Qdrant-backed vector store to probe.
	store *rag.QdrantStore
}

// NewQdrantPinger wraps a QdrantStore as a readiness probe.
func NewQdrantPinger(store *rag.QdrantStore) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Ping checks the Qdrant server over its HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// Name returns the probe label.
func (p *QdrantPinger) Name() string { return "qdrant" }

// EmbedderPinger probes the embedding provider with a single short request.
// Each probe costs one embedding call against the provider's quota.
type EmbedderPinger struct {
	// embedder is the provider client to probe.
	embedder rag.Embedder
}

// NewEmbedderPinger wraps an Embedder as a readiness probe.
func NewEmbedderPinger(embedder rag.Embedder) *EmbedderPinger {
	return &EmbedderPinger{embedder: embedder}
}

// Ping embeds a one-word probe text to verify the provider is reachable and
// the configured credentials are accepted.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if _, err := p.embedder.Embed(ctx, []string{"ping"}, rag.ModeQuery); err != nil {
		return fmt.Errorf("embedder probe: %w", err)
	}
	return nil
}

// Name returns the probe label.
func (p *EmbedderPinger) Name() string { return "embedder" }

// GeneratorPinger probes the generation provider with a minimal completion
// request. Each probe consumes a few tokens of the provider's quota, so the
// probe is only run from /api/ready, never on a background timer.
type GeneratorPinger struct {
	// generator is the provider client to probe.
	generator rag.Generator
}

// NewGeneratorPinger wraps a Generator as a readiness probe.
func NewGeneratorPinger(generator rag.Generator) *GeneratorPinger {
	return &GeneratorPinger{generator: generator}
}

// Ping requests a one-token completion to verify the provider is reachable
// and the configured model accepts requests.
func (p *GeneratorPinger) Ping(ctx context.Context) error {
	if _, err := p.generator.Generate(ctx, rag.GenerateRequest{
		Prompt:    "ping",
		MaxTokens: 1,
	}); err != nil {
		return fmt.Errorf("generator probe: %w", err)
	}
	return nil
}

// Name returns the probe label.
func (p *GeneratorPinger) Name() string { return "generator" }
