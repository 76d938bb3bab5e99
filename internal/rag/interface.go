// Package rag defines the boundary interfaces for the retrieval-augmented
// generation core: embedding providers, vector storage, and text generation.
// Concrete implementations (Voyage, Qdrant, Cerebras, etc.) satisfy these
// interfaces so the pipeline and the synchronization workflow never depend
// on a specific vendor.
package rag

import (
	"context"
)

// EmbedMode distinguishes the two semantic intents of an embedding request.
// Providers that support it (e.g. Voyage) produce vectors optimised for the
// given intent; the two modes are not numerically interchangeable even for
// identical input text, so stored content must always use ModeDocument and
// search probes ModeQuery.
type EmbedMode string

const (
	// ModeDocument requests an embedding optimised for storage and later retrieval.
	ModeDocument EmbedMode = "document"
	// ModeQuery requests an embedding optimised for use as a retrieval probe.
	ModeQuery EmbedMode = "query"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their embeddings for the given mode.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)
}

// Payload is the metadata stored alongside each vector store entry. It carries
// enough information to reconstruct displayable context without a second
// round-trip to the document repository.
type Payload struct {
	// Text is the source text the vector was computed from.
	Text string
	// DocumentID is the identifier of the owning document record.
	DocumentID string
	// Title is the owning document's title at synchronization time.
	Title string
}

// SearchResult is one candidate returned by a similarity search.
// Ephemeral — produced per query, never persisted.
type SearchResult struct {
	// ID is the vector store entry identifier.
	ID string `json:"id"`
	// Score is the cosine similarity score in [0, 1].
	Score float32 `json:"score"`
	// Payload is the metadata stored with the entry.
	Payload Payload `json:"metadata"`
}

// VectorStore persists (vector, payload) pairs and performs similarity search.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores a single vector with its payload and returns the new
	// entry identifier assigned by the store.
	Upsert(ctx context.Context, vector []float32, payload Payload) (string, error)

	// UpsertBatch stores a batch of vectors. payloads must be parallel to
	// vectors. The returned identifier slice is parallel to the input.
	UpsertBatch(ctx context.Context, vectors [][]float32, payloads []Payload) ([]string, error)

	// Search returns up to limit entries ordered by descending similarity to
	// the given vector. Entries scoring below minScore are excluded.
	// Failures should be wrapped in ErrVectorStore; callers attach the
	// sentinel themselves when an implementation does not.
	Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]SearchResult, error)

	// Delete removes the entry with the given identifier. Deleting an
	// identifier that does not exist is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// GenerateRequest holds the inputs for a text generation call.
type GenerateRequest struct {
	// Prompt is the user-role prompt text.
	Prompt string
	// SystemPrompt is an optional system-role instruction. Empty means none.
	SystemPrompt string
	// MaxTokens caps the response length. Zero means the provider default.
	MaxTokens int
	// Temperature controls randomness (0.0–1.0). Zero means the provider default.
	Temperature float32
}

// Stream is a lazy, finite, non-restartable sequence of generated text chunks.
// The concatenation of all chunks equals the non-streaming result.
type Stream interface {
	// Recv returns the next chunk, or io.EOF when the stream is complete.
	Recv() (string, error)
	// Close releases the stream. Safe to call after Recv returned io.EOF.
	Close()
}

// Generator produces natural-language text from a prompt.
// Implementations must be safe to call from multiple goroutines.
type Generator interface {
	// Generate returns the complete generated text for the request.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Stream returns the generated text as a chunk stream.
	Stream(ctx context.Context, req GenerateRequest) (Stream, error)
}

// Outcome is the result of one pipeline answer: the generated response plus
// the retrieval results it was grounded on, in the store's descending-score
// order. Ephemeral — returned to the caller, never persisted.
type Outcome struct {
	// Query is the original query text.
	Query string `json:"query"`
	// Response is the generated answer text.
	Response string `json:"response"`
	// Sources lists the retrieval results that survived the score threshold,
	// in the order the vector store returned them. Empty when the answer was
	// generated without context (degraded mode).
	Sources []SearchResult `json:"sources"`
}
