// Package embedder provides implementations of the rag.Embedder interface
// for converting text into dense vector embeddings. Each implementation
// talks to a different backend (Voyage AI, OpenAI, Azure OpenAI, Ollama)
// via plain HTTP — no additional SDK dependencies are required.
//
// All implementations honour the document/query embedding modes. Backends
// whose API has no native mode concept document how the mode is mapped.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ragstack/ragstack-go/internal/rag"
)

// VoyageEmbedder implements rag.Embedder using the Voyage AI embeddings REST
// API. Voyage supports the document/query distinction natively via the
// input_type request field. Safe for concurrent use.
type VoyageEmbedder struct {
	// baseURL is the API base (default "https://api.voyageai.com/v1").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the embedding model name (e.g. "voyage-3").
	model string
	// dimensions is the expected vector length; responses with a different
	// dimension are rejected. Zero disables the check.
	dimensions int
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// VoyageConfig holds the settings for constructing a VoyageEmbedder.
type VoyageConfig struct {
	// BaseURL overrides the API base URL. Empty means the public endpoint.
	BaseURL string
	// APIKey is the Voyage AI API key.
	APIKey string
	// Model is the embedding model name (e.g. "voyage-3").
	Model string
	// Dimensions is the expected vector length (0 = no check).
	Dimensions int
}

// NewVoyageEmbedder constructs a VoyageEmbedder from the given config.
func NewVoyageEmbedder(cfg *VoyageConfig) *VoyageEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.voyageai.com/v1"
	}
	return &VoyageEmbedder{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// voyageEmbedRequest is the JSON body sent to the /embeddings endpoint.
type voyageEmbedRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

// voyageEmbedResponse is the JSON body returned from the /embeddings endpoint.
type voyageEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// Embed converts a batch of texts into their embeddings. The mode maps
// directly onto Voyage's input_type field. The returned slice is parallel
// to the input slice.
func (e *VoyageEmbedder) Embed(ctx context.Context, texts []string, mode rag.EmbedMode) ([][]float32, error) {
	body := voyageEmbedRequest{
		Input:     texts,
		Model:     e.model,
		InputType: string(mode),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("voyage embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("voyage embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voyage embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result voyageEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("voyage embedder: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Detail != "" {
			msg = result.Detail
		}
		return nil, fmt.Errorf("voyage embedder: %s", msg)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("voyage embedder: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("voyage embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("voyage embedder: expected dimension %d, got %d", e.dimensions, len(d.Embedding))
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}
