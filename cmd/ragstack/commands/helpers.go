package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/embedder"
	"github.com/ragstack/ragstack-go/internal/rag"
)

// buildEmbedder validates the embedding configuration and constructs the
// provider client from environment variables.
func buildEmbedder(log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err //nolint:wrapcheck // validation errors are already descriptive
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))
	return emb, nil
}

// buildVectorStore connects to Qdrant using the environment configuration.
// The collection's vector size is derived from the embedding backend so the
// two always agree.
func buildVectorStore(ctx context.Context, log *slog.Logger) (*rag.QdrantStore, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "documents")
	dims := getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(embedder.Backend()))

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to Qdrant at %s:%d: %w", host, port, err)
	}
	log.Info("qdrant store ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
		slog.Int("vector_size", dims),
	)
	return store, nil
}

// openRepository opens the document database. RAGSTACK_DOCUMENTS_DB overrides
// the default path (~/.ragstack/documents.db).
func openRepository(log *slog.Logger) (*docstore.SQLiteRepository, error) {
	path := os.Getenv("RAGSTACK_DOCUMENTS_DB")
	if path == "" {
		var err error
		path, err = docstore.DefaultDBPath()
		if err != nil {
			return nil, err //nolint:wrapcheck // path errors are already descriptive
		}
	}
	repo, err := docstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document database: %w", err)
	}
	log.Info("document store opened", slog.String("path", path))
	return repo, nil
}

// getEnvOrDefault returns the environment variable or a fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses an integer environment variable, returning fallback when
// unset or malformed.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
