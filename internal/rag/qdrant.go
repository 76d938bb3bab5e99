package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection. Vectors of any other length are rejected at this boundary
	// before they reach the network.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant collection using
// cosine similarity. Entry identifiers are fresh UUIDs assigned at upsert.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// EntryRef is a lightweight reference to a stored vector entry, used by the
// reconciliation sweeper. It omits the vector itself.
type EntryRef struct {
	// ID is the vector store entry identifier.
	ID string
	// DocumentID is the owning document recorded in the entry payload.
	DocumentID string
	// SyncedAt is when the entry was written. Zero for entries recorded
	// before the timestamp existed or written by other clients.
	SyncedAt time.Time
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection exists
// (creating it with cosine distance if necessary).
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("%w: vector size must be configured", ErrVectorStore)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %w", ErrVectorStore, err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: check collection: %w", ErrVectorStore, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %q: %w", ErrVectorStore, s.cfg.Collection, err)
	}

	return nil
}

// checkDimension rejects vectors whose length does not match the collection.
// A mismatched vector would silently poison similarity search, so the store
// fails fast here instead of storing or searching it.
func (s *QdrantStore) checkDimension(vector []float32) error {
	if uint64(len(vector)) != s.cfg.VectorSize {
		return fmt.Errorf("%w: vector dimension %d does not match collection size %d",
			ErrVectorStore, len(vector), s.cfg.VectorSize)
	}
	return nil
}

// payloadMap converts a Payload to the Qdrant payload representation. The
// write timestamp lets the reconciliation sweeper distinguish fresh entries
// from aged orphans.
func payloadMap(p Payload, syncedAt time.Time) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		"text":        p.Text,
		"document_id": p.DocumentID,
		"title":       p.Title,
		"synced_at":   syncedAt.Unix(),
	})
}

// payloadFrom extracts a Payload from a Qdrant payload map.
func payloadFrom(m map[string]*qdrant.Value) Payload {
	var p Payload
	if m == nil {
		return p
	}
	if v, ok := m["text"]; ok {
		p.Text = v.GetStringValue()
	}
	if v, ok := m["document_id"]; ok {
		p.DocumentID = v.GetStringValue()
	}
	if v, ok := m["title"]; ok {
		p.Title = v.GetStringValue()
	}
	return p
}

// syncedAtFrom reads the entry write timestamp, zero when absent.
func syncedAtFrom(m map[string]*qdrant.Value) time.Time {
	if v, ok := m["synced_at"]; ok {
		if sec := v.GetIntegerValue(); sec > 0 {
			return time.Unix(sec, 0)
		}
	}
	return time.Time{}
}

// Upsert stores a single vector with its payload under a fresh UUID and
// returns that identifier.
func (s *QdrantStore) Upsert(ctx context.Context, vector []float32, payload Payload) (string, error) {
	ids, err := s.UpsertBatch(ctx, [][]float32{vector}, []Payload{payload})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// UpsertBatch stores a batch of vectors, assigning each a fresh UUID.
// The returned identifier slice is parallel to the input.
func (s *QdrantStore) UpsertBatch(ctx context.Context, vectors [][]float32, payloads []Payload) ([]string, error) {
	if len(vectors) != len(payloads) {
		return nil, fmt.Errorf("%w: %d vectors but %d payloads", ErrVectorStore, len(vectors), len(payloads))
	}

	now := time.Now()
	ids := make([]string, 0, len(vectors))
	points := make([]*qdrant.PointStruct, 0, len(vectors))
	for i, vector := range vectors {
		if err := s.checkDimension(vector); err != nil {
			return nil, err
		}
		id := uuid.NewString()
		ids = append(ids, id)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payloadMap(payloads[i], now),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: upsert: %w", ErrVectorStore, err)
	}

	return ids, nil
}

// Search performs a cosine similarity search and returns up to limit results
// scoring at least minScore, in descending score order as returned by Qdrant.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]SearchResult, error) {
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}

	query := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		query.ScoreThreshold = qdrant.PtrOf(minScore)
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrVectorStore, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, SearchResult{
			ID:      p.Id.GetUuid(),
			Score:   p.Score,
			Payload: payloadFrom(p.Payload),
		})
	}

	return results, nil
}

// Delete removes the entry with the given identifier. Unknown identifiers
// are a no-op on the Qdrant side.
func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrVectorStore, id, err)
	}
	return nil
}

// Refs scrolls the full collection and returns (entry, document) reference
// pairs for the reconciliation sweeper. Vectors are not fetched.
func (s *QdrantStore) Refs(ctx context.Context) ([]EntryRef, error) {
	const pageSize = 256

	var refs []EntryRef
	var offset *qdrant.PointId
	var lastID string

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Limit:          qdrant.PtrOf(uint32(pageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scroll: %w", ErrVectorStore, err)
		}

		for _, p := range points {
			id := p.Id.GetUuid()
			if id == lastID {
				// The offset point is included in the next page.
				continue
			}
			refs = append(refs, EntryRef{
				ID:         id,
				DocumentID: payloadFrom(p.Payload).DocumentID,
				SyncedAt:   syncedAtFrom(p.Payload),
			})
		}

		if len(points) < pageSize {
			return refs, nil
		}
		lastID = points[len(points)-1].Id.GetUuid()
		offset = qdrant.NewIDUUID(lastID)
	}
}

// Ping calls the Qdrant HealthCheck RPC. Returns nil when the server is
// reachable, a descriptive error otherwise.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: health check: %w", ErrVectorStore, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
