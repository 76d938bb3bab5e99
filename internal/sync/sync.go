// Package sync implements the document-to-vector synchronization workflow.
// It embeds document content, upserts the vector, and records the vector
// reference on the document, keeping the relational store and the vector
// store consistent. The relational record is the source of truth: on partial
// failure the workflow compensates in the vector store, never the reverse.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/logging"
	"github.com/ragstack/ragstack-go/internal/rag"
)

// Synchronizer drives the three-step sync workflow for single documents
// and batches.
type Synchronizer struct {
	repo     docstore.Repository
	embedder rag.Embedder
	vectors  rag.VectorStore
}

// NewSynchronizer constructs a Synchronizer. All three dependencies are
// required.
func NewSynchronizer(repo docstore.Repository, embedder rag.Embedder, vectors rag.VectorStore) (*Synchronizer, error) {
	if repo == nil {
		return nil, errors.New("sync: repository must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("sync: embedder must not be nil")
	}
	if vectors == nil {
		return nil, errors.New("sync: vector store must not be nil")
	}
	return &Synchronizer{repo: repo, embedder: embedder, vectors: vectors}, nil
}

// Sync embeds the document's content, upserts the vector, and records the
// new vector ID on the document. Steps and failure semantics:
//
//  1. Embed — on failure the document is untouched; returns rag.ErrEmbedder.
//  2. Upsert — on failure the document is untouched; returns rag.ErrVectorStore.
//  3. Record — on failure the freshly written vector is deleted best-effort
//     and rag.ErrConsistency is returned.
//
// Re-syncing an already synced document writes a new vector first and deletes
// the superseded one only after the document points at the new vector, so a
// failure mid-way never leaves the document referencing a missing vector.
func (s *Synchronizer) Sync(ctx context.Context, documentID string) (*docstore.Document, error) {
	log := logging.FromContext(ctx)

	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("sync: load document: %w", err)
	}
	oldVectorID := doc.VectorID

	vecs, err := s.embedder.Embed(ctx, []string{doc.Content}, rag.ModeDocument)
	if err != nil {
		return nil, fmt.Errorf("%w: embed document %s: %w", rag.ErrEmbedder, doc.ID, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 embedding for document %s, got %d", rag.ErrEmbedder, doc.ID, len(vecs))
	}

	vectorID, err := s.vectors.Upsert(ctx, vecs[0], rag.Payload{
		Text:       doc.Content,
		DocumentID: doc.ID,
		Title:      doc.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: upsert document %s: %w", rag.ErrVectorStore, doc.ID, err)
	}

	if err := s.repo.SetVectorID(ctx, doc.ID, vectorID); err != nil {
		// The vector exists but the document does not reference it. Delete
		// the orphan so the stores converge; the sweeper covers the case
		// where this delete also fails.
		if delErr := s.vectors.Delete(ctx, vectorID); delErr != nil {
			log.Warn("sync: compensating delete failed, orphan vector left behind",
				slog.String("document_id", doc.ID),
				slog.String("vector_id", vectorID),
				slog.Any("error", delErr),
			)
		}
		return nil, fmt.Errorf("%w: record vector for document %s: %w", rag.ErrConsistency, doc.ID, err)
	}
	doc.VectorID = vectorID

	// The superseded vector is unreachable from the document now; removing
	// it is cleanup, not correctness. Failure is logged and left to the
	// sweeper.
	if oldVectorID != "" && oldVectorID != vectorID {
		if err := s.vectors.Delete(ctx, oldVectorID); err != nil {
			log.Warn("sync: failed to delete superseded vector",
				slog.String("document_id", doc.ID),
				slog.String("vector_id", oldVectorID),
				slog.Any("error", err),
			)
		}
	}

	log.Debug("sync: document synchronized",
		slog.String("document_id", doc.ID),
		slog.String("vector_id", vectorID),
	)
	return doc, nil
}

// BatchResult reports the outcome of one document in a batch sync.
type BatchResult struct {
	// DocumentID identifies the document this result belongs to.
	DocumentID string `json:"document_id"`
	// VectorID is the vector written for the document, empty on failure.
	VectorID string `json:"vector_id,omitempty"`
	// Err is the failure for this document, nil on success.
	Err error `json:"-"`
}

// SyncBatch synchronizes each document independently. One document's failure
// never aborts the rest; the caller inspects the per-document results. The
// result slice is parallel to the input slice.
func (s *Synchronizer) SyncBatch(ctx context.Context, documentIDs []string) []BatchResult {
	results := make([]BatchResult, len(documentIDs))
	for i, id := range documentIDs {
		results[i] = BatchResult{DocumentID: id}
		doc, err := s.Sync(ctx, id)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].VectorID = doc.VectorID
	}
	return results
}

// Remove deletes the document and its vector. The document record goes first;
// if the vector delete then fails the orphaned vector is reported via
// rag.ErrConsistency and cleaned up later by the sweeper.
func (s *Synchronizer) Remove(ctx context.Context, documentID string) error {
	vectorID, err := s.repo.Delete(ctx, documentID)
	if err != nil {
		return fmt.Errorf("sync: delete document: %w", err)
	}
	if vectorID == "" {
		return nil
	}
	if err := s.vectors.Delete(ctx, vectorID); err != nil {
		return fmt.Errorf("%w: delete vector %s for removed document %s: %w", rag.ErrConsistency, vectorID, documentID, err)
	}
	return nil
}
