package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/logging"
	"github.com/ragstack/ragstack-go/internal/rag"
)

// sweepGrace shields entries written moments ago. A sweep overlapping an
// in-flight sync would otherwise see the fresh vector before the document
// references it and delete it as an orphan.
const sweepGrace = 5 * time.Minute

// RefLister enumerates the vector entries currently held by the vector store.
// Satisfied by *rag.QdrantStore.
type RefLister interface {
	Refs(ctx context.Context) ([]rag.EntryRef, error)
}

// Sweeper removes vectors whose owning document no longer exists or no
// longer references them. Compensating deletes in the sync workflow are
// best-effort, so orphans can accumulate after crashes or vector store
// outages; a periodic sweep converges the two stores.
type Sweeper struct {
	repo    docstore.Repository
	vectors rag.VectorStore
	refs    RefLister
	grace   time.Duration
}

// NewSweeper constructs a Sweeper over the given stores.
func NewSweeper(repo docstore.Repository, vectors rag.VectorStore, refs RefLister) *Sweeper {
	return &Sweeper{repo: repo, vectors: vectors, refs: refs, grace: sweepGrace}
}

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	// Scanned is the number of vector entries examined.
	Scanned int
	// Deleted is the number of orphaned vectors removed.
	Deleted int
	// Failed is the number of orphans whose delete failed.
	Failed int
}

// Sweep scans all vector entries and deletes those not referenced by any
// document. A vector is an orphan when its document is gone, or when the
// document points at a different (newer) vector. Entries written within the
// grace window are never touched. Delete failures are counted and logged but
// do not abort the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	log := logging.FromContext(ctx)
	var report SweepReport

	refs, err := s.refs.Refs(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list vector entries: %w", rag.ErrVectorStore, err)
	}
	report.Scanned = len(refs)

	for _, ref := range refs {
		// Entries younger than the grace window may belong to a sync that
		// has not recorded its vector reference yet; leave them for the
		// next pass.
		if !ref.SyncedAt.IsZero() && time.Since(ref.SyncedAt) < s.grace {
			continue
		}
		orphan, err := s.isOrphan(ctx, ref)
		if err != nil {
			return report, err
		}
		if !orphan {
			continue
		}
		if err := s.vectors.Delete(ctx, ref.ID); err != nil {
			report.Failed++
			log.Warn("sweep: failed to delete orphan vector",
				slog.String("vector_id", ref.ID),
				slog.String("document_id", ref.DocumentID),
				slog.Any("error", err),
			)
			continue
		}
		report.Deleted++
		log.Info("sweep: deleted orphan vector",
			slog.String("vector_id", ref.ID),
			slog.String("document_id", ref.DocumentID),
		)
	}
	return report, nil
}

// isOrphan reports whether the vector entry has no live document reference.
func (s *Sweeper) isOrphan(ctx context.Context, ref rag.EntryRef) (bool, error) {
	if ref.DocumentID == "" {
		// Entry written outside the sync workflow; leave it alone.
		return false, nil
	}
	doc, err := s.repo.Get(ctx, ref.DocumentID)
	if errors.Is(err, docstore.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("sync: sweep lookup for document %s: %w", ref.DocumentID, err)
	}
	return doc.VectorID != ref.ID, nil
}
