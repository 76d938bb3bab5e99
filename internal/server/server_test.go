package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/rag"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
	"github.com/ragstack/ragstack-go/internal/tasks"
)

// fakeAnswerer is a test double for the retrieval pipeline.
type fakeAnswerer struct {
	// outcome is returned by Answer when err is nil.
	outcome *rag.Outcome
	// chunks is the sequence returned by the AnswerStream stream.
	chunks []string
	// err is returned by both Answer and AnswerStream.
	err error
	// lastQuery records the most recent query for assertions.
	lastQuery string
	// lastTopK records the most recent topK for assertions.
	lastTopK int
	// lastThreshold records the most recent score threshold.
	lastThreshold float32
}

func (f *fakeAnswerer) Answer(_ context.Context, query string, topK int, scoreThreshold float32) (*rag.Outcome, error) {
	f.lastQuery, f.lastTopK, f.lastThreshold = query, topK, scoreThreshold
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func (f *fakeAnswerer) AnswerStream(_ context.Context, query string, topK int, scoreThreshold float32) ([]rag.SearchResult, rag.Stream, error) {
	f.lastQuery, f.lastTopK, f.lastThreshold = query, topK, scoreThreshold
	if f.err != nil {
		return nil, nil, f.err
	}
	var sources []rag.SearchResult
	if f.outcome != nil {
		sources = f.outcome.Sources
	}
	return sources, &sliceStream{chunks: f.chunks}, nil
}

// sliceStream replays a fixed chunk sequence as a rag.Stream.
type sliceStream struct {
	chunks []string
	pos    int
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() { s.closed = true }

// fakeSyncer is a test double for the synchronization workflow. It resolves
// documents through the fixture's repository so handler responses carry real
// document fields.
type fakeSyncer struct {
	// vectorID is assigned to synced documents.
	vectorID string
	// syncErr is returned by Sync when set.
	syncErr error
	// removeErr is returned by Remove when set.
	removeErr error
	// synced records the document IDs passed to Sync.
	synced []string
	// removed records the document IDs passed to Remove.
	removed []string
	// repo lets the fake resolve documents like the real workflow does.
	repo docstore.Repository
}

func (f *fakeSyncer) Sync(ctx context.Context, documentID string) (*docstore.Document, error) {
	f.synced = append(f.synced, documentID)
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	doc, err := f.repo.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("sync: load document: %w", err)
	}
	doc.VectorID = f.vectorID
	return doc, nil
}

func (f *fakeSyncer) SyncBatch(ctx context.Context, documentIDs []string) []ragsync.BatchResult {
	results := make([]ragsync.BatchResult, len(documentIDs))
	for i, id := range documentIDs {
		results[i] = ragsync.BatchResult{DocumentID: id}
		doc, err := f.Sync(ctx, id)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].VectorID = doc.VectorID
	}
	return results
}

func (f *fakeSyncer) Remove(ctx context.Context, documentID string) error {
	f.removed = append(f.removed, documentID)
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, err := f.repo.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("sync: delete document: %w", err)
	}
	return nil
}

// queuedTask records one Enqueue call made against the fake queue.
type queuedTask struct {
	kind    tasks.Kind
	payload string
}

// fakeEnqueuer is a test double for the deferred-mode task queue.
type fakeEnqueuer struct {
	// entries records (kind, payload) pairs in enqueue order.
	entries []queuedTask
	// err is returned by Enqueue when set.
	err error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, kind tasks.Kind, payload string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.entries = append(f.entries, queuedTask{kind: kind, payload: payload})
	return int64(len(f.entries)), nil
}

// testFixture bundles a Server with the fakes behind it.
type testFixture struct {
	server   *Server
	pipeline *fakeAnswerer
	repo     docstore.Repository
	syncer   *fakeSyncer
	queue    *fakeEnqueuer
}

// newTestFixture builds a Server around an in-memory document repository,
// a fake pipeline, and a fake syncer. The metrics registry is fresh per
// fixture so parallel tests never collide on registration. Pass deferred
// true to enable the deferred sync path with a fake queue.
func newTestFixture(t *testing.T, deferred bool) *testFixture {
	t.Helper()

	repo, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	pipeline := &fakeAnswerer{}
	syncer := &fakeSyncer{vectorID: "vec-1", repo: repo}
	queue := &fakeEnqueuer{}

	reg := prometheus.NewRegistry()
	cfg := &Config{
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		DeferredSync:    deferred,
	}
	var enq Enqueuer
	if deferred {
		enq = queue
	}
	srv, err := New(pipeline, repo, syncer, enq, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.stopRL)

	return &testFixture{server: srv, pipeline: pipeline, repo: repo, syncer: syncer, queue: queue}
}

// mustCreate inserts a document directly into the fixture repository.
func (f *testFixture) mustCreate(t *testing.T, title, content string) *docstore.Document {
	t.Helper()
	doc, err := f.repo.Create(context.Background(), title, content, "test")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

// newTestServer returns a bare Server for handler-level tests that do not
// need the fixture's fakes.
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		log:     slog.Default(),
		cfg:     &Config{},
		metrics: newServerMetrics(reg),
	}
}
