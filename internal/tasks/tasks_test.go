package tasks

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/rag"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueue_FIFO(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	for _, payload := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, KindSyncDocument, payload); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", payload, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		task, err := q.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext() failed: %v", err)
		}
		if task.Payload != want {
			t.Errorf("want payload %q, got %q", want, task.Payload)
		}
		if err := q.Complete(ctx, task.ID); err != nil {
			t.Fatalf("Complete() failed: %v", err)
		}
	}

	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrEmpty) {
		t.Errorf("want ErrEmpty after draining, got %v", err)
	}
}

func TestQueue_ClaimHidesRunningTasks(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, KindSyncDocument, "only"); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := q.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext() failed: %v", err)
	}
	// The claimed task is running, not pending — a second claim finds nothing.
	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrEmpty) {
		t.Errorf("running task must not be claimable again, got %v", err)
	}
}

func TestQueue_FailRetriesUntilMaxAttempts(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, KindSyncDocument, "flaky"); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	// Each failed attempt returns the task to pending until the limit.
	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		task, err := q.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("ClaimNext() attempt %d failed: %v", attempt, err)
		}
		if task.Attempts != attempt {
			t.Errorf("want attempts=%d, got %d", attempt, task.Attempts)
		}
		if err := q.Fail(ctx, task.ID, errors.New("boom")); err != nil {
			t.Fatalf("Fail() failed: %v", err)
		}
	}

	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrEmpty) {
		t.Errorf("task must be failed permanently after %d attempts, got %v", DefaultMaxAttempts, err)
	}
}

func TestQueue_Pending(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	if n, _ := q.Pending(ctx); n != 0 {
		t.Errorf("empty queue: want 0 pending, got %d", n)
	}
	q.Enqueue(ctx, KindSyncDocument, "a")
	q.Enqueue(ctx, KindDeleteVector, "v")
	if n, _ := q.Pending(ctx); n != 2 {
		t.Errorf("want 2 pending, got %d", n)
	}
}

// workerFixture wires a Worker to an in-memory repository, queue, and fake
// embedding/vector backends.
type workerFixture struct {
	worker *Worker
	queue  *Queue
	repo   *docstore.SQLiteRepository
	store  *fakeVectorStore
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string, _ rag.EmbedMode) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type fakeVectorStore struct {
	vectors map[string]rag.Payload
	nextID  int
}

func (f *fakeVectorStore) Upsert(_ context.Context, _ []float32, payload rag.Payload) (string, error) {
	f.nextID++
	id := "vec-" + strconv.Itoa(f.nextID)
	f.vectors[id] = payload
	return id, nil
}

func (f *fakeVectorStore) UpsertBatch(ctx context.Context, vectors [][]float32, payloads []rag.Payload) ([]string, error) {
	ids := make([]string, len(vectors))
	for i := range vectors {
		id, _ := f.Upsert(ctx, vectors[i], payloads[i])
		ids[i] = id
	}
	return ids, nil
}

func (f *fakeVectorStore) Search(context.Context, []float32, int, float32) ([]rag.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectorStore) Delete(_ context.Context, id string) error {
	delete(f.vectors, id)
	return nil
}

func (f *fakeVectorStore) Close() error { return nil }

func newWorkerFixture(t *testing.T, embErr error) *workerFixture {
	t.Helper()

	repo, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store := &fakeVectorStore{vectors: map[string]rag.Payload{}}
	syn, err := ragsync.NewSynchronizer(repo, &fakeEmbedder{err: embErr}, store)
	if err != nil {
		t.Fatalf("NewSynchronizer() failed: %v", err)
	}

	queue := openTestQueue(t)
	worker, err := NewWorker(WorkerConfig{Queue: queue, Syncer: syn, Vectors: store})
	if err != nil {
		t.Fatalf("NewWorker() failed: %v", err)
	}
	return &workerFixture{worker: worker, queue: queue, repo: repo, store: store}
}

func TestWorker_DrainSyncsDocuments(t *testing.T) {
	fx := newWorkerFixture(t, nil)
	ctx := context.Background()

	doc, err := fx.repo.Create(ctx, "t", "content", "")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if _, err := fx.queue.Enqueue(ctx, KindSyncDocument, doc.ID); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if handled := fx.worker.Drain(ctx); handled != 1 {
		t.Errorf("want 1 task handled, got %d", handled)
	}

	got, err := fx.repo.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Synced() {
		t.Error("document not synced by worker")
	}
	if _, ok := fx.store.vectors[got.VectorID]; !ok {
		t.Error("vector not written by worker")
	}
}

func TestWorker_DrainDeletesVectors(t *testing.T) {
	fx := newWorkerFixture(t, nil)
	ctx := context.Background()

	fx.store.vectors["vec-x"] = rag.Payload{}
	if _, err := fx.queue.Enqueue(ctx, KindDeleteVector, "vec-x"); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	fx.worker.Drain(ctx)
	if _, ok := fx.store.vectors["vec-x"]; ok {
		t.Error("vector not deleted by worker")
	}
}

func TestWorker_FailedTaskIsRetriedThenDropped(t *testing.T) {
	fx := newWorkerFixture(t, errors.New("embedder down"))
	ctx := context.Background()

	doc, err := fx.repo.Create(ctx, "t", "content", "")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if _, err := fx.queue.Enqueue(ctx, KindSyncDocument, doc.ID); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	// A failed task returns to pending, so one drain burns through all
	// attempts before the task is dropped.
	if handled := fx.worker.Drain(ctx); handled != DefaultMaxAttempts {
		t.Fatalf("want %d attempts handled, got %d", DefaultMaxAttempts, handled)
	}
	if handled := fx.worker.Drain(ctx); handled != 0 {
		t.Errorf("exhausted task must not be claimed again, handled %d", handled)
	}
}

func TestWorker_UnknownKind(t *testing.T) {
	fx := newWorkerFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.queue.Enqueue(ctx, Kind("bogus"), "x"); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	// Claims, fails, retries, and eventually drops without panicking.
	fx.worker.Drain(ctx)
	if n, _ := fx.queue.Pending(ctx); n != 0 {
		t.Errorf("bogus task must not stay pending, got %d", n)
	}
}
