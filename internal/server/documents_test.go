package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/rag"
	"github.com/ragstack/ragstack-go/internal/tasks"
)

// doRequest performs an arbitrary request against the server's handler.
func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

// TestDocumentCreate verifies POST /api/documents persists the document and
// returns it with 201.
func TestDocumentCreate(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	w := postJSON(t, f.server, "/api/documents", `{"title":"Qdrant intro","content":"Qdrant stores vectors.","source":"manual"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}

	var doc docstore.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID == "" {
		t.Error("expected a generated document ID")
	}
	if doc.Title != "Qdrant intro" {
		t.Errorf("title: got %q", doc.Title)
	}
	if doc.VectorID != "" {
		t.Errorf("expected unsynced document, got vector ID %q", doc.VectorID)
	}
	if len(f.syncer.synced) != 0 {
		t.Error("sync must not run unless requested")
	}
}

// TestDocumentCreate_WithSync verifies that sync:true synchronizes the new
// document before the response is written.
func TestDocumentCreate_WithSync(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	w := postJSON(t, f.server, "/api/documents", `{"title":"T","content":"C","sync":true}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d — body: %s", w.Code, w.Body.String())
	}

	var doc docstore.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.VectorID != "vec-1" {
		t.Errorf("expected synced vector ID vec-1, got %q", doc.VectorID)
	}
	if len(f.syncer.synced) != 1 {
		t.Fatalf("expected 1 sync call, got %d", len(f.syncer.synced))
	}
}

// TestDocumentCreate_Validation verifies that missing title or content is
// rejected with 400.
func TestDocumentCreate_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"content":"C"}`},
		{"missing content", `{"title":"T"}`},
		{"blank title", `{"title":"  ","content":"C"}`},
		{"invalid json", `{`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newTestFixture(t, false)
			w := postJSON(t, f.server, "/api/documents", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

// TestDocumentList verifies paging parameters and the response envelope.
func TestDocumentList(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	for i := range 3 {
		f.mustCreate(t, fmt.Sprintf("doc %d", i), "content")
	}

	w := doRequest(t, f.server, http.MethodGet, "/api/documents?offset=0&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp listDocumentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Documents) != 2 {
		t.Errorf("expected 2 documents, got %d", len(resp.Documents))
	}
	if resp.Limit != 2 || resp.Offset != 0 {
		t.Errorf("echoed paging: got offset=%d limit=%d", resp.Offset, resp.Limit)
	}
}

// TestDocumentList_Empty verifies an empty repository yields an empty array,
// not null.
func TestDocumentList_Empty(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	w := doRequest(t, f.server, http.MethodGet, "/api/documents", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"documents":[]`) {
		t.Errorf("expected empty array, got: %s", w.Body.String())
	}
}

// TestDocumentGet verifies GET /api/documents/{id} and its 404 path.
func TestDocumentGet(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	doc := f.mustCreate(t, "T", "C")

	w := doRequest(t, f.server, http.MethodGet, "/api/documents/"+doc.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got docstore.Document
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != doc.ID {
		t.Errorf("expected document %s, got %s", doc.ID, got.ID)
	}

	w = doRequest(t, f.server, http.MethodGet, "/api/documents/no-such-id", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown document, got %d", w.Code)
	}
}

// TestDocumentUpdate verifies PUT /api/documents/{id} updates the record and
// optionally re-syncs it.
func TestDocumentUpdate(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	doc := f.mustCreate(t, "old", "old content")

	w := doRequest(t, f.server, http.MethodPut, "/api/documents/"+doc.ID, `{"title":"new","content":"new content"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var got docstore.Document
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Title != "new" || got.Content != "new content" {
		t.Errorf("update not applied: %+v", got)
	}
	if len(f.syncer.synced) != 0 {
		t.Error("sync must not run unless requested")
	}

	w = doRequest(t, f.server, http.MethodPut, "/api/documents/"+doc.ID, `{"title":"new2","content":"c2","sync":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(f.syncer.synced) != 1 {
		t.Errorf("expected 1 sync call after sync:true, got %d", len(f.syncer.synced))
	}

	w = doRequest(t, f.server, http.MethodPut, "/api/documents/no-such-id", `{"title":"t","content":"c"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown document, got %d", w.Code)
	}
}

// TestDocumentDelete verifies DELETE removes the document and its vector via
// the synchronization workflow.
func TestDocumentDelete(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	doc := f.mustCreate(t, "T", "C")

	w := doRequest(t, f.server, http.MethodDelete, "/api/documents/"+doc.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(f.syncer.removed) != 1 || f.syncer.removed[0] != doc.ID {
		t.Errorf("expected Remove(%s), got %v", doc.ID, f.syncer.removed)
	}

	w = doRequest(t, f.server, http.MethodDelete, "/api/documents/"+doc.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
}

// TestDocumentDelete_ConsistencyFailure verifies that a vector cleanup
// failure after the record is gone still reports success: the sweeper owns
// the orphan.
func TestDocumentDelete_ConsistencyFailure(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	doc := f.mustCreate(t, "T", "C")
	f.syncer.removeErr = fmt.Errorf("%w: delete vector v1: boom", rag.ErrConsistency)

	w := doRequest(t, f.server, http.MethodDelete, "/api/documents/"+doc.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 despite consistency error, got %d — body: %s", w.Code, w.Body.String())
	}
}

// TestDocumentSync verifies POST /api/documents/{id}/sync in inline mode.
func TestDocumentSync(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	doc := f.mustCreate(t, "T", "C")

	w := doRequest(t, f.server, http.MethodPost, "/api/documents/"+doc.ID+"/sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp syncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DocumentID != doc.ID || resp.VectorID != "vec-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Deferred {
		t.Error("inline sync must not report deferred")
	}
}

// TestDocumentSync_NotFound verifies the 404 path for unknown documents.
func TestDocumentSync_NotFound(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	f.syncer.syncErr = fmt.Errorf("sync: load document: %w", docstore.ErrNotFound)

	w := doRequest(t, f.server, http.MethodPost, "/api/documents/no-such-id/sync", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// TestDocumentSync_ProviderFailure verifies that embedder and vector store
// failures surface as 502.
func TestDocumentSync_ProviderFailure(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	doc := f.mustCreate(t, "T", "C")
	f.syncer.syncErr = fmt.Errorf("%w: embed document: boom", rag.ErrEmbedder)

	w := doRequest(t, f.server, http.MethodPost, "/api/documents/"+doc.ID+"/sync", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d — body: %s", w.Code, w.Body.String())
	}
}

// TestDocumentSyncBatch verifies the per-document result envelope with a
// partial failure.
func TestDocumentSyncBatch(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	a := f.mustCreate(t, "A", "content a")
	b := f.mustCreate(t, "B", "content b")

	body := fmt.Sprintf(`{"document_ids":[%q,"missing",%q]}`, a.ID, b.ID)
	w := postJSON(t, f.server, "/api/documents/sync", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp batchSyncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Succeeded != 2 || resp.Failed != 1 {
		t.Errorf("expected 2 succeeded / 1 failed, got %d / %d", resp.Succeeded, resp.Failed)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Results[1].DocumentID != "missing" || resp.Results[1].Error == "" {
		t.Errorf("expected failure entry for missing document, got %+v", resp.Results[1])
	}
	if resp.Results[0].VectorID != "vec-1" || resp.Results[2].VectorID != "vec-1" {
		t.Errorf("expected vector IDs on successful entries, got %+v", resp.Results)
	}
}

// TestDocumentSyncBatch_EmptyIDs verifies that an empty id list is rejected.
func TestDocumentSyncBatch_EmptyIDs(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	w := postJSON(t, f.server, "/api/documents/sync", `{"document_ids":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// TestDocumentSync_Deferred verifies that deferred mode queues the sync task
// and responds 202 without calling the synchronizer.
func TestDocumentSync_Deferred(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, true)
	doc := f.mustCreate(t, "T", "C")

	w := doRequest(t, f.server, http.MethodPost, "/api/documents/"+doc.ID+"/sync", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp syncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Deferred {
		t.Error("expected deferred:true")
	}
	if resp.VectorID != "" {
		t.Errorf("deferred sync must not report a vector ID, got %q", resp.VectorID)
	}

	if len(f.syncer.synced) != 0 {
		t.Error("synchronizer must not run in deferred mode")
	}
	if len(f.queue.entries) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(f.queue.entries))
	}
	if got := f.queue.entries[0]; got.kind != tasks.KindSyncDocument || got.payload != doc.ID {
		t.Errorf("queued task: expected (%s, %s), got (%s, %s)", tasks.KindSyncDocument, doc.ID, got.kind, got.payload)
	}
}

// TestDocumentSync_DeferredUnknownDocument verifies deferred mode still
// returns 404 for unknown documents instead of queueing a doomed task.
func TestDocumentSync_DeferredUnknownDocument(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, true)
	w := doRequest(t, f.server, http.MethodPost, "/api/documents/no-such-id/sync", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if len(f.queue.entries) != 0 {
		t.Error("no task must be queued for an unknown document")
	}
}

// TestDocumentSyncBatch_Deferred verifies that deferred batch sync queues one
// task per document.
func TestDocumentSyncBatch_Deferred(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, true)
	w := postJSON(t, f.server, "/api/documents/sync", `{"document_ids":["d1","d2"]}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp batchSyncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Deferred || resp.Succeeded != 2 {
		t.Errorf("expected deferred batch with 2 queued, got %+v", resp)
	}
	if len(f.queue.entries) != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", len(f.queue.entries))
	}
}

// TestDocumentDelete_Deferred verifies that deferred mode deletes the record
// inline and queues the vector removal.
func TestDocumentDelete_Deferred(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, true)
	doc := f.mustCreate(t, "T", "C")
	if err := f.repo.SetVectorID(context.Background(), doc.ID, "vec-99"); err != nil {
		t.Fatalf("set vector id: %v", err)
	}

	w := doRequest(t, f.server, http.MethodDelete, "/api/documents/"+doc.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d — body: %s", w.Code, w.Body.String())
	}

	if _, err := f.repo.Get(context.Background(), doc.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Error("document record must be deleted inline")
	}
	if len(f.queue.entries) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(f.queue.entries))
	}
	if got := f.queue.entries[0]; got.kind != tasks.KindDeleteVector || got.payload != "vec-99" {
		t.Errorf("queued task: expected (%s, vec-99), got (%s, %s)", tasks.KindDeleteVector, got.kind, got.payload)
	}
	if len(f.syncer.removed) != 0 {
		t.Error("synchronizer must not run in deferred mode")
	}
}

// TestDocumentDelete_DeferredUnsynced verifies that deleting an unsynced
// document in deferred mode queues nothing.
func TestDocumentDelete_DeferredUnsynced(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, true)
	doc := f.mustCreate(t, "T", "C")

	w := doRequest(t, f.server, http.MethodDelete, "/api/documents/"+doc.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(f.queue.entries) != 0 {
		t.Errorf("expected no queued tasks, got %d", len(f.queue.entries))
	}
}
