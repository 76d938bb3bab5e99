package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ragstack/ragstack-go/internal/rag"
)

// postJSON performs a POST with a JSON body against the server's handler.
func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

// TestHandleQuery_JSON verifies the non-streaming path returns the pipeline
// outcome as a JSON body.
func TestHandleQuery_JSON(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	f.pipeline.outcome = &rag.Outcome{
		Query:    "what is qdrant",
		Response: "a vector database",
		Sources: []rag.SearchResult{
			{ID: "v1", Score: 0.92, Payload: rag.Payload{Text: "Qdrant stores vectors", Title: "intro"}},
		},
	}

	w := postJSON(t, f.server, "/api/query", `{"query":"what is qdrant","top_k":3,"score_threshold":0.5}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var outcome rag.Outcome
	if err := json.NewDecoder(w.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Response != "a vector database" {
		t.Errorf("response: expected %q, got %q", "a vector database", outcome.Response)
	}
	if len(outcome.Sources) != 1 || outcome.Sources[0].ID != "v1" {
		t.Errorf("sources: expected [v1], got %+v", outcome.Sources)
	}

	if f.pipeline.lastQuery != "what is qdrant" {
		t.Errorf("pipeline query: got %q", f.pipeline.lastQuery)
	}
	if f.pipeline.lastTopK != 3 {
		t.Errorf("pipeline topK: expected 3, got %d", f.pipeline.lastTopK)
	}
	if f.pipeline.lastThreshold != 0.5 {
		t.Errorf("pipeline threshold: expected 0.5, got %v", f.pipeline.lastThreshold)
	}
}

// TestHandleQuery_EmptyQuery verifies that a blank query is rejected with 400
// before the pipeline runs.
func TestHandleQuery_EmptyQuery(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	w := postJSON(t, f.server, "/api/query", `{"query":"   "}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if f.pipeline.lastQuery != "" {
		t.Error("pipeline should not run for an empty query")
	}
}

// TestHandleQuery_InvalidBody verifies that malformed JSON is rejected with 400.
func TestHandleQuery_InvalidBody(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	w := postJSON(t, f.server, "/api/query", `{not json`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// TestHandleQuery_ProviderFailure verifies that embedder, store, and
// generator failures map to 502 Bad Gateway.
func TestHandleQuery_ProviderFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
	}{
		{"embedder", rag.ErrEmbedder},
		{"vector store", rag.ErrVectorStore},
		{"generator", rag.ErrGenerator},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newTestFixture(t, false)
			f.pipeline.err = tc.err

			w := postJSON(t, f.server, "/api/query", `{"query":"anything"}`)

			if w.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d — body: %s", w.Code, w.Body.String())
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == "" {
				t.Error("expected non-empty error message")
			}
		})
	}
}

// TestHandleQuery_Stream verifies the SSE framing: a sources event first,
// then data frames with the answer chunks, then a done event.
func TestHandleQuery_Stream(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	f.pipeline.outcome = &rag.Outcome{
		Sources: []rag.SearchResult{
			{ID: "v1", Score: 0.9, Payload: rag.Payload{Text: "ctx", Title: "doc"}},
		},
	}
	f.pipeline.chunks = []string{"The answer", " is 42."}

	w := postJSON(t, f.server, "/api/query", `{"query":"meaning of life","stream":true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type: expected text/event-stream, got %q", ct)
	}

	body := w.Body.String()

	sourcesIdx := strings.Index(body, "event: sources")
	if sourcesIdx < 0 {
		t.Fatalf("missing sources event in stream:\n%s", body)
	}
	firstChunkIdx := strings.Index(body, "data: The answer")
	if firstChunkIdx < 0 {
		t.Fatalf("missing first answer chunk in stream:\n%s", body)
	}
	if sourcesIdx > firstChunkIdx {
		t.Error("sources event must precede the first answer chunk")
	}
	if !strings.Contains(body, "data:  is 42.") {
		t.Errorf("missing second answer chunk in stream:\n%s", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("missing done event in stream:\n%s", body)
	}

	// The sources event payload must decode back to the retrieval results.
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: [") {
			continue
		}
		var sources []rag.SearchResult
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &sources); err != nil {
			t.Fatalf("decode sources payload: %v", err)
		}
		if len(sources) != 1 || sources[0].ID != "v1" {
			t.Errorf("sources payload: expected [v1], got %+v", sources)
		}
		break
	}
}

// TestHandleQuery_StreamProviderFailure verifies that a pipeline failure
// before streaming starts is reported as a regular JSON error, not SSE.
func TestHandleQuery_StreamProviderFailure(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t, false)
	f.pipeline.err = rag.ErrGenerator

	w := postJSON(t, f.server, "/api/query", `{"query":"anything","stream":true}`)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d — body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
}

// TestSSEWriter_MultiLineChunk verifies that chunks containing newlines are
// split into multiple data lines within a single SSE frame.
func TestSSEWriter_MultiLineChunk(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	sse := &sseWriter{w: w, flusher: w}

	if _, err := sse.Write([]byte("line one\nline two\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := "data: line one\ndata: line two\n\n"
	if got := w.Body.String(); got != want {
		t.Errorf("frame mismatch:\nwant %q\ngot  %q", want, got)
	}
}
