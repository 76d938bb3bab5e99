package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/rag"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
	"github.com/ragstack/ragstack-go/internal/tasks"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for streaming responses.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds the end-to-end duration of a single /api/query
	// request, streaming included.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// DeferredSync routes document synchronization through the task queue
	// instead of performing it inline. Requires Queue to be set.
	DeferredSync bool
	// MetricsRegistry receives all server metric registrations. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the interface handleQuery calls to run the retrieval pipeline.
// *rag.Pipeline satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, query string, topK int, scoreThreshold float32) (*rag.Outcome, error)
	AnswerStream(ctx context.Context, query string, topK int, scoreThreshold float32) ([]rag.SearchResult, rag.Stream, error)
}

// syncRunner is the interface the document handlers call to synchronize
// documents with the vector store. *sync.Synchronizer satisfies it.
type syncRunner interface {
	Sync(ctx context.Context, documentID string) (*docstore.Document, error)
	SyncBatch(ctx context.Context, documentIDs []string) []ragsync.BatchResult
	Remove(ctx context.Context, documentID string) error
}

// Enqueuer is the interface used in deferred mode. *tasks.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind tasks.Kind, payload string) (int64, error)
}

// Server is the HTTP server exposing the retrieval pipeline and the
// document API.
type Server struct {
	// pipeline answers /api/query requests.
	pipeline answerer
	// repo is the document repository behind /api/documents.
	repo docstore.Repository
	// syncer drives inline document synchronization.
	syncer syncRunner
	// queue receives deferred sync tasks; nil when deferred mode is off.
	queue Enqueuer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the user's natural language question.
	Query string `json:"query"`
	// TopK caps the number of retrieval results (default 5).
	TopK int `json:"top_k,omitempty"`
	// ScoreThreshold drops retrieval results scoring below it (default 0).
	ScoreThreshold float32 `json:"score_threshold,omitempty"`
	// Stream requests an SSE response instead of a single JSON body.
	Stream bool `json:"stream,omitempty"`
}

// createDocumentRequest is the JSON body for POST /api/documents.
type createDocumentRequest struct {
	// Title is the human-readable document title.
	Title string `json:"title"`
	// Content is the document text to store and embed.
	Content string `json:"content"`
	// Source is an optional origin marker.
	Source string `json:"source,omitempty"`
	// Sync triggers synchronization immediately after creation.
	Sync bool `json:"sync,omitempty"`
}

// updateDocumentRequest is the JSON body for PUT /api/documents/{id}.
type updateDocumentRequest struct {
	// Title is the new document title.
	Title string `json:"title"`
	// Content is the new document text.
	Content string `json:"content"`
	// Sync triggers re-synchronization immediately after the update.
	Sync bool `json:"sync,omitempty"`
}

// listDocumentsResponse is the JSON response for GET /api/documents.
type listDocumentsResponse struct {
	// Documents is the page of documents, newest first.
	Documents []*docstore.Document `json:"documents"`
	// Offset echoes the requested page offset.
	Offset int `json:"offset"`
	// Limit echoes the requested page size.
	Limit int `json:"limit"`
}

// syncResponse is the JSON response for POST /api/documents/{id}/sync.
type syncResponse struct {
	// DocumentID identifies the synchronized document.
	DocumentID string `json:"document_id"`
	// VectorID is the vector written for the document. Empty in deferred mode.
	VectorID string `json:"vector_id,omitempty"`
	// Deferred is true when the sync was queued rather than performed inline.
	Deferred bool `json:"deferred,omitempty"`
}

// batchSyncRequest is the JSON body for POST /api/documents/sync.
type batchSyncRequest struct {
	// DocumentIDs lists the documents to synchronize.
	DocumentIDs []string `json:"document_ids"`
}

// batchSyncResult is one entry of the batch sync response.
type batchSyncResult struct {
	// DocumentID identifies the document this result belongs to.
	DocumentID string `json:"document_id"`
	// VectorID is the vector written on success.
	VectorID string `json:"vector_id,omitempty"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
}

// batchSyncResponse is the JSON response for POST /api/documents/sync.
type batchSyncResponse struct {
	// Results is parallel to the requested document_ids.
	Results []batchSyncResult `json:"results"`
	// Succeeded counts the documents synchronized without error.
	Succeeded int `json:"succeeded"`
	// Failed counts the documents whose sync failed.
	Failed int `json:"failed"`
	// Deferred is true when the batch was queued rather than performed inline.
	Deferred bool `json:"deferred,omitempty"`
}

// errorResponse is the JSON error body for all API endpoints.
type errorResponse struct {
	// Error is the human-readable failure description.
	Error string `json:"error"`
}
