package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ragstack/ragstack-go/internal/logging"
	"github.com/ragstack/ragstack-go/internal/rag"
)

// handleQuery handles POST /api/query. The JSON body selects between a single
// JSON response (default) and an SSE stream (stream: true). In streaming mode
// the retrieval sources are sent as a named "sources" event before the first
// answer chunk, so clients can render citations while the answer streams.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	if req.Stream {
		s.streamQuery(ctx, w, r, req, start)
		return
	}

	outcome, err := s.pipeline.Answer(ctx, req.Query, req.TopK, req.ScoreThreshold)
	if err != nil {
		s.observeQuery(outcomeError, start)
		writeError(w, r, queryStatus(err), err.Error())
		return
	}

	s.observeQuery(outcomeOK, start)
	s.metrics.querySourcesReturned.Observe(float64(len(outcome.Sources)))
	writeJSON(w, http.StatusOK, outcome)
}

// streamQuery runs the pipeline in streaming mode and relays the answer over
// SSE. Frame layout: one "sources" event carrying the retrieval results as
// JSON, then unnamed data frames with answer chunks, then a "done" event.
func (s *Server) streamQuery(ctx context.Context, w http.ResponseWriter, r *http.Request, req queryRequest, start time.Time) {
	log := logging.FromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported by this connection")
		return
	}

	sources, stream, err := s.pipeline.AnswerStream(ctx, req.Query, req.TopK, req.ScoreThreshold)
	if err != nil {
		s.observeQuery(outcomeError, start)
		writeError(w, r, queryStatus(err), err.Error())
		return
	}
	defer stream.Close()

	s.metrics.queryActiveStreams.Inc()
	defer s.metrics.queryActiveStreams.Dec()
	s.metrics.querySourcesReturned.Observe(float64(len(sources)))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		log.Error("query: sources encode error", slog.Any("error", err))
		sourcesJSON = []byte("[]")
	}
	sse.event("sources", string(sourcesJSON))

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are already sent; all we can do is surface the error
			// in-band and close the stream.
			log.Error("query: stream error", slog.Any("error", err))
			sse.event("error", err.Error())
			s.observeQuery(outcomeError, start)
			return
		}
		if _, err := sse.Write([]byte(chunk)); err != nil {
			log.Warn("query: client disconnected", slog.Any("error", err))
			s.observeQuery(outcomeError, start)
			return
		}
	}

	sse.event("done", "")
	s.observeQuery(outcomeOK, start)
}

// observeQuery records the shared per-query counter and latency histogram.
func (s *Server) observeQuery(outcome string, start time.Time) {
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// queryStatus maps pipeline errors to HTTP status codes. Provider failures
// are upstream problems (502); anything else is a client error (400).
func queryStatus(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmbedder),
		errors.Is(err, rag.ErrVectorStore),
		errors.Is(err, rag.ErrGenerator):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}
