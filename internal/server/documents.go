package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ragstack/ragstack-go/internal/docstore"
	"github.com/ragstack/ragstack-go/internal/logging"
	"github.com/ragstack/ragstack-go/internal/rag"
	"github.com/ragstack/ragstack-go/internal/tasks"
)

// defaultListLimit caps GET /api/documents pages when the client does not
// specify a limit.
const defaultListLimit = 50

// handleDocumentCreate handles POST /api/documents. When the body sets
// sync: true the new document is synchronized before the response is written
// (or queued, in deferred mode).
func (s *Server) handleDocumentCreate(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "title must not be empty")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, r, http.StatusBadRequest, "content must not be empty")
		return
	}

	doc, err := s.repo.Create(r.Context(), req.Title, req.Content, req.Source)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Sync {
		synced, status, msg := s.runSync(r, doc.ID)
		if msg != "" {
			// The document exists but its vector does not; report the sync
			// failure without discarding the created record.
			writeError(w, r, status, "document created but sync failed: "+msg)
			return
		}
		if synced != nil {
			doc = synced
		}
	}

	writeJSON(w, http.StatusCreated, doc)
}

// handleDocumentList handles GET /api/documents with offset/limit paging.
func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultListLimit)

	docs, err := s.repo.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*docstore.Document{}
	}

	writeJSON(w, http.StatusOK, listDocumentsResponse{
		Documents: docs,
		Offset:    offset,
		Limit:     limit,
	})
}

// handleDocumentGet handles GET /api/documents/{id}.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.repo.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, docstore.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDocumentUpdate handles PUT /api/documents/{id}. The update leaves
// the stored vector reference untouched; a stale vector persists until the
// next sync, which is triggered immediately when the body sets sync: true.
func (s *Server) handleDocumentUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "title must not be empty")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, r, http.StatusBadRequest, "content must not be empty")
		return
	}

	id := r.PathValue("id")
	doc, err := s.repo.Update(r.Context(), id, req.Title, req.Content)
	if errors.Is(err, docstore.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Sync {
		synced, status, msg := s.runSync(r, id)
		if msg != "" {
			writeError(w, r, status, "document updated but sync failed: "+msg)
			return
		}
		if synced != nil {
			doc = synced
		}
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleDocumentDelete handles DELETE /api/documents/{id}. The document
// record is removed first; its vector is deleted inline or, in deferred
// mode, queued for the worker.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	if s.cfg.DeferredSync {
		vectorID, err := s.repo.Delete(r.Context(), id)
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "document not found")
			return
		}
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		if vectorID != "" {
			if _, err := s.queue.Enqueue(r.Context(), tasks.KindDeleteVector, vectorID); err != nil {
				// The document is already gone; the sweeper reconciles the
				// orphaned vector if this enqueue is lost.
				log.Warn("delete: could not queue vector removal",
					slog.String("document_id", id),
					slog.String("vector_id", vectorID),
					slog.Any("error", err),
				)
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	err := s.syncer.Remove(r.Context(), id)
	if errors.Is(err, docstore.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "document not found")
		return
	}
	if errors.Is(err, rag.ErrConsistency) {
		// The record is deleted; only the vector cleanup failed. The sweeper
		// owns the orphan, so the client still sees success.
		log.Warn("delete: vector cleanup failed, orphan left for sweeper",
			slog.String("document_id", id),
			slog.Any("error", err),
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDocumentSync handles POST /api/documents/{id}/sync.
func (s *Server) handleDocumentSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s.cfg.DeferredSync {
		// Existence check up front so queued tasks are not doomed to fail.
		if _, err := s.repo.Get(r.Context(), id); errors.Is(err, docstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "document not found")
			return
		} else if err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		if _, err := s.queue.Enqueue(r.Context(), tasks.KindSyncDocument, id); err != nil {
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, syncResponse{DocumentID: id, Deferred: true})
		return
	}

	doc, status, msg := s.runSync(r, id)
	if msg != "" {
		writeError(w, r, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{DocumentID: doc.ID, VectorID: doc.VectorID})
}

// handleDocumentSyncBatch handles POST /api/documents/sync. Each document is
// synchronized independently; one failure never aborts the rest.
func (s *Server) handleDocumentSyncBatch(w http.ResponseWriter, r *http.Request) {
	var req batchSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "document_ids must not be empty")
		return
	}

	if s.cfg.DeferredSync {
		resp := batchSyncResponse{Deferred: true}
		for _, id := range req.DocumentIDs {
			entry := batchSyncResult{DocumentID: id}
			if _, err := s.queue.Enqueue(r.Context(), tasks.KindSyncDocument, id); err != nil {
				entry.Error = err.Error()
				resp.Failed++
			} else {
				resp.Succeeded++
			}
			resp.Results = append(resp.Results, entry)
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	var resp batchSyncResponse
	for _, res := range s.syncer.SyncBatch(r.Context(), req.DocumentIDs) {
		entry := batchSyncResult{DocumentID: res.DocumentID, VectorID: res.VectorID}
		if res.Err != nil {
			entry.Error = res.Err.Error()
			resp.Failed++
			s.metrics.syncTotal.WithLabelValues(outcomeError).Inc()
		} else {
			resp.Succeeded++
			s.metrics.syncTotal.WithLabelValues(outcomeOK).Inc()
		}
		resp.Results = append(resp.Results, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}

// runSync performs one inline synchronization and records the sync metric.
// Returns the synced document on success, or a status code and message on
// failure (msg is empty on success).
func (s *Server) runSync(r *http.Request, documentID string) (*docstore.Document, int, string) {
	doc, err := s.syncer.Sync(r.Context(), documentID)
	if err != nil {
		s.metrics.syncTotal.WithLabelValues(outcomeError).Inc()
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			return nil, http.StatusNotFound, "document not found"
		case errors.Is(err, rag.ErrEmbedder), errors.Is(err, rag.ErrVectorStore):
			return nil, http.StatusBadGateway, err.Error()
		default:
			return nil, http.StatusInternalServerError, err.Error()
		}
	}
	s.metrics.syncTotal.WithLabelValues(outcomeOK).Inc()
	return doc, http.StatusOK, ""
}

// queryInt parses a non-negative integer query parameter, falling back to
// def when absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
