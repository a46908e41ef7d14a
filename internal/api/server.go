// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/events"
	"github.com/sightsync/sightsync/internal/index"
	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/session"
	"github.com/sightsync/sightsync/internal/storage"
	syncengine "github.com/sightsync/sightsync/internal/sync"
)

// Server is the HTTP server.
type Server struct {
	coordinator *syncengine.Coordinator
	tracker     *session.Tracker
	index       *index.Manager

	// SSE
	broadcaster *events.Broadcaster
}

// NewServer creates a new server.
func NewServer(
	coordinator *syncengine.Coordinator,
	tracker *session.Tracker,
	idx *index.Manager,
	broadcaster *events.Broadcaster,
) *Server {
	return &Server{
		coordinator: coordinator,
		tracker:     tracker,
		index:       idx,
		broadcaster: broadcaster,
	}
}

// Routes builds the HTTP handler with all routes and middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Sync
	mux.HandleFunc("POST /api/v1/sync", s.handleSyncAll)
	mux.HandleFunc("POST /api/v1/sync/{kind}", s.handleSyncKind)

	// Sessions and progress
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/v1/progress", s.handleProgress)
	mux.HandleFunc("DELETE /api/v1/sessions/current", s.handleCancelSession)

	// Index and assets
	mux.HandleFunc("POST /api/v1/index/rebuild", s.handleRebuildIndex)
	mux.HandleFunc("GET /api/v1/index", s.handleGetIndex)
	mux.HandleFunc("GET /api/v1/index/health", s.handleIndexHealth)
	mux.HandleFunc("GET /api/v1/assets/{kind}", s.handleListAssets)
	mux.HandleFunc("GET /api/v1/assets/{kind}/{id}", s.handleGetAsset)
	mux.HandleFunc("DELETE /api/v1/assets/{kind}/{id}", s.handleDeleteAsset)

	// SSE
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "sightsync"})
}

// ─── Sync ───────────────────────────────────────────────────────────────────

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	sess, err := s.coordinator.StartFull(r.Context(), force)
	if err != nil {
		if errors.Is(err, syncengine.ErrSyncRunning) {
			s.sendError(w, http.StatusConflict, "a sync is already running")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "failed to start sync: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusAccepted, sess)
}

func (s *Server) handleSyncKind(w http.ResponseWriter, r *http.Request) {
	kind, err := asset.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	force := r.URL.Query().Get("force") == "true"

	sess, err := s.coordinator.StartKind(r.Context(), kind, force)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to start sync: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusAccepted, sess)
}

// ─── Sessions ───────────────────────────────────────────────────────────────

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.tracker.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.sendError(w, http.StatusNotFound, "session not found")
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess := s.tracker.Active()
	if sess == nil {
		s.sendJSON(w, http.StatusOK, map[string]any{
			"active":   false,
			"progress": map[string]any{},
		})
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"active":    sess.Status == asset.SessionRunning,
		"sessionId": sess.SessionID,
		"status":    sess.Status,
		"progress":  sess.Progress,
	})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Cancel(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			s.sendError(w, http.StatusNotFound, "no active session")
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ─── Index ──────────────────────────────────────────────────────────────────

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.index.RebuildAll(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "rebuild failed: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, idx.Summary)
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.index.GetMasterIndex(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, idx)
}

func (s *Server) handleIndexHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.index.Health(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, report)
}

// ─── Assets ─────────────────────────────────────────────────────────────────

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	kind, err := asset.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := index.Query{
		Search: r.URL.Query().Get("search"),
		Sort:   r.URL.Query().Get("sort"),
		Order:  r.URL.Query().Get("order"),
	}
	if v := r.URL.Query().Get("page"); v != "" {
		q.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("pageSize"); v != "" {
		q.PageSize, _ = strconv.Atoi(v)
	}

	page, err := s.index.GetByKind(r.Context(), kind, q)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	kind, err := asset.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")

	data, err := s.index.GetAsset(r.Context(), kind, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", kind, id))
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	kind, err := asset.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")

	if err := s.index.DeleteOne(r.Context(), kind, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", kind, id))
			return
		}
		s.sendError(w, http.StatusInternalServerError, "failed to delete: "+err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error: message,
		Code:  code,
	})
}
