// Package api provides HTTP API handlers for stored classification history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/janken/internal/store"
)

// HistoryHandler serves stored predictions and sessions.
type HistoryHandler struct {
	store *store.Store
}

// NewHistoryHandler creates a new HistoryHandler with the given store.
func NewHistoryHandler(s *store.Store) *HistoryHandler {
	return &HistoryHandler{store: s}
}

type errorResponse struct {
	Error string `json:"error"`
}

type historyResponse struct {
	Predictions []*store.Prediction `json:"predictions"`
	Counts      []store.LabelCount  `json:"counts"`
}

type sessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
}

// ServeHTTP routes /api/history and /api/history/sessions[/{id}].
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/history")
	path = strings.Trim(path, "/")

	switch {
	case path == "":
		h.list(w, r)
	case path == "sessions":
		h.sessions(w, r)
	case strings.HasPrefix(path, "sessions/"):
		h.session(w, r, strings.TrimPrefix(path, "sessions/"))
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/history?session=&label=&since=&limit=.
func (h *HistoryHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PredictionFilter{
		SessionID: q.Get("session"),
		Label:     q.Get("label"),
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since, want RFC 3339")
			return
		}
		filter.Since = since
	}

	predictions, err := h.store.Predictions().List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list predictions")
		return
	}
	counts, err := h.store.Predictions().CountByLabel(filter.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count predictions")
		return
	}

	response := historyResponse{
		Predictions: predictions,
		Counts:      counts,
	}
	if response.Predictions == nil {
		response.Predictions = []*store.Prediction{}
	}
	if response.Counts == nil {
		response.Counts = []store.LabelCount{}
	}

	writeJSON(w, http.StatusOK, response)
}

// sessions handles GET /api/history/sessions.
func (h *HistoryHandler) sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions().List(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}

// session handles GET /api/history/sessions/{id}.
func (h *HistoryHandler) session(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
