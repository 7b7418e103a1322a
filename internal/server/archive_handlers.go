package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/reliability"
)

const defaultArchiveListLimit = 50

// RunArchive reads archived optimization results
type RunArchive interface {
	List(ctx context.Context, method optimization.Method, limit int) ([]reliability.ArchivedRun, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Owns(key string) bool
}

// ArchiveHandlers serves archived optimization runs
type ArchiveHandlers struct {
	archive RunArchive
	log     zerolog.Logger
}

// NewArchiveHandlers creates archive handlers
func NewArchiveHandlers(archive RunArchive, log zerolog.Logger) *ArchiveHandlers {
	return &ArchiveHandlers{
		archive: archive,
		log:     log.With().Str("handler", "archive").Logger(),
	}
}

// HandleListRuns handles GET /api/archive/runs?method=&limit=
func (h *ArchiveHandlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	method := optimization.Method(r.URL.Query().Get("method"))
	if method != "" && !isKnownMethod(method) {
		writeJSON(w, r, http.StatusBadRequest, errorBody("unknown method "+string(method)))
		return
	}

	limit := defaultArchiveListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, r, http.StatusBadRequest, errorBody("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	runs, err := h.archive.List(r.Context(), method, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list archived runs")
		writeJSON(w, r, http.StatusBadGateway, errorBody("Failed to list archived runs"))
		return
	}
	if runs == nil {
		runs = []reliability.ArchivedRun{}
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleGetRun handles GET /api/archive/runs/{key...}
func (h *ArchiveHandlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || !strings.HasSuffix(key, ".json") {
		writeJSON(w, r, http.StatusBadRequest, errorBody("invalid archive key"))
		return
	}
	if !h.archive.Owns(key) {
		writeJSON(w, r, http.StatusNotFound, errorBody("archived run not found"))
		return
	}

	data, err := h.archive.Fetch(r.Context(), key)
	if err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("Failed to fetch archived run")
		writeJSON(w, r, http.StatusNotFound, errorBody("archived run not found"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to write archived run")
	}
}

func isKnownMethod(method optimization.Method) bool {
	for _, m := range optimization.AllMethods {
		if m == method {
			return true
		}
	}
	return false
}
