package feedcache

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"Currents/internal/core/content"
	"Currents/internal/core/feeds"
)

const (
	defaultPageLimit = 15
	maxPageLimit     = 100
)

// GetPageHandler serves locally cached feed pages. It never touches the
// network: this is the offline view of the cache.
type GetPageHandler struct {
	manager *feeds.Manager
	logger  *slog.Logger
}

// NewGetPageHandler creates a handler over the given feed manager.
func NewGetPageHandler(manager *feeds.Manager, logger *slog.Logger) *GetPageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetPageHandler{manager: manager, logger: logger}
}

type pageResponse struct {
	Items       []content.Item `json:"items"`
	HasMoreData bool           `json:"hasMoreData"`
}

// HandleGetPage serves one cached page.
// GET /feeds/{feedID}?limit=15&before=<itemID>
func (h *GetPageHandler) HandleGetPage(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	if feedID == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "feed id is required")
		return
	}

	limit := defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a positive integer")
			return
		}
		if parsed > maxPageLimit {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must not exceed 100")
			return
		}
		limit = parsed
	}
	before := r.URL.Query().Get("before")

	items, entries, err := h.manager.LocalPage(r.Context(), feedID, limit, before)
	if err != nil {
		if errors.Is(err, feeds.ErrStorage) {
			writeError(w, http.StatusInternalServerError, "StorageError", "failed to read local cache")
		} else {
			writeError(w, http.StatusInternalServerError, "Unknown", "failed to load page")
		}
		h.logger.Error("failed to serve cached page", "feed", feedID, "error", err)
		return
	}

	resp := pageResponse{
		Items:       items,
		HasMoreData: len(entries) == limit && len(items) == len(entries),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode page response", "feed", feedID, "error", err)
	}
}
