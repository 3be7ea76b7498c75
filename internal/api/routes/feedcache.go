package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"Currents/internal/api/handlers/feedcache"
	"Currents/internal/core/feeds"
)

// RegisterFeedCacheRoutes registers the read-only cache endpoints.
func RegisterFeedCacheRoutes(r chi.Router, manager *feeds.Manager, logger *slog.Logger) {
	getPage := feedcache.NewGetPageHandler(manager, logger)

	// GET /feeds/{feedID}?limit=15&before=<itemID>
	r.Get("/feeds/{feedID}", getPage.HandleGetPage)
}
