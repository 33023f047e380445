package handler

import (
	"net/http"

	"log/slog"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// ScoreSource exposes the venue scorer's published view.
type ScoreSource interface {
	Scores() []domain.VenueScore
	Metrics(venue string) (domain.VenueMetrics, bool)
}

// VenueHandler serves venue scoring and health endpoints.
type VenueHandler struct {
	scores ScoreSource
	logger *slog.Logger
}

// NewVenueHandler creates a VenueHandler.
func NewVenueHandler(scores ScoreSource, logger *slog.Logger) *VenueHandler {
	return &VenueHandler{scores: scores, logger: logger}
}

// ListScores returns the current 0-100 venue scores.
// GET /api/venues
func (h *VenueHandler) ListScores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scores.Scores())
}

// GetMetrics returns the rolling metrics for one venue.
// GET /api/venues/{name}/metrics
func (h *VenueHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, ok := h.scores.Metrics(name)
	if !ok {
		writeError(w, http.StatusNotFound, "venue not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
