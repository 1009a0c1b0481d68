package api

import (
	"net/http"

	"github.com/clevio/clevio/internal/retrieval"
)

type metricsHandler struct {
	system *retrieval.System
}

// get handles GET /api/v1/metrics.
func (h *metricsHandler) get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.system.Metrics())
}

// reset handles POST /api/v1/metrics/reset.
func (h *metricsHandler) reset(w http.ResponseWriter, _ *http.Request) {
	h.system.ResetMetrics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
