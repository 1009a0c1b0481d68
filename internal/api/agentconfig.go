package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clevio/clevio/internal/agentcfg"
	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/retrieval"
)

type configHandler struct {
	system *retrieval.System
	logger log.Logger
}

// get handles GET /api/v1/agents/{id}/config.
func (h *configHandler) get(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	cfg, err := h.system.GetConfig(r.Context(), agentID)
	if err != nil {
		h.writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// warm handles POST /api/v1/agents/{id}/config/warm.
func (h *configHandler) warm(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	if err := h.system.WarmConfig(r.Context(), agentID); err != nil {
		h.writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "warmed"})
}

// warmAll handles POST /api/v1/agents/config/warm-all.
func (h *configHandler) warmAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.AgentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "agent_ids is required")
		return
	}

	if err := h.system.WarmAllConfigs(r.Context(), req.AgentIDs); err != nil {
		// Partial failure: report which agents failed, keep the rest warm.
		h.logger.Warn("warm-all completed with failures", "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]string{
			"status": "partial",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "warmed"})
}

// invalidate handles DELETE /api/v1/agents/{id}/config.
func (h *configHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	h.system.InvalidateConfig(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *configHandler) writeConfigError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agentcfg.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, agentcfg.ErrConfigStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("config lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "config lookup failed")
	}
}
