package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/retrieval"
)

// retrieveRequest is the body of POST /api/v1/retrieve.
type retrieveRequest struct {
	OwnerID         string            `json:"owner_id"`
	AgentID         string            `json:"agent_id"`
	Query           string            `json:"query"`
	TopK            int               `json:"top_k,omitempty"`
	Filter          map[string]string `json:"filter,omitempty"`
	SimilarityFloor float32           `json:"similarity_floor,omitempty"`
	TimeBudgetMs    int               `json:"time_budget_ms,omitempty"`
}

// retrievePassage is one ranked result in the response.
type retrievePassage struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float32           `json:"score"`
}

type retrieveResponse struct {
	Passages []retrievePassage `json:"passages"`
	Context  string            `json:"context"`
}

type retrieveHandler struct {
	system *retrieval.System
	logger log.Logger
}

// retrieve handles POST /api/v1/retrieve.
func (h *retrieveHandler) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OwnerID == "" || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "owner_id and agent_id are required")
		return
	}

	var opts []retrieval.SearchOption
	if req.TopK > 0 {
		opts = append(opts, retrieval.WithTopK(req.TopK))
	}
	for k, v := range req.Filter {
		opts = append(opts, retrieval.WithFilter(k, v))
	}
	if req.SimilarityFloor > 0 {
		opts = append(opts, retrieval.WithSimilarityFloor(req.SimilarityFloor))
	}
	if req.TimeBudgetMs > 0 {
		opts = append(opts, retrieval.WithTimeBudget(time.Duration(req.TimeBudgetMs)*time.Millisecond))
	}

	col := retrieval.CollectionKey{OwnerID: req.OwnerID, AgentID: req.AgentID}
	passages, err := h.system.Retrieve(r.Context(), col, req.Query, opts...)
	if err != nil {
		h.writeRetrieveError(w, err)
		return
	}

	resp := retrieveResponse{
		Passages: make([]retrievePassage, 0, len(passages)),
		Context:  retrieval.FormatContext(passages),
	}
	for _, p := range passages {
		resp.Passages = append(resp.Passages, retrievePassage{
			ID:       p.ID,
			Text:     p.Text,
			Metadata: p.Metadata,
			Score:    p.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// invalidate handles POST /api/v1/collections/invalidate.
func (h *retrieveHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OwnerID == "" || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "owner_id and agent_id are required")
		return
	}

	h.system.InvalidateCollection(retrieval.CollectionKey{OwnerID: req.OwnerID, AgentID: req.AgentID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *retrieveHandler) writeRetrieveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, retrieval.ErrRetrievalTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, retrieval.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("retrieval failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
	}
}
