package evaluation

import (
	"encoding/json"
	"net/http"

	"github.com/ricesearch/mcqa/internal/pkg/errors"
)

// Handler provides HTTP handlers for evaluation.
type Handler struct{}

// NewHandler creates a new evaluation handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluate", h.handleEvaluate)
}

// EvaluateRequest carries label lists to compare.
type EvaluateRequest struct {
	Predictions []int `json:"predictions"`
	Gold        []int `json:"gold"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.InvalidRequestError("invalid JSON: "+err.Error()))
		return
	}

	report, err := NewReport(req.Predictions, req.Gold)
	if err != nil {
		errors.WriteError(w, errors.InvalidRequestError(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
