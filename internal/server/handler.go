package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ricesearch/mcqa/internal/pipeline"
	"github.com/ricesearch/mcqa/internal/pkg/errors"
	"github.com/ricesearch/mcqa/internal/pkg/logger"
	"github.com/ricesearch/mcqa/internal/pkg/security"
	"github.com/ricesearch/mcqa/internal/record"
)

const maxBodyBytes = 1 << 20

// Handler serves classify and health routes.
type Handler struct {
	classifier Classifier
	version    string
	log        *logger.Logger
}

// NewHandler creates a classify handler.
func NewHandler(c Classifier, version string, log *logger.Logger) *Handler {
	return &Handler{classifier: c, version: version, log: log}
}

// RegisterRoutes registers classify routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/classify", h.handleClassify)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/version", h.handleVersion)
}

// Probabilities maps option letters to normalised scores.
type Probabilities struct {
	A float64 `json:"A"`
	B float64 `json:"B"`
	C float64 `json:"C"`
}

// ClassifyResponse is the body of a classify answer.
type ClassifyResponse struct {
	Option        string        `json:"option"`
	Label         int           `json:"label"`
	Probabilities Probabilities `json:"probabilities"`
	Degraded      bool          `json:"degraded"`
}

func newClassifyResponse(c pipeline.Classification) ClassifyResponse {
	return ClassifyResponse{
		Option: c.Option.String(),
		Label:  c.Option.Label(),
		Probabilities: Probabilities{
			A: c.Probabilities[0],
			B: c.Probabilities[1],
			C: c.Probabilities[2],
		},
		Degraded: c.Degraded,
	}
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		errors.WriteError(w, errors.InvalidRequestError("reading body: "+err.Error()))
		return
	}

	rec, err := record.ParseLine(data, 1, false)
	if err != nil {
		h.log.WithContext(r.Context()).Debug("Rejected classify body",
			"error", err,
			"body", security.SanitizeForLog(string(data)),
		)
		errors.WriteError(w, err)
		return
	}

	c := h.classifier.Classify(r.Context(), rec)
	writeJSON(w, http.StatusOK, newClassifyResponse(c))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.classifier.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
