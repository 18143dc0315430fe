package handlers

import (
	"net/http"

	"salulink/authi/authi"
	"salulink/authi/internal/api/response"
)

const rootMessage = "SaluLink Authi API is running"

// StatusReporter reports engine readiness.
type StatusReporter interface {
	Status() authi.Status
}

// HealthHandler handles liveness requests.
type HealthHandler struct {
	status StatusReporter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(status StatusReporter) *HealthHandler {
	return &HealthHandler{status: status}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string `json:"status"`
	ModelLoaded      bool   `json:"model_loaded"`
	ConditionsLoaded bool   `json:"conditions_loaded"`
	Conditions       int    `json:"conditions"`
	Scorable         int    `json:"scorable"`
}

// Root handles GET /.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	response.RespondJSON(w, http.StatusOK, map[string]string{"message": rootMessage})
}

// Check handles GET /health. It always answers 200; readiness is in the body.
func (h *HealthHandler) Check(w http.ResponseWriter, _ *http.Request) {
	st := h.status.Status()
	response.RespondJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		ModelLoaded:      st.ModelLoaded,
		ConditionsLoaded: st.ConditionsLoaded,
		Conditions:       st.Conditions,
		Scorable:         st.Scorable,
	})
}
