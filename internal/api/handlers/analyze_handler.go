package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"salulink/authi/authi"
	"salulink/authi/internal/api/response"
)

// AnalyzeService defines the interface the analyze endpoint depends on.
type AnalyzeService interface {
	Analyze(ctx context.Context, note string) (authi.AnalysisResult, error)
}

// AnalyzeHandler handles clinical note analysis.
type AnalyzeHandler struct {
	service AnalyzeService
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(service AnalyzeService) *AnalyzeHandler {
	return &AnalyzeHandler{service: service}
}

// statusClientClosedRequest follows the nginx convention for a client that
// disconnected before the response was written.
const statusClientClosedRequest = 499

// AnalyzeRequest is the body for POST /analyze. ClinicalNote is required; an
// empty string is a valid note.
type AnalyzeRequest struct {
	ClinicalNote *string `json:"clinical_note"`
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	ExtractedKeywords []string           `json:"extracted_keywords"`
	MatchedConditions []MatchedCondition `json:"matched_conditions"`
}

// MatchedCondition is one ranked condition with its score rounded to four decimals.
type MatchedCondition struct {
	Condition       string  `json:"condition"`
	ICDCode         string  `json:"icd_code"`
	ICDDescription  string  `json:"icd_description"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Analyze handles POST /analyze.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(w, http.StatusRequestEntityTooLarge,
				"Request Entity Too Large", "request body exceeds maximum allowed size")
			return
		}
		response.RespondBadRequest(w, "Invalid request body")
		return
	}
	if req.ClinicalNote == nil {
		response.RespondBadRequest(w, "clinical_note is required")
		return
	}

	result, err := h.service.Analyze(r.Context(), *req.ClinicalNote)
	if err != nil {
		switch {
		case errors.Is(err, authi.ErrEncoderUnavailable):
			response.RespondServiceUnavailable(w, "model or conditions not loaded yet")
			return
		case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
			slog.DebugContext(r.Context(), "Client closed request during analysis")
			response.RespondError(w, statusClientClosedRequest, "Client Closed Request", "request was canceled")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to analyze clinical note", "error", err)
		response.RespondInternalServerError(w, "Failed to analyze clinical note")
		return
	}

	response.RespondJSON(w, http.StatusOK, toAnalyzeResponse(result))
}

func toAnalyzeResponse(result authi.AnalysisResult) AnalyzeResponse {
	resp := AnalyzeResponse{
		ExtractedKeywords: result.Keywords,
		MatchedConditions: make([]MatchedCondition, 0, len(result.Matches)),
	}
	if resp.ExtractedKeywords == nil {
		resp.ExtractedKeywords = []string{}
	}
	for _, m := range result.Matches {
		resp.MatchedConditions = append(resp.MatchedConditions, MatchedCondition{
			Condition:       m.Condition,
			ICDCode:         m.ICDCode,
			ICDDescription:  m.ICDDescription,
			SimilarityScore: roundScore(m.Score),
		})
	}
	return resp
}

func roundScore(score float64) float64 {
	return math.Round(score*1e4) / 1e4
}
