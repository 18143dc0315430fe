package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		name    string
		respond func(http.ResponseWriter)
		status  int
		title   string
	}{
		{name: "bad request", respond: func(w http.ResponseWriter) { RespondBadRequest(w, "broken") }, status: http.StatusBadRequest, title: "Bad Request"},
		{name: "unavailable", respond: func(w http.ResponseWriter) { RespondServiceUnavailable(w, "broken") }, status: http.StatusServiceUnavailable, title: "Service Unavailable"},
		{name: "internal", respond: func(w http.ResponseWriter) { RespondInternalServerError(w, "broken") }, status: http.StatusInternalServerError, title: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.respond(rec)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			var problem ProblemDetails
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, ProblemDetails{Type: "about:blank", Title: tt.title, Status: tt.status, Detail: "broken"}, problem)
		})
	}
}

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondJSON(rec, http.StatusOK, map[string]string{"message": "ok"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())
}
