package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/internal/api/models"
)

func TestProblem_Write(t *testing.T) {
	problem := models.NewBadRequest("req-1", "request body is invalid", []models.FieldError{
		{Field: "pushToken", Message: "is required", Code: "required"},
	})
	problem.Instance = "/v1/devices"

	rec := httptest.NewRecorder()
	problem.Write(rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.ProblemTypeValidation, body["type"])
	assert.Equal(t, "/v1/devices", body["instance"])
	assert.Equal(t, "req-1", body["traceId"])

	errs, ok := body["errors"].([]interface{})
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "pushToken", errs[0].(map[string]interface{})["field"])
}

func TestProblem_OmitsEmptyFields(t *testing.T) {
	rec := httptest.NewRecorder()
	models.NewProblem(models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, "").Write(rec)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "detail")
	assert.NotContains(t, body, "instance")
	assert.NotContains(t, body, "errors")
	assert.Contains(t, body, "traceId")
}

func TestProblemConstructors(t *testing.T) {
	tests := []struct {
		name    string
		problem *models.Problem
		status  int
		typ     string
		detail  string
	}{
		{"unauthorized", models.NewUnauthorized("t", "invalid or missing credentials"), http.StatusUnauthorized, models.ProblemTypeUnauthorized, "invalid or missing credentials"},
		{"not found", models.NewNotFound("t", "topic not found"), http.StatusNotFound, models.ProblemTypeNotFound, "topic not found"},
		{"conflict", models.NewConflict("t", "topic key already exists"), http.StatusConflict, models.ProblemTypeConflict, "topic key already exists"},
		{"too many requests", models.NewTooManyRequests("t", "slow down"), http.StatusTooManyRequests, models.ProblemTypeTooManyRequests, "slow down"},
		{"internal", models.NewInternalError("t", "boom"), http.StatusInternalServerError, models.ProblemTypeInternal, "boom"},
		{"unavailable", models.NewServiceUnavailable("t", "database unavailable"), http.StatusServiceUnavailable, models.ProblemTypeUnavailable, "database unavailable"},
		{"method not allowed", models.NewMethodNotAllowed("t", http.MethodPut), http.StatusMethodNotAllowed, models.ProblemTypeMethodNotAllowed, "PUT is not supported on this resource"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, tt.typ, tt.problem.Type)
			assert.Equal(t, tt.detail, tt.problem.Detail)
			assert.Equal(t, "t", tt.problem.TraceID)
			assert.NotEmpty(t, tt.problem.Title)
		})
	}
}
