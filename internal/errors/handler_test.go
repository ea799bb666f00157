package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudloader/internal/license"
	"cloudloader/internal/storage"
)

func testHandler() *ErrorHandler {
	return NewErrorHandler(slog.New(slog.NewJSONHandler(io.Discard, nil)), false)
}

func TestErrorToProblem(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"wrapped cancel", fmt.Errorf("lock: %w", context.Canceled), http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrUnauthorized, http.StatusUnauthorized, TypeUnauthorized},
		{"invalid input", license.ErrInvalidInput, http.StatusBadRequest, TypeValidation},
		{"store not found", fmt.Errorf("get key: %w", storage.ErrNotFound), http.StatusNotFound, TypeNotFound},
		{"store conflict", storage.ErrConflict, http.StatusConflict, TypeConflict},
		{"store unavailable", storage.ErrUnavailable, http.StatusServiceUnavailable, TypeServiceDown},
		{"unknown", fmt.Errorf("disk full"), http.StatusInternalServerError, TypeInternal},
	}

	h := testHandler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/activate", nil)
			p := h.ErrorToProblem(tt.err, r)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, "/api/activate", p.Instance)
		})
	}
}

func TestHandleError_ValidationErrors(t *testing.T) {
	h := testHandler()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/activate", nil)

	h.HandleError(w, r, NewValidationErrors([]ValidationError{{Field: "key", Message: "key is required"}}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, TypeValidation, body["type"])
	assert.Equal(t, CodeValidation, body["error_code"])
	errs, ok := body["errors"].([]interface{})
	require.True(t, ok)
	assert.Len(t, errs, 1)
}

func TestHandleError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	testHandler().HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Zero(t, w.Body.Len())
}

func TestRecoveryMiddleware(t *testing.T) {
	h := testHandler()
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	w := httptest.NewRecorder()
	RecoveryMiddleware(h)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), TypeInternal)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := testHandler()

	w := httptest.NewRecorder()
	h.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "DELETE")
}

func TestProblemDetailsMarshal(t *testing.T) {
	p := NewProblemDetails(http.StatusTooManyRequests, TypeRateLimit, "Too Many Requests", "", "/api/activate").
		WithExtension("retry_after", 60).
		WithExtension("status", "ignored")

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(429), body["status"], "standard fields win over extensions")
	assert.Equal(t, float64(60), body["retry_after"])
	assert.NotContains(t, body, "detail")
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/api/admin/keys", nil), ErrUnauthorized)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), CodeUnauthorized)
}

func TestTooManyAttempts(t *testing.T) {
	err := TooManyAttempts(90)
	assert.Equal(t, http.StatusTooManyRequests, err.StatusCode)
	assert.Equal(t, TypeRateLimit, typeForCode(err.ErrorCode))
}
