package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/spendsense/internal/model"
)

func TestWriteErrorResponse_EncodesAPIError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusConflict, model.NewComputeConflictError("2026-08"))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeComputeConflict {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeComputeConflict)
	}
	if body.Message == "" || body.Category == "" || body.Action == "" {
		t.Errorf("all fields should be populated: %+v", body)
	}
}
