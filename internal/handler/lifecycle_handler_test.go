package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/spendsense/internal/model"
)

// mockLifecycleService はDataLifecycleInterfaceのモック実装。
type mockLifecycleService struct {
	deleteFn func(ctx context.Context, token string) error
}

func (m *mockLifecycleService) DeleteAllData(ctx context.Context, token string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, token)
	}
	return nil
}

func TestLifecycleHandler_DeleteAllData_Success(t *testing.T) {
	var gotToken string
	svc := &mockLifecycleService{
		deleteFn: func(ctx context.Context, token string) error {
			gotToken = token
			return nil
		},
	}
	h := NewLifecycleHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/spendsense/data", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.DeleteAllData(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	// 削除前の再検証のため、生のトークンがサービスに渡されること
	if gotToken != "token-abc" {
		t.Errorf("token = %q, want %q", gotToken, "token-abc")
	}
}

func TestLifecycleHandler_DeleteAllData_MissingToken_Returns401(t *testing.T) {
	called := false
	svc := &mockLifecycleService{
		deleteFn: func(ctx context.Context, token string) error {
			called = true
			return nil
		},
	}
	h := NewLifecycleHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/spendsense/data", nil)
	w := httptest.NewRecorder()

	h.DeleteAllData(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if called {
		t.Error("service should not be called without a token")
	}
}

func TestLifecycleHandler_DeleteAllData_InProgress_Returns409(t *testing.T) {
	svc := &mockLifecycleService{
		deleteFn: func(ctx context.Context, token string) error {
			return model.NewDeleteInProgressError()
		},
	}
	h := NewLifecycleHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/spendsense/data", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	w := httptest.NewRecorder()

	h.DeleteAllData(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if result := parseAPIErrorResponse(t, w); result["code"] != model.ErrCodeDeleteInProgress {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeDeleteInProgress)
	}
}

func TestLifecycleHandler_DeleteAllData_PurgeFailure_Returns500WithDetail(t *testing.T) {
	svc := &mockLifecycleService{
		deleteFn: func(ctx context.Context, token string) error {
			return model.NewDeleteFailedError("pq: deadlock detected")
		},
	}
	h := NewLifecycleHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/spendsense/data", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	w := httptest.NewRecorder()

	h.DeleteAllData(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	result := parseAPIErrorResponse(t, w)
	if result["code"] != model.ErrCodeDeleteFailed {
		t.Errorf("code = %q, want %q", result["code"], model.ErrCodeDeleteFailed)
	}
}

func TestLifecycleHandler_DeleteAllData_RevalidationFails_Returns401(t *testing.T) {
	svc := &mockLifecycleService{
		deleteFn: func(ctx context.Context, token string) error {
			return model.NewUnauthenticatedError()
		},
	}
	h := NewLifecycleHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/spendsense/data", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	w := httptest.NewRecorder()

	h.DeleteAllData(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
