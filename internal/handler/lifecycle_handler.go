package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/spendsense/internal/model"
)

// DataLifecycleInterface はデータライフサイクルハンドラーが必要とするインターフェース。
type DataLifecycleInterface interface {
	// DeleteAllData はトークンを再検証したうえでユーザーの全データを削除する。
	DeleteAllData(ctx context.Context, token string) error
}

// LifecycleHandler はユーザーデータ削除のHTTPハンドラー。
type LifecycleHandler struct {
	service DataLifecycleInterface
}

// NewLifecycleHandler はLifecycleHandlerを生成する。
func NewLifecycleHandler(service DataLifecycleInterface) *LifecycleHandler {
	return &LifecycleHandler{service: service}
}

// DeleteAllData はユーザーの全データを削除する。
// セッションミドルウェアを通過済みでも、削除前にトークンを改めて検証する。
// DELETE /v1/spendsense/data
func (h *LifecycleHandler) DeleteAllData(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.DeleteAllData(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("user data deleted")
	w.WriteHeader(http.StatusNoContent)
}
