// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/middleware"
	"github.com/hitoshi/spendsense/internal/model"
)

// MomentServiceInterface はマネーモーメントハンドラーが必要とするサービスインターフェース。
type MomentServiceInterface interface {
	// Fetch は保存済みのマネーモーメントを返す。monthが空の場合は全月分。
	Fetch(ctx context.Context, userID, month string) ([]model.MoneyMoment, error)
	// Compute は指定月の取引を台帳から取得し、マネーモーメントを再計算する。
	Compute(ctx context.Context, userID, month string) ([]model.MoneyMoment, error)
}

// SignalDeriver は計算済みモーメントからゴールシグナルを導出するインターフェース。
type SignalDeriver interface {
	DeriveFromMoments(ctx context.Context, userID string, moments []model.MoneyMoment) ([]model.GoalSignal, error)
}

// MomentHandler はマネーモーメント関連のHTTPハンドラー。
type MomentHandler struct {
	service   MomentServiceInterface
	deriver   SignalDeriver
	collector metrics.MetricsCollector
}

// NewMomentHandler はMomentHandlerを生成する。
func NewMomentHandler(service MomentServiceInterface, deriver SignalDeriver, collector metrics.MetricsCollector) *MomentHandler {
	return &MomentHandler{
		service:   service,
		deriver:   deriver,
		collector: collector,
	}
}

// computeRequest はモーメント計算リクエストのボディ。
type computeRequest struct {
	Month string `json:"month"` // YYYY-MM
}

// momentResponse はマネーモーメントのAPIレスポンス。
type momentResponse struct {
	ID          string    `json:"id"`
	Month       string    `json:"month"`
	HabitID     string    `json:"habit_id"`
	Value       float64   `json:"value"`
	Label       string    `json:"label"`
	InsightText string    `json:"insight_text"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListMoments は保存済みマネーモーメント一覧を返す。
// GET /v1/moneymoments/moments?month=YYYY-MM&all_months=true
// all_monthsが指定された場合はmonthを無視して全月分を返す。
func (h *MomentHandler) ListMoments(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	month := r.URL.Query().Get("month")
	if r.URL.Query().Get("all_months") == "true" {
		month = ""
	}

	moments, err := h.service.Fetch(r.Context(), userID, month)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"moments": toMomentResponses(moments),
	})
}

// ComputeMoments は指定月のマネーモーメントを再計算し、ゴールシグナルを導出する。
// 同一(user, month)の計算は一度に1件のみ実行される。
// POST /v1/moneymoments/moments/compute?target_month=YYYY-MM
// target_monthはボディ {"month": "YYYY-MM"} でも指定できる。クエリパラメータが優先される。
func (h *MomentHandler) ComputeMoments(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	month := r.URL.Query().Get("target_month")
	if month == "" {
		var req computeRequest
		// ボディ省略時は現在の月を対象とする
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "リクエストボディの解析に失敗しました。",
				Category: "validation",
				Action:   "正しいJSON形式でリクエストしてください。",
			})
			return
		}
		month = req.Month
	}

	moments, err := h.service.Compute(r.Context(), userID, month)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.collector.RecordMomentsComputed(len(moments))

	// 計算結果からゴールシグナルを導出する
	signals, err := h.deriver.DeriveFromMoments(r.Context(), userID, moments)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"moments": toMomentResponses(moments),
		"signals": toSignalResponses(signals),
	})
}

// toMomentResponses はモデルをAPIレスポンスに変換する。常に非nilのスライスを返す。
func toMomentResponses(moments []model.MoneyMoment) []momentResponse {
	responses := make([]momentResponse, 0, len(moments))
	for _, m := range moments {
		responses = append(responses, momentResponse{
			ID:          m.ID,
			Month:       m.Month,
			HabitID:     m.HabitID,
			Value:       m.Value,
			Label:       m.Label,
			InsightText: m.InsightText,
			Confidence:  m.Confidence,
			CreatedAt:   m.CreatedAt,
		})
	}
	return responses
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeUnauthorized:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeDeliveryNotFound, model.ErrCodeRuleNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidMonth, model.ErrCodeInvalidDate, model.ErrCodeInvalidEventType, model.ErrCodeInvalidLimit:
		return http.StatusBadRequest
	case model.ErrCodeComputeConflict, model.ErrCodeDeleteInProgress:
		return http.StatusConflict
	case model.ErrCodeLedgerUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeDeleteFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// bearerTokenFromRequest はAuthorizationヘッダーからベアラートークンを取り出す。
// 形式不正の場合は空文字列を返す。
func bearerTokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
