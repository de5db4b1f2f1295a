package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/spendsense/internal/middleware"
	"github.com/hitoshi/spendsense/internal/model"
)

// SignalServiceInterface はシグナルハンドラーが必要とするサービスインターフェース。
type SignalServiceInterface interface {
	// List はユーザーのゴールシグナルを新しい順に返す。limit 0はデフォルト値。
	List(ctx context.Context, userID string, limit int) ([]model.GoalSignal, error)
}

// SignalHandler はゴールシグナル関連のHTTPハンドラー。
type SignalHandler struct {
	service SignalServiceInterface
	moments MomentServiceInterface
	deriver SignalDeriver
}

// NewSignalHandler はSignalHandlerを生成する。
func NewSignalHandler(service SignalServiceInterface, moments MomentServiceInterface, deriver SignalDeriver) *SignalHandler {
	return &SignalHandler{
		service: service,
		moments: moments,
		deriver: deriver,
	}
}

// signalResponse はゴールシグナルのAPIレスポンス。
type signalResponse struct {
	ID         string    `json:"id"`
	SignalType string    `json:"signal_type"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListSignals はゴールシグナル一覧を返す。
// GET /v1/moneymoments/signals?limit=N
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw))
			return
		}
		limit = parsed
	}

	signals, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"signals": toSignalResponses(signals),
	})
}

// ComputeSignals は保存済みモーメントからゴールシグナルをアドホックに導出する。
// POST /v1/moneymoments/signals/compute?as_of_date=YYYY-MM-DD
// as_of_dateが指定された場合はその日付の属する月のモーメントを、
// 省略された場合は全月分のモーメントを入力とする。
func (h *SignalHandler) ComputeSignals(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	month := ""
	if raw := r.URL.Query().Get("as_of_date"); raw != "" {
		asOf, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
			return
		}
		month = asOf.Format(model.MonthLayout)
	}

	moments, err := h.moments.Fetch(r.Context(), userID, month)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	signals, err := h.deriver.DeriveFromMoments(r.Context(), userID, moments)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"signals": toSignalResponses(signals),
	})
}

// toSignalResponses はモデルをAPIレスポンスに変換する。常に非nilのスライスを返す。
func toSignalResponses(signals []model.GoalSignal) []signalResponse {
	responses := make([]signalResponse, 0, len(signals))
	for _, s := range signals {
		responses = append(responses, signalResponse{
			ID:         s.ID,
			SignalType: s.SignalType,
			Severity:   string(s.Severity),
			Message:    s.Message,
			CreatedAt:  s.CreatedAt,
		})
	}
	return responses
}
