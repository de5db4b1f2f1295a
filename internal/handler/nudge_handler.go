package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/spendsense/internal/middleware"
	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/nudge"
)

// NudgeEvaluatorInterface はナッジ評価ハンドラーが必要とするインターフェース。
type NudgeEvaluatorInterface interface {
	// EvaluateAt は全アクティブルールを優先度順に評価し、pending配信と
	// 評価・発火件数を返す。asOfがゼロ値の場合は現在時刻を基準とする。
	EvaluateAt(ctx context.Context, userID string, asOf time.Time) (*nudge.EvaluateResult, error)
	// SetRuleSuppression はユーザーごとのルール抑制を設定・解除する。
	SetRuleSuppression(ctx context.Context, userID, ruleID string, suppressed bool) error
}

// NudgeProcessorInterface はpending配信の処理インターフェース。
type NudgeProcessorInterface interface {
	// ProcessBatch は最大limit件のpending配信を処理する。limitが0以下の場合は設定上限まで。
	ProcessBatch(ctx context.Context, userID string, limit int) (nudge.ProcessResult, error)
}

// NudgeTrackerInterface は配信取得とインタラクション記録のインターフェース。
type NudgeTrackerInterface interface {
	FetchDeliveries(ctx context.Context, userID string, limit int) ([]nudge.DeliveryView, error)
	LogInteraction(ctx context.Context, userID, deliveryID string, eventType model.InteractionEventType, metadata map[string]string) (*model.InteractionState, error)
}

// NudgeHandler はナッジ関連のHTTPハンドラー。
type NudgeHandler struct {
	evaluator NudgeEvaluatorInterface
	processor NudgeProcessorInterface
	tracker   NudgeTrackerInterface
}

// NewNudgeHandler はNudgeHandlerを生成する。
func NewNudgeHandler(evaluator NudgeEvaluatorInterface, processor NudgeProcessorInterface, tracker NudgeTrackerInterface) *NudgeHandler {
	return &NudgeHandler{
		evaluator: evaluator,
		processor: processor,
		tracker:   tracker,
	}
}

// interactionRequest はインタラクション記録リクエストのボディ。
type interactionRequest struct {
	EventType string            `json:"event_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// suppressionRequest はルール抑制設定リクエストのボディ。
type suppressionRequest struct {
	Suppressed bool `json:"suppressed"`
}

// deliveryResponse はナッジ配信のAPIレスポンス。
type deliveryResponse struct {
	ID          string            `json:"id"`
	RuleID      string            `json:"rule_id"`
	Channel     string            `json:"channel"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	CTAText     *string           `json:"cta_text,omitempty"`
	CTADeeplink *string           `json:"cta_deeplink,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SendStatus  string            `json:"send_status"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// interactionStateResponse は配信の導出インタラクション状態のAPIレスポンス。
type interactionStateResponse struct {
	Current     string     `json:"current"`
	ViewedAt    *time.Time `json:"viewed_at,omitempty"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}

// deliveryViewResponse は配信とその導出状態をまとめたAPIレスポンス。
type deliveryViewResponse struct {
	Delivery    deliveryResponse         `json:"delivery"`
	Interaction interactionStateResponse `json:"interaction"`
}

// ListNudges はユーザー向けのナッジ配信一覧を新しい順に返す。
// GET /v1/moneymoments/nudges?limit=N
func (h *NudgeHandler) ListNudges(w http.ResponseWriter, r *http.Request) {
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

	views, err := h.tracker.FetchDeliveries(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]deliveryViewResponse, 0, len(views))
	for _, v := range views {
		responses = append(responses, toDeliveryViewResponse(v))
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"nudges": responses,
	})
}

// LogInteraction は配信へのview/click/dismissイベントを記録し、導出状態を返す。
// POST /v1/moneymoments/nudges/{deliveryID}/interact
func (h *NudgeHandler) LogInteraction(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	deliveryID := chi.URLParam(r, "deliveryID")

	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	state, err := h.tracker.LogInteraction(r.Context(), userID, deliveryID, model.InteractionEventType(req.EventType), req.Metadata)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"interaction": toInteractionStateResponse(*state),
	})
}

// EvaluateNudges は全アクティブルールを評価し、評価件数・発火件数と
// 生成されたpending配信を返す。
// POST /v1/moneymoments/nudges/evaluate?as_of_date=YYYY-MM-DD
func (h *NudgeHandler) EvaluateNudges(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var asOf time.Time
	if raw := r.URL.Query().Get("as_of_date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
			return
		}
		asOf = parsed
	}

	result, err := h.evaluator.EvaluateAt(r.Context(), userID, asOf)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]deliveryResponse, 0, len(result.Deliveries))
	for _, d := range result.Deliveries {
		responses = append(responses, toDeliveryResponse(d))
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"rules_evaluated":  result.RulesEvaluated,
		"nudges_triggered": result.NudgesTriggered,
		"deliveries":       responses,
	})
}

// ProcessNudges はpending配信をトランスポート経由で送信する。
// POST /v1/moneymoments/nudges/process?limit=N
func (h *NudgeHandler) ProcessNudges(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw))
			return
		}
		limit = parsed
	}

	result, err := h.processor.ProcessBatch(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// SetSuppression はユーザーごとのルール抑制を設定・解除する。
// PUT /v1/moneymoments/nudges/rules/{ruleID}/suppression
func (h *NudgeHandler) SetSuppression(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	ruleID := chi.URLParam(r, "ruleID")

	var req suppressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if err := h.evaluator.SetRuleSuppression(r.Context(), userID, ruleID, req.Suppressed); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toDeliveryResponse(d model.NudgeDelivery) deliveryResponse {
	return deliveryResponse{
		ID:          d.ID,
		RuleID:      d.RuleID,
		Channel:     d.Channel,
		Title:       d.Title,
		Body:        d.Body,
		CTAText:     d.CTAText,
		CTADeeplink: d.CTADeeplink,
		Metadata:    d.Metadata,
		SendStatus:  string(d.SendStatus),
		SentAt:      d.SentAt,
		CreatedAt:   d.CreatedAt,
	}
}

func toInteractionStateResponse(state model.InteractionState) interactionStateResponse {
	return interactionStateResponse{
		Current:     string(state.Current),
		ViewedAt:    state.ViewedAt,
		ClickedAt:   state.ClickedAt,
		DismissedAt: state.DismissedAt,
	}
}

func toDeliveryViewResponse(v nudge.DeliveryView) deliveryViewResponse {
	return deliveryViewResponse{
		Delivery:    toDeliveryResponse(v.Delivery),
		Interaction: toInteractionStateResponse(v.Interaction),
	}
}
