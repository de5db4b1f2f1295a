package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
)

const (
	defaultFetchLimit = 20
	maxFetchLimit     = 100
)

// DeliveryView は配信とその導出済みインタラクション状態の組。
type DeliveryView struct {
	Delivery    model.NudgeDelivery
	Interaction model.InteractionState
}

// Tracker は配信の取得とインタラクションの記録を提供する。
// イベントログは追記専用であり、導出状態は常にイベント列から再計算される。
type Tracker struct {
	deliveryRepo    repository.DeliveryRepository
	interactionRepo repository.InteractionRepository
	collector       metrics.MetricsCollector
	now             func() time.Time
}

// NewTracker はTrackerを生成する。nowがnilの場合はtime.Nowを使用する。
func NewTracker(
	deliveryRepo repository.DeliveryRepository,
	interactionRepo repository.InteractionRepository,
	collector metrics.MetricsCollector,
	now func() time.Time,
) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		deliveryRepo:    deliveryRepo,
		interactionRepo: interactionRepo,
		collector:       collector,
		now:             now,
	}
}

// FetchDeliveries はユーザーの配信を新しい順に最大limit件返す。
// 各配信にはイベント列から導出したインタラクション状態が付く。
// limitは1〜100。0は既定値、範囲外はINVALID_LIMITエラー。
func (t *Tracker) FetchDeliveries(ctx context.Context, userID string, limit int) ([]DeliveryView, error) {
	if limit == 0 {
		limit = defaultFetchLimit
	}
	if limit < 1 || limit > maxFetchLimit {
		return nil, model.NewInvalidLimitError(fmt.Sprintf("%d", limit))
	}

	deliveries, err := t.deliveryRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		ids = append(ids, d.ID)
	}

	eventsByDelivery := map[string][]model.InteractionEvent{}
	if len(ids) > 0 {
		eventsByDelivery, err = t.interactionRepo.ListByDeliveries(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to list interaction events: %w", err)
		}
	}

	views := make([]DeliveryView, 0, len(deliveries))
	for _, d := range deliveries {
		views = append(views, DeliveryView{
			Delivery:    d,
			Interaction: model.DeriveInteractionState(eventsByDelivery[d.ID]),
		})
	}
	return views, nil
}

// LogInteraction は配信へのインタラクションを追記し、導出後の状態を返す。
// 不正なイベント種別はINVALID_EVENT_TYPE、存在しない配信は
// DELIVERY_NOT_FOUND、他ユーザーの配信はUNAUTHORIZEDエラー。
// 同種イベントの重複追記は許容され、導出状態は初回時刻を保持する。
func (t *Tracker) LogInteraction(ctx context.Context, userID, deliveryID string, eventType model.InteractionEventType, metadata map[string]string) (*model.InteractionState, error) {
	if !model.ValidInteractionEventType(eventType) {
		return nil, model.NewInvalidEventTypeError(string(eventType))
	}

	delivery, err := t.deliveryRepo.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to find delivery: %w", err)
	}
	if delivery == nil {
		return nil, model.NewDeliveryNotFoundError(deliveryID)
	}
	if delivery.UserID != userID {
		return nil, model.NewUnauthorizedError()
	}

	event := &model.InteractionEvent{
		ID:         uuid.New().String(),
		DeliveryID: deliveryID,
		EventType:  eventType,
		Metadata:   metadata,
		CreatedAt:  t.now(),
	}
	if err := t.interactionRepo.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append interaction event: %w", err)
	}
	t.collector.RecordInteraction(string(eventType))

	events, err := t.interactionRepo.ListByDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interaction events: %w", err)
	}
	state := model.DeriveInteractionState(events)
	return &state, nil
}
