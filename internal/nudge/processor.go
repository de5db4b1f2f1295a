package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
	"github.com/hitoshi/spendsense/internal/transport"
)

// ProcessResult は処理段階の集計結果。
type ProcessResult struct {
	Processed  int `json:"processed"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Suppressed int `json:"suppressed"`
}

// Processor はpending状態の配信をトランスポート経由で配送する。
type Processor struct {
	deliveryRepo repository.DeliveryRepository
	stateRepo    repository.RuleStateRepository
	transport    transport.Transport
	collector    metrics.MetricsCollector
	now          func() time.Time
	batchMax     int
}

// NewProcessor はProcessorを生成する。nowがnilの場合はtime.Nowを使用する。
func NewProcessor(
	deliveryRepo repository.DeliveryRepository,
	stateRepo repository.RuleStateRepository,
	tr transport.Transport,
	collector metrics.MetricsCollector,
	now func() time.Time,
	batchMax int,
) *Processor {
	if now == nil {
		now = time.Now
	}
	return &Processor{
		deliveryRepo: deliveryRepo,
		stateRepo:    stateRepo,
		transport:    tr,
		collector:    collector,
		now:          now,
		batchMax:     batchMax,
	}
}

// Process はユーザーのpending配信をクレームして配送する。
// クレームはロック付きで行われるため、並行する2つのProcess呼び出しが
// 同じ配信を二重配送することはない。評価後にルールが抑制された配信は
// 配送せずsuppressedとして確定する。配送失敗はfailedとして確定し、
// クールダウンは巻き戻さない。
func (p *Processor) Process(ctx context.Context, userID string) (ProcessResult, error) {
	return p.ProcessBatch(ctx, userID, 0)
}

// ProcessBatch は最大limit件のpending配信をクレームして配送する。
// limitが0以下、または設定上限を超える場合は設定上限に丸める。
func (p *Processor) ProcessBatch(ctx context.Context, userID string, limit int) (ProcessResult, error) {
	if limit <= 0 || limit > p.batchMax {
		limit = p.batchMax
	}

	var result ProcessResult

	processed, err := p.deliveryRepo.ClaimAndProcessPending(ctx, userID, limit,
		func(d *model.NudgeDelivery) (model.SendStatus, *time.Time) {
			if p.ruleSuppressed(ctx, d.UserID, d.RuleID) {
				result.Suppressed++
				p.collector.RecordNudgeSuppressed("rule_suppressed")
				return model.SendStatusSuppressed, nil
			}

			if err := p.transport.Deliver(ctx, d); err != nil {
				slog.Error("ナッジの配送に失敗しました",
					slog.String("delivery_id", d.ID),
					slog.String("rule_id", d.RuleID),
					slog.String("error", err.Error()),
				)
				result.Failed++
				p.collector.RecordDeliveryFailed()
				return model.SendStatusFailed, nil
			}

			result.Sent++
			p.collector.RecordDeliverySent()
			sentAt := p.now()
			return model.SendStatusSent, &sentAt
		})
	if err != nil {
		return result, fmt.Errorf("failed to process pending deliveries: %w", err)
	}

	result.Processed = processed
	return result, nil
}

// ruleSuppressed は配送直前のルール抑制状態を確認する。
// 状態取得に失敗した場合は抑制なしとして扱う（配送を優先する）。
func (p *Processor) ruleSuppressed(ctx context.Context, userID, ruleID string) bool {
	state, err := p.stateRepo.FindByUserAndRule(ctx, userID, ruleID)
	if err != nil {
		slog.Error("ルール状態の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("rule_id", ruleID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return state != nil && state.Status == model.RuleStateSuppressed
}
