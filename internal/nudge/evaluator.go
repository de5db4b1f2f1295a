// Package nudge はナッジの評価・配送・トラッキングを提供する。
// 評価（ルール判定と配信レコード作成）と処理（実際の配送）は
// 別の段階として分離されており、それぞれ独立に呼び出せる。
package nudge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
	"github.com/hitoshi/spendsense/internal/security"
)

const evaluatorSignalLimit = 20

// Evaluator はナッジルールの評価を行う。
// ルールはpriority昇順で決定的に評価され、発火の可否は
// ルール状態のcompare-and-swapで確定する。
type Evaluator struct {
	ruleRepo     repository.RuleRepository
	stateRepo    repository.RuleStateRepository
	deliveryRepo repository.DeliveryRepository
	momentRepo   repository.MomentRepository
	signalRepo   repository.SignalRepository
	sanitizer    security.TextSanitizerService
	collector    metrics.MetricsCollector
	now          func() time.Time
}

// NewEvaluator はEvaluatorを生成する。nowがnilの場合はtime.Nowを使用する。
func NewEvaluator(
	ruleRepo repository.RuleRepository,
	stateRepo repository.RuleStateRepository,
	deliveryRepo repository.DeliveryRepository,
	momentRepo repository.MomentRepository,
	signalRepo repository.SignalRepository,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	now func() time.Time,
) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		ruleRepo:     ruleRepo,
		stateRepo:    stateRepo,
		deliveryRepo: deliveryRepo,
		momentRepo:   momentRepo,
		signalRepo:   signalRepo,
		sanitizer:    sanitizer,
		collector:    collector,
		now:          now,
	}
}

// EvaluateResult は1回の評価の集計結果。
// Deliveriesには発火して作成されたpending配信が評価順に並ぶ。
type EvaluateResult struct {
	RulesEvaluated  int
	NudgesTriggered int
	Deliveries      []model.NudgeDelivery
}

// templateData はナッジテンプレートに渡す変数。
type templateData struct {
	Label   string
	Value   string
	Insight string
	Month   string
}

// Evaluate はユーザーの全有効ルールをpriority昇順で評価し、
// 発火したルールごとにpending状態の配信レコードを作成して返す。
// クールダウン中・抑制中のルールは発火しない。発火はルール状態の
// 条件付き更新で確定するため、並行評価でも同一ルールが
// 二重に発火することはない。配送自体はこの段階では行わない。
func (e *Evaluator) Evaluate(ctx context.Context, userID string) ([]model.NudgeDelivery, error) {
	result, err := e.EvaluateAt(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}
	return result.Deliveries, nil
}

// EvaluateAt は指定時点を基準としてルールを評価し、評価したルール数と
// 発火した配信数を含む集計結果を返す。asOfがゼロ値の場合は現在時刻を
// 使用する。クールダウン判定と配信レコードの作成時刻はいずれも
// asOfを基準とする。
func (e *Evaluator) EvaluateAt(ctx context.Context, userID string, asOf time.Time) (*EvaluateResult, error) {
	if asOf.IsZero() {
		asOf = e.now()
	}

	rules, err := e.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	moments, err := e.latestMonthMoments(ctx, userID)
	if err != nil {
		return nil, err
	}

	signals, err := e.signalRepo.ListByUser(ctx, userID, evaluatorSignalLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}

	created := []model.NudgeDelivery{}
	for _, rule := range rules {
		data, matched := matchRule(rule, moments, signals)
		if !matched {
			continue
		}

		cooldown := time.Duration(rule.CooldownDays) * 24 * time.Hour
		fired, err := e.stateRepo.TryFire(ctx, userID, rule.ID, asOf, cooldown)
		if err != nil {
			return nil, fmt.Errorf("failed to fire rule %s: %w", rule.ID, err)
		}
		if !fired {
			e.collector.RecordNudgeSuppressed("cooldown")
			continue
		}

		delivery, err := e.renderDelivery(userID, rule, data, asOf)
		if err != nil {
			// テンプレート不備はルール単位でスキップし、他ルールの評価は続ける
			slog.Error("ナッジテンプレートの展開に失敗しました",
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := e.deliveryRepo.Create(ctx, delivery); err != nil {
			return nil, fmt.Errorf("failed to create delivery: %w", err)
		}

		e.collector.RecordNudgeFired(rule.ID)
		created = append(created, *delivery)
	}

	e.collector.RecordRulesEvaluated(len(rules))
	return &EvaluateResult{
		RulesEvaluated:  len(rules),
		NudgesTriggered: len(created),
		Deliveries:      created,
	}, nil
}

// SetRuleSuppression はユーザーごとのルール抑制を設定・解除する。
// 抑制されたルールは解除されるまで発火しない。
func (e *Evaluator) SetRuleSuppression(ctx context.Context, userID, ruleID string, suppressed bool) error {
	rule, err := e.ruleRepo.FindByID(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("failed to find rule: %w", err)
	}
	if rule == nil {
		return model.NewRuleNotFoundError(ruleID)
	}

	if err := e.stateRepo.SetSuppressed(ctx, userID, ruleID, suppressed, e.now()); err != nil {
		return fmt.Errorf("failed to set suppression: %w", err)
	}

	slog.Info("nudge rule suppression updated",
		slog.String("user_id", userID),
		slog.String("rule_id", ruleID),
		slog.Bool("suppressed", suppressed),
	)
	return nil
}

// latestMonthMoments は計算済みの最新月のモーメントを返す。
// モーメントが存在しない場合は空スライスを返す。
func (e *Evaluator) latestMonthMoments(ctx context.Context, userID string) ([]model.MoneyMoment, error) {
	all, err := e.momentRepo.ListByUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list moments: %w", err)
	}
	if len(all) == 0 {
		return []model.MoneyMoment{}, nil
	}

	// month昇順で並んでいるため末尾が最新月
	latest := all[len(all)-1].Month
	out := []model.MoneyMoment{}
	for _, m := range all {
		if m.Month == latest {
			out = append(out, m)
		}
	}
	return out, nil
}

// matchRule はルールの発火条件を判定し、テンプレート変数を返す。
func matchRule(rule model.NudgeRule, moments []model.MoneyMoment, signals []model.GoalSignal) (templateData, bool) {
	switch rule.TemplateCode {
	case "critical_signal":
		for _, sig := range signals {
			if sig.Severity == model.SeverityCritical {
				return templateData{Insight: sig.Message}, true
			}
		}
	case "spending_spike":
		for _, m := range moments {
			if category, ok := strings.CutPrefix(m.HabitID, "spending-spike:"); ok {
				return momentData(m, category), true
			}
		}
	case "subscription_creep":
		for _, m := range moments {
			if m.HabitID == "subscription-creep" {
				return momentData(m, m.Label), true
			}
		}
	case "saving_streak":
		for _, m := range moments {
			if m.HabitID == "saving-streak" {
				return momentData(m, m.Label), true
			}
		}
	}
	return templateData{}, false
}

func momentData(m model.MoneyMoment, label string) templateData {
	return templateData{
		Label:   label,
		Value:   fmt.Sprintf("%.0f", m.Value),
		Insight: m.InsightText,
		Month:   m.Month,
	}
}

// renderDelivery はルールのテンプレートを展開してpending配信を組み立てる。
func (e *Evaluator) renderDelivery(userID string, rule model.NudgeRule, data templateData, asOf time.Time) (*model.NudgeDelivery, error) {
	title, err := renderTemplate("title", rule.TitleTemplate, data)
	if err != nil {
		return nil, err
	}
	body, err := renderTemplate("body", rule.BodyTemplate, data)
	if err != nil {
		return nil, err
	}

	delivery := &model.NudgeDelivery{
		ID:           uuid.New().String(),
		UserID:       userID,
		RuleID:       rule.ID,
		TemplateCode: rule.TemplateCode,
		Channel:      rule.Channel,
		Title:        e.sanitizer.Sanitize(title),
		Body:         e.sanitizer.Sanitize(body),
		CTAText:      rule.CTAText,
		SendStatus:   model.SendStatusPending,
		CreatedAt:    asOf,
	}
	if data.Month != "" {
		delivery.Metadata = map[string]string{"month": data.Month}
	}

	if rule.CTADeeplink != nil {
		link, err := renderTemplate("cta", *rule.CTADeeplink, data)
		if err != nil {
			return nil, err
		}
		delivery.CTADeeplink = &link
	}

	return delivery, nil
}

func renderTemplate(name, text string, data templateData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("テンプレートのパースに失敗しました: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("テンプレートの展開に失敗しました: %w", err)
	}
	return buf.String(), nil
}
