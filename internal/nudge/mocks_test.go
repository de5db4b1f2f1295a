package nudge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/repository"
	"github.com/hitoshi/spendsense/internal/transport"
)

// --- インメモリモック ---
// 並行性のテストのため、本物のリポジトリと同じ排他特性を
// ミューテックスで再現する。

type memRuleRepo struct {
	rules []model.NudgeRule
}

func (m *memRuleRepo) ListActive(_ context.Context) ([]model.NudgeRule, error) {
	out := []model.NudgeRule{}
	for _, r := range m.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *memRuleRepo) FindByID(_ context.Context, id string) (*model.NudgeRule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			rule := r
			return &rule, nil
		}
	}
	return nil, nil
}

type memRuleStateRepo struct {
	mu     sync.Mutex
	states map[string]*model.NudgeRuleState // key: userID+"/"+ruleID
}

func newMemRuleStateRepo() *memRuleStateRepo {
	return &memRuleStateRepo{states: map[string]*model.NudgeRuleState{}}
}

func (m *memRuleStateRepo) FindByUserAndRule(_ context.Context, userID, ruleID string) (*model.NudgeRuleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[userID+"/"+ruleID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (m *memRuleStateRepo) TryFire(_ context.Context, userID, ruleID string, asOf time.Time, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + ruleID
	s, ok := m.states[key]
	if !ok {
		s = &model.NudgeRuleState{UserID: userID, RuleID: ruleID, Status: model.RuleStateEligible}
		m.states[key] = s
	}
	if s.Status == model.RuleStateSuppressed {
		return false, nil
	}
	if s.NextEligibleAt.After(asOf) {
		return false, nil
	}
	fired := asOf
	s.Status = model.RuleStateCoolingDown
	s.LastFiredAt = &fired
	s.NextEligibleAt = asOf.Add(cooldown)
	s.UpdatedAt = asOf
	return true, nil
}

func (m *memRuleStateRepo) SetSuppressed(_ context.Context, userID, ruleID string, suppressed bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + ruleID
	s, ok := m.states[key]
	if !ok {
		s = &model.NudgeRuleState{UserID: userID, RuleID: ruleID, Status: model.RuleStateEligible}
		m.states[key] = s
	}
	if suppressed {
		s.Status = model.RuleStateSuppressed
	} else if s.Status == model.RuleStateSuppressed {
		if s.NextEligibleAt.After(now) {
			s.Status = model.RuleStateCoolingDown
		} else {
			s.Status = model.RuleStateEligible
		}
	}
	s.UpdatedAt = now
	return nil
}

type memDeliveryRepo struct {
	mu         sync.Mutex
	deliveries []*model.NudgeDelivery
}

func (m *memDeliveryRepo) Create(_ context.Context, delivery *model.NudgeDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *delivery
	m.deliveries = append(m.deliveries, &copied)
	return nil
}

func (m *memDeliveryRepo) FindByID(_ context.Context, id string) (*model.NudgeDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memDeliveryRepo) ListByUser(_ context.Context, userID string, limit int) ([]model.NudgeDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.NudgeDelivery{}
	for _, d := range m.deliveries {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimAndProcessPending はクレームから状態確定までをロック下で行い、
// 本物のFOR UPDATE SKIP LOCKEDと同じ排他性を再現する。
func (m *memDeliveryRepo) ClaimAndProcessPending(_ context.Context, userID string, limit int,
	fn func(d *model.NudgeDelivery) (model.SendStatus, *time.Time)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := []*model.NudgeDelivery{}
	for _, d := range m.deliveries {
		if d.UserID == userID && d.SendStatus == model.SendStatusPending {
			claimed = append(claimed, d)
			if len(claimed) == limit {
				break
			}
		}
	}

	for _, d := range claimed {
		status, sentAt := fn(d)
		d.SendStatus = status
		d.SentAt = sentAt
	}
	return len(claimed), nil
}

type memInteractionRepo struct {
	mu     sync.Mutex
	events []model.InteractionEvent
}

func (m *memInteractionRepo) Append(_ context.Context, event *model.InteractionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *memInteractionRepo) ListByDelivery(_ context.Context, deliveryID string) ([]model.InteractionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.InteractionEvent{}
	for _, e := range m.events {
		if e.DeliveryID == deliveryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memInteractionRepo) ListByDeliveries(_ context.Context, deliveryIDs []string) (map[string][]model.InteractionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range deliveryIDs {
		want[id] = true
	}
	out := map[string][]model.InteractionEvent{}
	for _, e := range m.events {
		if want[e.DeliveryID] {
			out[e.DeliveryID] = append(out[e.DeliveryID], e)
		}
	}
	return out, nil
}

func (m *memInteractionRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var deleted int64
	for _, e := range m.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

type memMomentRepo struct {
	moments []model.MoneyMoment
}

func (m *memMomentRepo) ListByUser(_ context.Context, userID, month string) ([]model.MoneyMoment, error) {
	out := []model.MoneyMoment{}
	for _, mm := range m.moments {
		if mm.UserID != userID {
			continue
		}
		if month != "" && mm.Month != month {
			continue
		}
		out = append(out, mm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].HabitID < out[j].HabitID
	})
	return out, nil
}

func (m *memMomentRepo) ReplaceMonth(_ context.Context, userID, month string, moments []model.MoneyMoment) error {
	kept := m.moments[:0]
	for _, mm := range m.moments {
		if mm.UserID == userID && mm.Month == month {
			continue
		}
		kept = append(kept, mm)
	}
	m.moments = append(kept, moments...)
	return nil
}

func (m *memMomentRepo) CountByUserAndMonth(_ context.Context, userID, month string) (int, error) {
	n := 0
	for _, mm := range m.moments {
		if mm.UserID == userID && mm.Month == month {
			n++
		}
	}
	return n, nil
}

type memSignalRepo struct {
	signals []model.GoalSignal
}

func (m *memSignalRepo) Create(_ context.Context, signal *model.GoalSignal) error {
	m.signals = append(m.signals, *signal)
	return nil
}

func (m *memSignalRepo) ListByUser(_ context.Context, userID string, limit int) ([]model.GoalSignal, error) {
	out := []model.GoalSignal{}
	for _, s := range m.signals {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// countingTransport は配信回数を数えるトランスポート。
type countingTransport struct {
	mu        sync.Mutex
	delivered []string
	failWith  error
}

func (t *countingTransport) Deliver(_ context.Context, d *model.NudgeDelivery) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWith != nil {
		return t.failWith
	}
	t.delivered = append(t.delivered, d.ID)
	return nil
}

func (t *countingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.delivered)
}

// nopCollector はメトリクスを捨てるコレクター。
type nopCollector struct{}

func (nopCollector) RecordRulesEvaluated(int)             {}
func (nopCollector) RecordNudgeFired(string)              {}
func (nopCollector) RecordNudgeSuppressed(string)         {}
func (nopCollector) RecordDeliverySent()                  {}
func (nopCollector) RecordDeliveryFailed()                {}
func (nopCollector) RecordMomentsComputed(int)            {}
func (nopCollector) RecordInteraction(string)             {}
func (nopCollector) RecordUserPurged()                    {}
func (nopCollector) RecordSweepLatency(time.Duration)     {}

// --- compile-time interface checks ---
var (
	_ repository.RuleRepository        = (*memRuleRepo)(nil)
	_ repository.RuleStateRepository   = (*memRuleStateRepo)(nil)
	_ repository.DeliveryRepository    = (*memDeliveryRepo)(nil)
	_ repository.InteractionRepository = (*memInteractionRepo)(nil)
	_ repository.MomentRepository      = (*memMomentRepo)(nil)
	_ repository.SignalRepository      = (*memSignalRepo)(nil)
	_ transport.Transport              = (*countingTransport)(nil)
)

// --- 共通フィクスチャ ---

func strPtr(s string) *string { return &s }

// seededRules はマイグレーションでシードされるルールと同じ構成。
func seededRules() []model.NudgeRule {
	return []model.NudgeRule{
		{
			ID: "rule-critical-signal", Priority: 5, TemplateCode: "critical_signal", Channel: "push",
			TitleTemplate: "家計に重要なお知らせがあります",
			BodyTemplate:  "{{.Insight}}",
			CTAText:       strPtr("詳細を確認"), CTADeeplink: strPtr("spendsense://signals"),
			CooldownDays: 3, Active: true,
		},
		{
			ID: "rule-spending-spike", Priority: 10, TemplateCode: "spending_spike", Channel: "push",
			TitleTemplate: "{{.Label}}の支出が増えています",
			BodyTemplate:  "今月の{{.Label}}は先月より{{.Value}}%増えました。{{.Insight}}",
			CTAText:       strPtr("内訳を見る"), CTADeeplink: strPtr("spendsense://moments/{{.Month}}"),
			CooldownDays: 7, Active: true,
		},
		{
			ID: "rule-subscription-creep", Priority: 20, TemplateCode: "subscription_creep", Channel: "push",
			TitleTemplate: "サブスクの合計額を確認しましょう",
			BodyTemplate:  "定期支払いの合計が増加傾向です。{{.Insight}}",
			CTAText:       strPtr("サブスク一覧"), CTADeeplink: strPtr("spendsense://subscriptions"),
			CooldownDays: 14, Active: true,
		},
		{
			ID: "rule-saving-streak", Priority: 30, TemplateCode: "saving_streak", Channel: "push",
			TitleTemplate: "節約が続いています",
			BodyTemplate:  "{{.Label}}の支出を{{.Value}}%抑えられています。この調子です。",
			CooldownDays:  30, Active: true,
		},
	}
}
