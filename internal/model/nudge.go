// Package model はドメインモデルを定義する。
package model

import "time"

// NudgeRule はナッジの発火条件とテンプレートを表す。
// ルールはマイグレーションでシードされ、priority昇順で決定的に評価される。
type NudgeRule struct {
	ID            string
	Priority      int
	TemplateCode  string
	Channel       string
	TitleTemplate string
	BodyTemplate  string
	CTAText       *string
	CTADeeplink   *string
	CooldownDays  int
	Active        bool
}

// RuleStateStatus はユーザーごとのルール状態を表す。
type RuleStateStatus string

const (
	// RuleStateEligible は発火可能な状態。
	RuleStateEligible RuleStateStatus = "eligible"
	// RuleStateCoolingDown はクールダウン中の状態。
	// next_eligible_at を過ぎると再びeligibleとして扱われる。
	RuleStateCoolingDown RuleStateStatus = "cooling_down"
	// RuleStateSuppressed はユーザーがルールを無効化した終端状態。
	// クールダウン満了後も発火しない。
	RuleStateSuppressed RuleStateStatus = "suppressed"
)

// NudgeRuleState はユーザーごとのルール状態機械の永続化レコード。
// (user_id, rule_id) で一意であり、クールダウンの排他チェックは
// このレコードへの条件付きUPDATE（CAS）で行う。
type NudgeRuleState struct {
	UserID         string
	RuleID         string
	Status         RuleStateStatus
	LastFiredAt    *time.Time
	NextEligibleAt time.Time
	UpdatedAt      time.Time
}

// SendStatus はナッジ配信の送信状態を表す。
type SendStatus string

const (
	// SendStatusPending は評価済みだが未配送の状態。
	SendStatusPending SendStatus = "pending"
	// SendStatusSent は配送成功の状態。
	SendStatusSent SendStatus = "sent"
	// SendStatusFailed はトランスポートエラーによる配送失敗の状態。
	// 失敗してもクールダウンは巻き戻さない。
	SendStatusFailed SendStatus = "failed"
	// SendStatusSuppressed は抑制されたまま記録のみ残した状態。
	SendStatusSuppressed SendStatus = "suppressed"
)

// NudgeDelivery はナッジ配信の永続化レコードを表す。
// evaluateがpendingで作成し、processがsent/failedへ遷移させる。
type NudgeDelivery struct {
	ID           string
	UserID       string
	RuleID       string
	TemplateCode string
	Channel      string
	Title        string
	Body         string
	CTAText      *string
	CTADeeplink  *string
	Metadata     map[string]string
	SendStatus   SendStatus
	SentAt       *time.Time
	CreatedAt    time.Time
}
