// Package model はドメインモデルを定義する。
package model

import "time"

// MonthLayout はマネーモーメントの対象月のフォーマット（YYYY-MM）。
const MonthLayout = "2006-01"

// MoneyMoment は取引履歴から導出された行動観察を表す。
// (user_id, month, habit_id) の組で一意。再計算は同一キーの行を
// アトミックに置き換え、重複行を残さない。
type MoneyMoment struct {
	ID          string
	UserID      string
	Month       string // YYYY-MM
	HabitID     string
	Value       float64
	Label       string  // 短い分類ラベル
	InsightText string  // 人間可読の説明（サニタイズ済み）
	Confidence  float64 // 0.0〜1.0
	CreatedAt   time.Time
}

// Transaction は取引台帳から取得した生の取引を表す。
// マネーモーメント計算の入力としてのみ使用し、この系では永続化しない。
type Transaction struct {
	ID         string
	Category   string
	Amount     float64
	OccurredAt time.Time
}

// MomentDraft はハビット分析器が生成する未保存のマネーモーメント。
// サニタイズと永続化はSignalComputer側で行う。
type MomentDraft struct {
	HabitID     string
	Value       float64
	Label       string
	InsightText string
	Confidence  float64
}
