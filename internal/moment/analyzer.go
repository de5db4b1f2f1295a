// Package moment はマネーモーメントの計算と取得を提供する。
// 取引台帳の月次取引からハビット分析器が行動パターンを抽出し、
// (ユーザー, 月)単位で冪等に永続化する。
package moment

import (
	"fmt"
	"sort"

	"github.com/hitoshi/spendsense/internal/model"
)

// HabitAnalyzer は月次取引からマネーモーメントの候補を抽出するインターフェース。
// 同一入力に対して常に同一の結果を返すこと（決定性）。
type HabitAnalyzer interface {
	Analyze(month string, txs []model.Transaction) []model.MomentDraft
}

const (
	// habitSpendingSpike は特定カテゴリへの支出集中。
	habitSpendingSpike = "spending-spike"
	// habitSubscriptionCreep はサブスクリプション契約の増加傾向。
	habitSubscriptionCreep = "subscription-creep"
	// habitSavingStreak は貯蓄の継続。
	habitSavingStreak = "saving-streak"

	// spikeShareThreshold は月間支出に占めるカテゴリ比率の閾値。
	spikeShareThreshold = 0.4
	// subscriptionCountThreshold はサブスク取引数の閾値。
	subscriptionCountThreshold = 3

	categorySubscription = "subscription"
	categorySavings      = "savings"
)

// defaultAnalyzer は組み込みのハビット分析器。
// カテゴリ集計に基づく決定的なルールのみを持つ。
type defaultAnalyzer struct{}

// NewDefaultAnalyzer は組み込み分析器を生成する。
func NewDefaultAnalyzer() HabitAnalyzer {
	return &defaultAnalyzer{}
}

// Analyze は月次取引からモーメント候補を抽出する。
// 結果はhabit_id昇順で返す。取引が空の場合は空スライスを返す。
func (a *defaultAnalyzer) Analyze(month string, txs []model.Transaction) []model.MomentDraft {
	drafts := []model.MomentDraft{}
	if len(txs) == 0 {
		return drafts
	}

	totals := map[string]float64{}
	counts := map[string]int{}
	var monthTotal float64
	for _, tx := range txs {
		totals[tx.Category] += tx.Amount
		counts[tx.Category]++
		if tx.Category != categorySavings {
			monthTotal += tx.Amount
		}
	}

	// 支出集中: 1カテゴリが月間支出の一定比率を超える
	if monthTotal > 0 {
		categories := make([]string, 0, len(totals))
		for c := range totals {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			if c == categorySavings {
				continue
			}
			share := totals[c] / monthTotal
			if share >= spikeShareThreshold {
				drafts = append(drafts, model.MomentDraft{
					HabitID:     habitSpendingSpike + ":" + c,
					Value:       totals[c],
					Label:       c + "への支出集中",
					InsightText: fmt.Sprintf("%sの支出が%sカテゴリに%.0f%%集中しています（%.0f円）。", month, c, share*100, totals[c]),
					Confidence:  clampConfidence(share),
				})
			}
		}
	}

	// サブスクの増加傾向: 件数が閾値以上
	if counts[categorySubscription] >= subscriptionCountThreshold {
		drafts = append(drafts, model.MomentDraft{
			HabitID:     habitSubscriptionCreep,
			Value:       totals[categorySubscription],
			Label:       "サブスクリプションの増加",
			InsightText: fmt.Sprintf("%sのサブスクリプション取引は%d件、合計%.0f円です。", month, counts[categorySubscription], totals[categorySubscription]),
			Confidence:  clampConfidence(float64(counts[categorySubscription]) / 10.0),
		})
	}

	// 貯蓄の継続: 貯蓄カテゴリに入金がある
	if totals[categorySavings] > 0 {
		drafts = append(drafts, model.MomentDraft{
			HabitID:     habitSavingStreak,
			Value:       totals[categorySavings],
			Label:       "貯蓄の継続",
			InsightText: fmt.Sprintf("%sは%.0f円を貯蓄に回しています。この調子です。", month, totals[categorySavings]),
			Confidence:  0.9,
		})
	}

	sort.Slice(drafts, func(i, j int) bool { return drafts[i].HabitID < drafts[j].HabitID })
	return drafts
}

func clampConfidence(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}

// compile-time interface check
var _ HabitAnalyzer = (*defaultAnalyzer)(nil)
