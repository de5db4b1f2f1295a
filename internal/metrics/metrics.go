// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordRulesEvaluated(count int)
	RecordNudgeFired(ruleID string)
	RecordNudgeSuppressed(reason string)
	RecordDeliverySent()
	RecordDeliveryFailed()
	RecordMomentsComputed(count int)
	RecordInteraction(eventType string)
	RecordUserPurged()
	RecordSweepLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	rulesEvaluated  prometheus.Counter
	nudgesFired     *prometheus.CounterVec
	nudgesSuppress  *prometheus.CounterVec
	deliveriesSent  prometheus.Counter
	deliveriesFail  prometheus.Counter
	momentsComputed prometheus.Counter
	interactions    *prometheus.CounterVec
	usersPurged     prometheus.Counter
	sweepLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spendsense_rules_evaluated_total",
			Help: "評価されたナッジルールの合計数",
		}),
		nudgesFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendsense_nudges_fired_total",
			Help: "ルール別の発火したナッジの合計数",
		}, []string{"rule_id"}),
		nudgesSuppress: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendsense_nudges_suppressed_total",
			Help: "理由別の抑制されたナッジの合計数",
		}, []string{"reason"}),
		deliveriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spendsense_deliveries_sent_total",
			Help: "配送に成功したナッジの合計数",
		}),
		deliveriesFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spendsense_deliveries_failed_total",
			Help: "配送に失敗したナッジの合計数",
		}),
		momentsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spendsense_moments_computed_total",
			Help: "計算されたマネーモーメントの合計数",
		}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spendsense_interactions_total",
			Help: "イベント種別ごとのインタラクションの合計数",
		}, []string{"event_type"}),
		usersPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spendsense_users_purged_total",
			Help: "全データ削除が完了したユーザーの合計数",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spendsense_sweep_latency_seconds",
			Help:    "スイープ1回あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.rulesEvaluated,
		c.nudgesFired,
		c.nudgesSuppress,
		c.deliveriesSent,
		c.deliveriesFail,
		c.momentsComputed,
		c.interactions,
		c.usersPurged,
		c.sweepLatency,
	)

	return c
}

// RecordRulesEvaluated は評価されたルール数を記録する。
func (c *Collector) RecordRulesEvaluated(count int) {
	c.rulesEvaluated.Add(float64(count))
}

// RecordNudgeFired はナッジの発火を記録する。
func (c *Collector) RecordNudgeFired(ruleID string) {
	c.nudgesFired.WithLabelValues(ruleID).Inc()
}

// RecordNudgeSuppressed はナッジの抑制を記録する。
func (c *Collector) RecordNudgeSuppressed(reason string) {
	c.nudgesSuppress.WithLabelValues(reason).Inc()
}

// RecordDeliverySent は配送成功を記録する。
func (c *Collector) RecordDeliverySent() {
	c.deliveriesSent.Inc()
}

// RecordDeliveryFailed は配送失敗を記録する。
func (c *Collector) RecordDeliveryFailed() {
	c.deliveriesFail.Inc()
}

// RecordMomentsComputed は計算されたモーメント数を記録する。
func (c *Collector) RecordMomentsComputed(count int) {
	c.momentsComputed.Add(float64(count))
}

// RecordInteraction はインタラクションを記録する。
func (c *Collector) RecordInteraction(eventType string) {
	c.interactions.WithLabelValues(eventType).Inc()
}

// RecordUserPurged はユーザーデータ全削除の完了を記録する。
func (c *Collector) RecordUserPurged() {
	c.usersPurged.Inc()
}

// RecordSweepLatency はスイープのレイテンシを記録する。
func (c *Collector) RecordSweepLatency(duration time.Duration) {
	c.sweepLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
