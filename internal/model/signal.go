// Package model はドメインモデルを定義する。
package model

import "time"

// SignalSeverity はゴールシグナルの深刻度を表す。
type SignalSeverity string

const (
	// SeverityInfo は情報レベルのシグナル。
	SeverityInfo SignalSeverity = "info"
	// SeverityWarning は注意レベルのシグナル。
	SeverityWarning SignalSeverity = "warning"
	// SeverityCritical は重大レベルのシグナル。
	SeverityCritical SignalSeverity = "critical"
)

// GoalSignal はUIに提示される読み取り専用の観察シグナルを表す。
// この系はシグナルを生成・消費するのみで、生成後に変更することはない。
type GoalSignal struct {
	ID         string
	UserID     string
	SignalType string
	Severity   SignalSeverity
	Message    string
	CreatedAt  time.Time
}
