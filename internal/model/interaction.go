// Package model はドメインモデルを定義する。
package model

import "time"

// InteractionEventType はナッジ配信に対するユーザー操作の種別を表す。
type InteractionEventType string

const (
	// InteractionView は配信の表示イベント。複数回記録されてよい。
	InteractionView InteractionEventType = "view"
	// InteractionClick はCTAのクリックイベント。終端イベント。
	InteractionClick InteractionEventType = "click"
	// InteractionDismiss は配信の却下イベント。終端イベント。
	InteractionDismiss InteractionEventType = "dismiss"
)

// ValidInteractionEventType はイベント種別が定義済みかを判定する。
func ValidInteractionEventType(t InteractionEventType) bool {
	switch t {
	case InteractionView, InteractionClick, InteractionDismiss:
		return true
	}
	return false
}

// InteractionEvent はナッジ配信に対する追記専用の操作記録を表す。
// イベントは単調に追記され、個別に削除・更新されることはない。
type InteractionEvent struct {
	ID         string
	DeliveryID string
	EventType  InteractionEventType
	Metadata   map[string]string
	CreatedAt  time.Time
}

// InteractionState はイベント列から導出した配信の現在状態を表す。
// 終端イベント（click/dismiss）は追記順に適用され、viewは終端状態を
// 上書きしない。各イベントの初回時刻はすべて保持される。
type InteractionState struct {
	Current     InteractionEventType // ゼロ値は未操作を表す
	ViewedAt    *time.Time
	ClickedAt   *time.Time
	DismissedAt *time.Time
}

// DeriveInteractionState はイベント列（created_at昇順）から配信の
// 現在状態を導出する。click後のdismissは現在状態をdismissにするが、
// ClickedAtは消えない。view型イベントはclick/dismissを上書きしない。
func DeriveInteractionState(events []InteractionEvent) InteractionState {
	var st InteractionState
	for i := range events {
		e := &events[i]
		t := e.CreatedAt
		switch e.EventType {
		case InteractionView:
			if st.ViewedAt == nil {
				st.ViewedAt = &t
			}
			if st.Current != InteractionClick && st.Current != InteractionDismiss {
				st.Current = InteractionView
			}
		case InteractionClick:
			if st.ClickedAt == nil {
				st.ClickedAt = &t
			}
			st.Current = InteractionClick
		case InteractionDismiss:
			if st.DismissedAt == nil {
				st.DismissedAt = &t
			}
			st.Current = InteractionDismiss
		}
	}
	return st
}
