// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// ListIDs は全ユーザーのIDを返す。スイープワーカーが使用する。
	ListIDs(ctx context.Context) ([]string, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// MomentRepository はマネーモーメントの永続化インターフェース。
type MomentRepository interface {
	// ListByUser はユーザーのマネーモーメントを(month, habit_id)昇順で返す。
	// monthが空でない場合はその月のみを返す。該当なしは空スライス（エラーではない）。
	ListByUser(ctx context.Context, userID, month string) ([]model.MoneyMoment, error)

	// ReplaceMonth は指定(ユーザー, 月)のモーメントを1トランザクションで
	// 全削除・再挿入する。読み手に新旧混在の状態は決して見えない。
	ReplaceMonth(ctx context.Context, userID, month string, moments []model.MoneyMoment) error

	// CountByUserAndMonth は指定(ユーザー, 月)の既存モーメント数を返す。
	CountByUserAndMonth(ctx context.Context, userID, month string) (int, error)
}

// RuleRepository はナッジルールの読み取りインターフェース。
// ルールはマイグレーションでシードされ、この系からは変更しない。
type RuleRepository interface {
	// ListActive は有効なルールをpriority昇順で返す。
	// 評価順が決定的であることをこの順序が保証する。
	ListActive(ctx context.Context) ([]model.NudgeRule, error)

	// FindByID は指定IDのルールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.NudgeRule, error)
}

// RuleStateRepository はユーザーごとのルール状態機械の永続化インターフェース。
type RuleStateRepository interface {
	// FindByUserAndRule は指定(ユーザー, ルール)の状態を取得する。
	// 未初期化の場合はnilを返す。
	FindByUserAndRule(ctx context.Context, userID, ruleID string) (*model.NudgeRuleState, error)

	// TryFire はルール発火を試行する。eligible（状態行が無い場合は遅延作成）かつ
	// next_eligible_at <= asOf の場合のみ、クールダウン満了時刻を進めて
	// cooling_downへ遷移させ、trueを返す。条件を満たさない場合
	// （クールダウン中・抑制中・並行発火に敗北）はfalseを返す。
	// 条件付きUPDATE（compare-and-swap）で実装され、並行呼び出しでも
	// 勝者は高々1つであることを保証する。
	TryFire(ctx context.Context, userID, ruleID string, asOf time.Time, cooldown time.Duration) (bool, error)

	// SetSuppressed はルールの抑制状態を設定・解除する。
	// 抑制は終端状態であり、解除されるまでTryFireは常にfalseを返す。
	SetSuppressed(ctx context.Context, userID, ruleID string, suppressed bool, now time.Time) error
}

// DeliveryRepository はナッジ配信の永続化インターフェース。
type DeliveryRepository interface {
	// Create は配信レコードを作成する。
	Create(ctx context.Context, delivery *model.NudgeDelivery) error

	// FindByID は指定IDの配信を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.NudgeDelivery, error)

	// ListByUser はユーザーの配信をcreated_at降順で最大limit件返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]model.NudgeDelivery, error)

	// ClaimAndProcessPending はpending配信をFOR UPDATE SKIP LOCKEDで
	// 最大limit件クレームし、各配信にfnを適用して返る送信状態で更新する。
	// クレームと状態更新は同一トランザクション内で行われるため、
	// 並行する2つの呼び出しが同じ配信を二重処理することはない。
	// 処理した件数を返す。
	ClaimAndProcessPending(ctx context.Context, userID string, limit int,
		fn func(d *model.NudgeDelivery) (model.SendStatus, *time.Time)) (int, error)
}

// InteractionRepository はインタラクションイベントの永続化インターフェース。
// イベントは追記専用であり、更新・個別削除の操作は提供しない。
type InteractionRepository interface {
	// Append はイベントを追記する。
	Append(ctx context.Context, event *model.InteractionEvent) error

	// ListByDelivery は指定配信のイベントをcreated_at昇順で返す。
	ListByDelivery(ctx context.Context, deliveryID string) ([]model.InteractionEvent, error)

	// ListByDeliveries は複数配信のイベントをdelivery_idごとにまとめて返す。
	ListByDeliveries(ctx context.Context, deliveryIDs []string) (map[string][]model.InteractionEvent, error)

	// DeleteOlderThan は指定日時より古いイベントを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SignalRepository はゴールシグナルの永続化インターフェース。
type SignalRepository interface {
	// Create はシグナルを作成する。作成後の変更操作は存在しない。
	Create(ctx context.Context, signal *model.GoalSignal) error

	// ListByUser はユーザーのシグナルをcreated_at降順で返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]model.GoalSignal, error)
}

// PurgeRepository はユーザーデータの全削除インターフェース。
// DataLifecycleManager専用であり、パイプラインの他の箇所からは使用しない。
type PurgeRepository interface {
	// PurgeUser はユーザー所有の全データ（イベント・配信・ルール状態・
	// シグナル・モーメント・セッション・identity・ユーザー本体）を
	// 1トランザクションで削除する。部分削除の成功状態は存在しない。
	PurgeUser(ctx context.Context, userID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
