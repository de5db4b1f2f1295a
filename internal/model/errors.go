// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, moment, nudge, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeDeliveryNotFound  = "DELIVERY_NOT_FOUND"
	ErrCodeRuleNotFound      = "RULE_NOT_FOUND"
	ErrCodeInvalidMonth      = "INVALID_MONTH"
	ErrCodeInvalidDate       = "INVALID_DATE"
	ErrCodeInvalidEventType  = "INVALID_EVENT_TYPE"
	ErrCodeInvalidLimit      = "INVALID_LIMIT"
	ErrCodeComputeConflict   = "COMPUTE_CONFLICT"
	ErrCodeDeleteInProgress  = "DELETE_IN_PROGRESS"
	ErrCodeDeleteFailed      = "DELETE_FAILED"
	ErrCodeLedgerUnavailable = "LEDGER_UNAVAILABLE"
	ErrCodeUpstreamTimeout   = "UPSTREAM_TIMEOUT"
)

// NewUnauthenticatedError は未認証エラーを生成する。
// 期限切れ・失効・不正なクレデンシャルはすべてこのエラーに収束し、
// 呼び出し側は保持している認証状態を破棄しなければならない。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証情報が無効または期限切れです。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は権限不足エラーを生成する。
// 認証自体は有効だが対象リソースへのアクセス権がない場合に使用する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "このリソースへのアクセス権がありません。",
		Category: "auth",
		Action:   "アカウントの権限を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewDeliveryNotFoundError はナッジ配信が見つからない場合のエラーを生成する。
func NewDeliveryNotFoundError(deliveryID string) *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryNotFound,
		Message:  fmt.Sprintf("指定されたナッジ配信が見つかりません: %s", deliveryID),
		Category: "nudge",
		Action:   "配信IDを確認してください。",
	}
}

// NewRuleNotFoundError はナッジルールが見つからない場合のエラーを生成する。
func NewRuleNotFoundError(ruleID string) *APIError {
	return &APIError{
		Code:     ErrCodeRuleNotFound,
		Message:  fmt.Sprintf("指定されたナッジルールが見つかりません: %s", ruleID),
		Category: "nudge",
		Action:   "ルールIDを確認してください。",
	}
}

// NewInvalidMonthError は月指定が不正な場合のエラーを生成する。
func NewInvalidMonthError(month string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMonth,
		Message:  fmt.Sprintf("無効な月指定です: %s", month),
		Category: "validation",
		Action:   "月は YYYY-MM 形式で指定してください。",
	}
}

// NewInvalidDateError は日付指定が不正な場合のエラーを生成する。
func NewInvalidDateError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付指定です: %s", date),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewInvalidEventTypeError はインタラクション種別が不正な場合のエラーを生成する。
func NewInvalidEventTypeError(eventType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEventType,
		Message:  fmt.Sprintf("無効なイベント種別です: %s", eventType),
		Category: "validation",
		Action:   "イベント種別には view、click、dismiss のいずれかを指定してください。",
	}
}

// NewInvalidLimitError は件数指定が不正な場合のエラーを生成する。
func NewInvalidLimitError(limit string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な件数指定です: %s", limit),
		Category: "validation",
		Action:   "limitには1以上の整数を指定してください。",
	}
}

// NewComputeConflictError はマネーモーメント計算の競合エラーを生成する。
// 同一(ユーザー, 月)に対する計算が既に進行中の場合に返される。
func NewComputeConflictError(month string) *APIError {
	return &APIError{
		Code:     ErrCodeComputeConflict,
		Message:  fmt.Sprintf("対象月の計算が競合しました: %s", month),
		Category: "moment",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewDeleteInProgressError はデータ削除が既に進行中の場合のエラーを生成する。
func NewDeleteInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeDeleteInProgress,
		Message:  "データ削除が既に進行中です。",
		Category: "system",
		Action:   "進行中の削除が完了するまでお待ちください。",
	}
}

// NewDeleteFailedError はデータ削除失敗エラーを生成する。
// 上流のステータス・詳細が取得できた場合はそのまま含める。
func NewDeleteFailedError(detail string) *APIError {
	msg := "データ削除に失敗しました。"
	if detail != "" {
		msg = fmt.Sprintf("データ削除に失敗しました: %s", detail)
	}
	return &APIError{
		Code:     ErrCodeDeleteFailed,
		Message:  msg,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。問題が続く場合はサポートへ連絡してください。",
	}
}

// NewLedgerUnavailableError は取引台帳が利用できない場合のエラーを生成する。
func NewLedgerUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeLedgerUnavailable,
		Message:  fmt.Sprintf("取引台帳サービスに接続できません: %s", reason),
		Category: "moment",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamTimeoutError は上流呼び出しのタイムアウトエラーを生成する。
// タイムアウトはNotFoundやValidationとは区別して伝搬される。
func NewUpstreamTimeoutError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamTimeout,
		Message:  fmt.Sprintf("上流サービスの応答がタイムアウトしました: %s", operation),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
