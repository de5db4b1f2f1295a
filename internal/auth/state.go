package auth

// SessionState はクライアントから観測される認証状態を表す。
// 散在するフラグではなく、単一の遷移関数で管理される有限状態機械。
type SessionState string

const (
	// StateAnonymous は未認証の初期状態。
	StateAnonymous SessionState = "anonymous"
	// StateAuthenticating はOAuthフロー進行中の状態。
	StateAuthenticating SessionState = "authenticating"
	// StateAuthenticated は有効なセッションを保持している状態。
	StateAuthenticated SessionState = "authenticated"
	// StateInvalid はクレデンシャル失効が検出された状態。
	// 保持していた認証情報は破棄済みであり、再ログインのみが有効な遷移。
	StateInvalid SessionState = "invalid"
)

// SessionEvent は認証状態機械への入力イベントを表す。
type SessionEvent string

const (
	// EventLoginStarted はOAuthフローの開始。
	EventLoginStarted SessionEvent = "login_started"
	// EventLoginSucceeded はセッション発行の成功。
	EventLoginSucceeded SessionEvent = "login_succeeded"
	// EventLoginFailed はOAuthフローの失敗。
	EventLoginFailed SessionEvent = "login_failed"
	// EventCredentialRejected はバックエンドによるクレデンシャル拒否。
	// どの状態からでもinvalidへ遷移する（強制サインアウト）。
	EventCredentialRejected SessionEvent = "credential_rejected"
	// EventLoggedOut は明示的なログアウト。
	EventLoggedOut SessionEvent = "logged_out"
)

// Transition は認証状態機械の唯一の遷移関数。
// 定義されていない(状態, イベント)の組は現在の状態を維持する。
func Transition(state SessionState, event SessionEvent) SessionState {
	// クレデンシャル拒否は全状態からinvalidへ（強制サインアウト）
	if event == EventCredentialRejected {
		return StateInvalid
	}

	switch state {
	case StateAnonymous, StateInvalid:
		if event == EventLoginStarted {
			return StateAuthenticating
		}
	case StateAuthenticating:
		switch event {
		case EventLoginSucceeded:
			return StateAuthenticated
		case EventLoginFailed:
			return StateAnonymous
		}
	case StateAuthenticated:
		if event == EventLoggedOut {
			return StateAnonymous
		}
	}

	return state
}
