package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/spendsense/internal/auth"
	"github.com/hitoshi/spendsense/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	// sessionStateCookie はクライアントの認証状態機械の現在状態を保持する。
	// 値の更新は必ずauth.Transitionを経由する。
	sessionStateCookie = "session_state"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	// ValidateToken はベアラートークンをバックエンドのセッション記録に照合する。
	ValidateToken(ctx context.Context, token string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, token string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
// APIはベアラートークン方式のため、コールバックはトークンをJSONで返す。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// tokenResponse は認証成功時のAPIレスポンス。
// Stateはログイン成功イベント適用後の認証状態機械の状態。
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	State     string    `json:"state"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.setSessionState(w, auth.Transition(sessionStateFromRequest(r), auth.EventLoginStarted))

	url := h.service.GetLoginURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、APIアクセス用のベアラートークンを返す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.setSessionState(w, auth.Transition(sessionStateFromRequest(r), auth.EventLoginFailed))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	next := auth.Transition(sessionStateFromRequest(r), auth.EventLoginSucceeded)
	h.setSessionState(w, next)

	writeJSONResponse(w, http.StatusOK, tokenResponse{
		Token:     session.ID,
		ExpiresAt: session.ExpiresAt,
		State:     string(next),
	})
}

// Logout はセッションをバックエンドから破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	h.setSessionState(w, auth.Transition(sessionStateFromRequest(r), auth.EventLoggedOut))
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}

// Session はベアラートークンをバックエンドのセッション記録に照合し、
// セッション情報を返す。結果はキャッシュされず、毎回照合される。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	session, err := h.service.ValidateToken(r.Context(), token)
	if err != nil {
		// バックエンドによる拒否は状態機械上の強制サインアウト
		if isUnauthenticated(err) {
			h.setSessionState(w, auth.Transition(sessionStateFromRequest(r), auth.EventCredentialRejected))
		}
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"user_id":    session.UserID,
		"expires_at": session.ExpiresAt,
		"state":      string(auth.StateAuthenticated),
	})
}

// sessionStateFromRequest はCookieからクライアントの認証状態を読み取る。
// Cookieが無い場合や未定義の値の場合はanonymousとして扱う。
func sessionStateFromRequest(r *http.Request) auth.SessionState {
	c, err := r.Cookie(sessionStateCookie)
	if err != nil {
		return auth.StateAnonymous
	}
	switch s := auth.SessionState(c.Value); s {
	case auth.StateAnonymous, auth.StateAuthenticating, auth.StateAuthenticated, auth.StateInvalid:
		return s
	default:
		return auth.StateAnonymous
	}
}

// setSessionState は遷移後の認証状態をCookieに書き込む。
func (h *AuthHandler) setSessionState(w http.ResponseWriter, state auth.SessionState) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionStateCookie,
		Value:    string(state),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// isUnauthenticated はエラーがバックエンドによるクレデンシャル拒否かを判定する。
func isUnauthenticated(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnauthenticated
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
