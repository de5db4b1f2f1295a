package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
)

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	validateTokenFn  func(ctx context.Context, token string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, token string) (*model.User, error)

	validateCalls int
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return &model.Session{ID: "session-1", UserID: "user-123"}, nil
}

func (m *mockAuthService) ValidateToken(ctx context.Context, token string) (*model.Session, error) {
	m.validateCalls++
	if m.validateTokenFn != nil {
		return m.validateTokenFn(ctx, token)
	}
	return nil, model.NewUnauthenticatedError()
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, token)
	}
	return nil, model.NewUnauthenticatedError()
}

func TestAuthHandler_Login_RedirectsWithStateCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}

	var stateCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == oauthStateCookie {
			stateCookie = c
		}
	}
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatal("oauth state cookie should be set")
	}
	if !stateCookie.HttpOnly {
		t.Error("state cookie should be HttpOnly")
	}
}

func TestAuthHandler_Callback_ReturnsToken(t *testing.T) {
	expiresAt := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			if code != "auth-code" {
				t.Errorf("code = %q, want %q", code, "auth-code")
			}
			return &model.Session{ID: "session-token", UserID: "user-123", ExpiresAt: expiresAt}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state=state-xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "state-xyz"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp tokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token != "session-token" {
		t.Errorf("token = %q, want %q", resp.Token, "session-token")
	}
	if !resp.ExpiresAt.Equal(expiresAt) {
		t.Errorf("expires_at = %v, want %v", resp.ExpiresAt, expiresAt)
	}
}

func TestAuthHandler_Callback_StateMismatch_Returns400(t *testing.T) {
	called := false
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state=attacker", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "state-xyz"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("callback should not reach service on state mismatch")
	}
}

func TestAuthHandler_Callback_MissingCode_Returns400(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=state-xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "state-xyz"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Logout_DeletesSession(t *testing.T) {
	var gotToken string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			gotToken = sessionID
			return nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer session-token")
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotToken != "session-token" {
		t.Errorf("token = %q, want %q", gotToken, "session-token")
	}
}

func TestAuthHandler_Me_ReturnsUser(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, token string) (*model.User, error) {
			return &model.User{ID: "user-123", Email: "taro@example.com", Name: "田中太郎"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer session-token")
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["email"] != "taro@example.com" {
		t.Errorf("email = %q, want %q", resp["email"], "taro@example.com")
	}
}

func TestAuthHandler_Me_InvalidToken_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer revoked")
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- GET /auth/session テスト ---

func TestAuthHandler_Session_ValidToken_ReturnsSessionInfo(t *testing.T) {
	expiresAt := time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)
	svc := &mockAuthService{
		validateTokenFn: func(ctx context.Context, token string) (*model.Session, error) {
			if token != "session-token" {
				t.Errorf("token = %q, want %q", token, "session-token")
			}
			return &model.Session{ID: "session-1", UserID: "user-123", ExpiresAt: expiresAt}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer session-token")
	w := httptest.NewRecorder()

	h.Session(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		UserID    string    `json:"user_id"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UserID != "user-123" {
		t.Errorf("user_id = %q, want %q", resp.UserID, "user-123")
	}
	if !resp.ExpiresAt.Equal(expiresAt) {
		t.Errorf("expires_at = %v, want %v", resp.ExpiresAt, expiresAt)
	}
}

// TestAuthHandler_Session_ValidatesEveryRequest はセッション照合が毎回行われ、
// 結果がキャッシュされないことを検証する。
func TestAuthHandler_Session_ValidatesEveryRequest(t *testing.T) {
	svc := &mockAuthService{
		validateTokenFn: func(ctx context.Context, token string) (*model.Session, error) {
			return &model.Session{ID: "session-1", UserID: "user-123"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		req.Header.Set("Authorization", "Bearer session-token")
		w := httptest.NewRecorder()
		h.Session(w, req)
	}

	if svc.validateCalls != 3 {
		t.Errorf("validate calls = %d, want 3", svc.validateCalls)
	}
}

func TestAuthHandler_Session_MissingToken_Returns401(t *testing.T) {
	svc := &mockAuthService{}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	w := httptest.NewRecorder()

	h.Session(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if svc.validateCalls != 0 {
		t.Errorf("validate calls = %d, want 0", svc.validateCalls)
	}
}

func TestAuthHandler_Session_RevokedToken_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer revoked")
	w := httptest.NewRecorder()

	h.Session(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- 認証状態機械の遷移テスト ---

// responseCookieValue はレスポンスに設定されたCookieの値を返す。未設定なら空文字列。
func responseCookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestAuthHandler_Login_TransitionsToAuthenticating(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	if got := responseCookieValue(w.Result(), sessionStateCookie); got != "authenticating" {
		t.Errorf("session state = %q, want %q", got, "authenticating")
	}
}

func TestAuthHandler_Callback_Success_TransitionsToAuthenticated(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code&state=state-xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "state-xyz"})
	req.AddCookie(&http.Cookie{Name: sessionStateCookie, Value: "authenticating"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := responseCookieValue(w.Result(), sessionStateCookie); got != "authenticated" {
		t.Errorf("session state = %q, want %q", got, "authenticated")
	}

	var resp tokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.State != "authenticated" {
		t.Errorf("state = %q, want %q", resp.State, "authenticated")
	}
}

func TestAuthHandler_Callback_Failure_ReturnsToAnonymous(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, model.NewUnauthenticatedError()
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=bad-code&state=state-xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "state-xyz"})
	req.AddCookie(&http.Cookie{Name: sessionStateCookie, Value: "authenticating"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := responseCookieValue(w.Result(), sessionStateCookie); got != "anonymous" {
		t.Errorf("session state = %q, want %q", got, "anonymous")
	}
}

func TestAuthHandler_Logout_TransitionsToAnonymous(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer session-token")
	req.AddCookie(&http.Cookie{Name: sessionStateCookie, Value: "authenticated"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := responseCookieValue(w.Result(), sessionStateCookie); got != "anonymous" {
		t.Errorf("session state = %q, want %q", got, "anonymous")
	}
}

func TestAuthHandler_Session_RevokedToken_TransitionsToInvalid(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer revoked")
	req.AddCookie(&http.Cookie{Name: sessionStateCookie, Value: "authenticated"})
	w := httptest.NewRecorder()

	h.Session(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	// クレデンシャル拒否は再ログインのみが有効な遷移となるinvalid状態へ
	if got := responseCookieValue(w.Result(), sessionStateCookie); got != "invalid" {
		t.Errorf("session state = %q, want %q", got, "invalid")
	}
}
