// Package transport はナッジの配信チャネルを提供する。
// 配信の成否のみを返し、リトライ方針は呼び出し側（プロセッサ）が持つ。
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/security"
)

// Transport はナッジ1件をユーザーに届けるインターフェース。
type Transport interface {
	// Deliver はナッジを配信する。戻り値のエラーは配信失敗を意味し、
	// 呼び出し側がsend_statusをfailedに確定する。
	Deliver(ctx context.Context, delivery *model.NudgeDelivery) error
}

// LogTransport は配信内容を構造化ログに出力するだけのトランスポート。
// Webhook未設定の環境の既定実装。
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport はLogTransportを生成する。
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Deliver はナッジをログに出力する。常に成功する。
func (t *LogTransport) Deliver(_ context.Context, delivery *model.NudgeDelivery) error {
	t.logger.Info("nudge delivered (log transport)",
		slog.String("delivery_id", delivery.ID),
		slog.String("user_id", delivery.UserID),
		slog.String("rule_id", delivery.RuleID),
		slog.String("title", delivery.Title),
	)
	return nil
}

// WebhookTransport はナッジをWebhook URLにPOSTするトランスポート。
// URLは起動時に検証し、HTTPクライアントはSSRF対策済みのものを使用する。
type WebhookTransport struct {
	httpClient *http.Client
	webhookURL string
	logger     *slog.Logger
}

// NewWebhookTransport はWebhookTransportを生成する。
// webhookURLが内部ネットワークを指す場合はエラーを返す。
func NewWebhookTransport(guard security.SSRFGuardService, webhookURL string, timeout time.Duration, logger *slog.Logger) (*WebhookTransport, error) {
	if err := guard.ValidateURL(webhookURL); err != nil {
		return nil, fmt.Errorf("webhook URLの検証に失敗しました: %w", err)
	}
	return &WebhookTransport{
		httpClient: guard.NewSafeClient(timeout),
		webhookURL: webhookURL,
		logger:     logger,
	}, nil
}

// webhookPayload はWebhookに送信するJSONペイロード。
type webhookPayload struct {
	DeliveryID string            `json:"delivery_id"`
	UserID     string            `json:"user_id"`
	RuleID     string            `json:"rule_id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	CTAText    *string           `json:"cta_text,omitempty"`
	CTALink    *string           `json:"cta_deeplink,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Deliver はナッジをWebhookにPOSTする。2xx以外は失敗として扱う。
func (t *WebhookTransport) Deliver(ctx context.Context, delivery *model.NudgeDelivery) error {
	payload := webhookPayload{
		DeliveryID: delivery.ID,
		UserID:     delivery.UserID,
		RuleID:     delivery.RuleID,
		Title:      delivery.Title,
		Body:       delivery.Body,
		CTAText:    delivery.CTAText,
		CTALink:    delivery.CTADeeplink,
		Metadata:   delivery.Metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ペイロードのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Error("webhook配信に失敗しました",
			slog.String("delivery_id", delivery.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("webhook配信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Error("webhookがエラーステータスを返しました",
			slog.String("delivery_id", delivery.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("webhookがステータス %d を返しました", resp.StatusCode)
	}

	return nil
}

// compile-time interface checks
var _ Transport = (*LogTransport)(nil)
var _ Transport = (*WebhookTransport)(nil)
