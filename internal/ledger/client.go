// Package ledger は取引台帳サービスとの連携を提供する。
// マネーモーメント計算の入力となる月次取引の取得を担う。
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
)

// TransactionFetcher は取引台帳から月次取引を取得するインターフェース。
type TransactionFetcher interface {
	// FetchMonth は指定ユーザー・月（YYYY-MM）の取引を取得する。
	FetchMonth(ctx context.Context, userID, month string) ([]model.Transaction, error)
}

// Client は取引台帳APIのHTTPクライアント。
// すべての呼び出しにタイムアウトを適用し、失敗は型付きエラーに変換する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	timeout    time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		baseURL:    baseURL,
		timeout:    timeout,
	}
}

// ledgerTransaction は台帳APIのレスポンス中の取引1件。
type ledgerTransaction struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Amount     float64   `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ledgerResponse は台帳APIの月次取引レスポンス。
type ledgerResponse struct {
	Transactions []ledgerTransaction `json:"transactions"`
}

// FetchMonth は指定ユーザー・月の取引を台帳APIから取得する。
// タイムアウト時はUPSTREAM_TIMEOUT、その他の通信・ステータス異常は
// LEDGER_UNAVAILABLEとして返す。部分的な結果は返さない。
func (c *Client) FetchMonth(ctx context.Context, userID, month string) ([]model.Transaction, error) {
	reqURL, err := url.Parse(c.baseURL + "/transactions")
	if err != nil {
		return nil, fmt.Errorf("台帳エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("user_id", userID)
	q.Set("month", month)
	reqURL.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.logger.Error("取引台帳APIの呼び出しがタイムアウトしました",
				slog.String("user_id", userID),
				slog.String("month", month),
			)
			return nil, model.NewUpstreamTimeoutError("fetch transactions")
		}
		c.logger.Error("取引台帳APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("user_id", userID),
			slog.String("month", month),
		)
		return nil, model.NewLedgerUnavailableError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("取引台帳APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("user_id", userID),
			slog.String("month", month),
		)
		return nil, model.NewLedgerUnavailableError(fmt.Sprintf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewLedgerUnavailableError(err.Error())
	}

	var result ledgerResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("取引台帳APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewLedgerUnavailableError("invalid response body")
	}

	txs := make([]model.Transaction, 0, len(result.Transactions))
	for _, t := range result.Transactions {
		txs = append(txs, model.Transaction{
			ID:         t.ID,
			Category:   t.Category,
			Amount:     t.Amount,
			OccurredAt: t.OccurredAt,
		})
	}

	return txs, nil
}

// isTimeout はnet系エラーのタイムアウト判定を行う。
func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// compile-time interface check
var _ TransactionFetcher = (*Client)(nil)
