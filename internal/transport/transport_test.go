package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/spendsense/internal/model"
	"github.com/hitoshi/spendsense/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func testDelivery() *model.NudgeDelivery {
	cta := "確認する"
	link := "app://moments/2026-07"
	return &model.NudgeDelivery{
		ID:           "delivery-1",
		UserID:       "user-1",
		RuleID:       "rule-spending-spike",
		TemplateCode: "spending_spike_v1",
		Channel:      "push",
		Title:        "外食費が増えています",
		Body:         "今月の外食費が通常より増えています。",
		CTAText:      &cta,
		CTADeeplink:  &link,
		Metadata:     map[string]string{"month": "2026-07"},
		SendStatus:   model.SendStatusPending,
	}
}

func TestLogTransport_AlwaysSucceeds(t *testing.T) {
	tr := NewLogTransport(testLogger())

	if err := tr.Deliver(context.Background(), testDelivery()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
}

func TestWebhookTransport_RejectsInternalURL(t *testing.T) {
	guard := security.NewSSRFGuard()

	for _, url := range []string{
		"http://localhost:9000/hook",
		"http://127.0.0.1/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://192.168.1.10/hook",
		"ftp://example.com/hook",
	} {
		if _, err := NewWebhookTransport(guard, url, time.Second, testLogger()); err == nil {
			t.Errorf("expected validation error for %q", url)
		}
	}
}

// permissiveGuard はテスト用にURL検証を通し、素のHTTPクライアントを返す。
// httptestサーバーはループバックで動くため本物のガードでは到達できない。
type permissiveGuard struct{}

func (permissiveGuard) ValidateURL(string) error { return nil }
func (permissiveGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

var _ security.SSRFGuardService = permissiveGuard{}

func TestWebhookTransport_PostsPayload(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr, err := NewWebhookTransport(permissiveGuard{}, server.URL, 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewWebhookTransport() error = %v", err)
	}

	if err := tr.Deliver(context.Background(), testDelivery()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if received.DeliveryID != "delivery-1" {
		t.Errorf("delivery_id = %q, want delivery-1", received.DeliveryID)
	}
	if received.Title != "外食費が増えています" {
		t.Errorf("unexpected title: %q", received.Title)
	}
	if received.CTAText == nil || *received.CTAText != "確認する" {
		t.Error("expected cta_text in payload")
	}
	if received.Metadata["month"] != "2026-07" {
		t.Errorf("metadata month = %q, want 2026-07", received.Metadata["month"])
	}
}

func TestWebhookTransport_NonSuccessStatus_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr, err := NewWebhookTransport(permissiveGuard{}, server.URL, 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewWebhookTransport() error = %v", err)
	}

	err = tr.Deliver(context.Background(), testDelivery())
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should mention status, got %v", err)
	}
}
