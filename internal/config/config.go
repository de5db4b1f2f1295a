package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string

	// Session
	SessionMaxAge int

	// Ledger（取引台帳）
	LedgerBaseURL string
	LedgerTimeout time.Duration

	// Nudge
	WebhookURL      string // 空の場合はログ出力トランスポートを使用する
	WebhookTimeout  time.Duration
	ProcessBatchMax int

	// Worker
	SweepInterval      time.Duration
	SweepMaxConcurrent int
	ComputeCronSpec    string
	EventRetentionDays int

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitCompute int

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（ローカル開発用。
// 既存の環境変数は上書きしない）。必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envはあれば読む。無くてもエラーにしない。
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
	if cfg.OAuthClientID == "" {
		missing = append(missing, "OAUTH_CLIENT_ID")
	}

	cfg.OAuthClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
	if cfg.OAuthClientSecret == "" {
		missing = append(missing, "OAUTH_CLIENT_SECRET")
	}

	cfg.OAuthRedirectURL = os.Getenv("OAUTH_REDIRECT_URL")
	if cfg.OAuthRedirectURL == "" {
		missing = append(missing, "OAUTH_REDIRECT_URL")
	}

	cfg.LedgerBaseURL = os.Getenv("LEDGER_BASE_URL")
	if cfg.LedgerBaseURL == "" {
		missing = append(missing, "LEDGER_BASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.LedgerTimeout = getEnvDuration("LEDGER_TIMEOUT", 10*time.Second)
	cfg.WebhookURL = getEnvString("NUDGE_WEBHOOK_URL", "")
	cfg.WebhookTimeout = getEnvDuration("NUDGE_WEBHOOK_TIMEOUT", 10*time.Second)
	cfg.ProcessBatchMax = getEnvInt("PROCESS_BATCH_MAX", 50)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 15*time.Minute)
	cfg.SweepMaxConcurrent = getEnvInt("SWEEP_MAX_CONCURRENT", 10)
	cfg.ComputeCronSpec = getEnvString("COMPUTE_CRON_SPEC", "0 2 1 * *")
	cfg.EventRetentionDays = getEnvInt("EVENT_RETENTION_DAYS", 365)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCompute = getEnvInt("RATE_LIMIT_COMPUTE", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if !strings.HasPrefix(cfg.LedgerBaseURL, "http://") && !strings.HasPrefix(cfg.LedgerBaseURL, "https://") {
		return nil, fmt.Errorf("LEDGER_BASE_URL must be an http(s) URL: %s", cfg.LedgerBaseURL)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
