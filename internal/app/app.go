// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/spendsense/internal/auth"
	"github.com/hitoshi/spendsense/internal/config"
	"github.com/hitoshi/spendsense/internal/database"
	"github.com/hitoshi/spendsense/internal/handler"
	"github.com/hitoshi/spendsense/internal/ledger"
	"github.com/hitoshi/spendsense/internal/lifecycle"
	"github.com/hitoshi/spendsense/internal/logger"
	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/middleware"
	"github.com/hitoshi/spendsense/internal/moment"
	"github.com/hitoshi/spendsense/internal/nudge"
	"github.com/hitoshi/spendsense/internal/repository"
	"github.com/hitoshi/spendsense/internal/security"
	"github.com/hitoshi/spendsense/internal/signal"
	"github.com/hitoshi/spendsense/internal/transport"
	computejob "github.com/hitoshi/spendsense/internal/worker/compute"
	"github.com/hitoshi/spendsense/internal/worker/retention"
	"github.com/hitoshi/spendsense/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はDB接続から組み上げたドメインサービス一式。
// serveとworkerで共通のワイヤリングをまとめる。
type services struct {
	registry *prometheus.Registry

	userRepo        repository.UserRepository
	sessionRepo     repository.SessionRepository
	interactionRepo repository.InteractionRepository

	authService   *auth.Service
	momentService *moment.Service
	signalService *signal.Service
	evaluator     *nudge.Evaluator
	processor     *nudge.Processor
	tracker       *nudge.Tracker
	lifecycle     *lifecycle.Service
	collector     *metrics.Collector
}

// buildServices は全ドメインサービスをワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB) (*services, error) {
	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	momentRepo := repository.NewPostgresMomentRepo(db)
	ruleRepo := repository.NewPostgresRuleRepo(db)
	ruleStateRepo := repository.NewPostgresRuleStateRepo(db)
	deliveryRepo := repository.NewPostgresDeliveryRepo(db)
	interactionRepo := repository.NewPostgresInteractionRepo(db)
	signalRepo := repository.NewPostgresSignalRepo(db)
	purgeRepo := repository.NewPostgresPurgeRepo(db)

	// セキュリティサービス
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 認証
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 取引台帳クライアントとモーメント計算
	ledgerClient := ledger.NewClient(cfg.LedgerBaseURL, cfg.LedgerTimeout, slog.Default())
	momentService := moment.NewService(momentRepo, ledgerClient, moment.NewDefaultAnalyzer(), sanitizer, nil)
	signalService := signal.NewService(signalRepo, nil)

	// ナッジトランスポート: Webhook URL未設定の場合はログ出力のみ
	var tr transport.Transport
	if cfg.WebhookURL != "" {
		webhook, err := transport.NewWebhookTransport(ssrfGuard, cfg.WebhookURL, cfg.WebhookTimeout, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook transport: %w", err)
		}
		tr = webhook
	} else {
		tr = transport.NewLogTransport(slog.Default())
	}

	evaluator := nudge.NewEvaluator(ruleRepo, ruleStateRepo, deliveryRepo, momentRepo, signalRepo, sanitizer, collector, nil)
	processor := nudge.NewProcessor(deliveryRepo, ruleStateRepo, tr, collector, nil, cfg.ProcessBatchMax)
	tracker := nudge.NewTracker(deliveryRepo, interactionRepo, collector, nil)

	lifecycleService := lifecycle.NewService(authService, purgeRepo, collector)

	return &services{
		registry:        registry,
		userRepo:        userRepo,
		sessionRepo:     sessionRepo,
		interactionRepo: interactionRepo,
		authService:     authService,
		momentService:   momentService,
		signalService:   signalService,
		evaluator:       evaluator,
		processor:       processor,
		tracker:         tracker,
		lifecycle:       lifecycleService,
		collector:       collector,
	}, nil
}

// startMetricsServer はPrometheusスクレイプ用のHTTPサーバーをバックグラウンドで起動する。
func startMetricsServer(port string, registry *prometheus.Registry) *http.Server {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: metrics.SetupMetricsRoute(registry),
	}

	go func() {
		slog.Info("metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	return server
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	svcs, err := buildServices(cfg, db)
	if err != nil {
		return err
	}

	// レート制限（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.ComputeRate = rate.Limit(float64(cfg.RateLimitCompute) / 60.0)
	rateLimiterCfg.ComputeBurst = cfg.RateLimitCompute
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		TokenValidator:    svcs.authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,

		AuthService: svcs.authService,
		AuthConfig:  handler.AuthHandlerConfig{CookieSecure: strings.HasPrefix(cfg.BaseURL, "https://")},

		MomentService: svcs.momentService,
		SignalDeriver: svcs.signalService,
		SignalService: svcs.signalService,

		NudgeEvaluator: svcs.evaluator,
		NudgeProcessor: svcs.processor,
		NudgeTracker:   svcs.tracker,

		LifecycleService: svcs.lifecycle,
		Collector:        svcs.collector,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := startMetricsServer(cfg.MetricsPort, svcs.registry)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ナッジスイープ、月次モーメント計算、保持期間管理の各ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	svcs, err := buildServices(cfg, db)
	if err != nil {
		return err
	}

	metricsServer := startMetricsServer(cfg.MetricsPort, svcs.registry)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Int("sweep_max_concurrent", cfg.SweepMaxConcurrent),
		slog.String("compute_cron_spec", cfg.ComputeCronSpec),
	)

	// 月次モーメント計算ジョブ（cron）
	computeJob := computejob.NewJob(svcs.userRepo, svcs.momentService, svcs.signalService, slog.Default(), nil)
	cronRunner, err := computeJob.Start(ctx, cfg.ComputeCronSpec)
	if err != nil {
		return fmt.Errorf("failed to start compute job: %w", err)
	}
	defer cronRunner.Stop()

	// 保持期間管理ジョブを日次でバックグラウンド実行
	retentionJob := retention.NewJob(svcs.sessionRepo, svcs.interactionRepo, slog.Default(), cfg.EventRetentionDays, nil)
	go retentionJob.Start(ctx)

	// ナッジスイープをメインgoroutineで実行（ブロッキング）
	sweeper := sweep.NewSweeper(svcs.userRepo, svcs.evaluator, svcs.processor, svcs.collector, slog.Default(), cfg.SweepMaxConcurrent)
	sweeper.Start(ctx, cfg.SweepInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
