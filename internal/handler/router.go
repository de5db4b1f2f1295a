package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/spendsense/internal/metrics"
	"github.com/hitoshi/spendsense/internal/middleware"
)

// HealthChecker はヘルスチェック時のDB疎通確認インターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenValidator    middleware.TokenValidator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// マネーモーメント
	MomentService MomentServiceInterface
	SignalDeriver SignalDeriver

	// シグナル
	SignalService SignalServiceInterface

	// ナッジ
	NudgeEvaluator NudgeEvaluatorInterface
	NudgeProcessor NudgeProcessorInterface
	NudgeTracker   NudgeTrackerInterface

	// データライフサイクル
	LifecycleService DataLifecycleInterface

	// メトリクス
	Collector metrics.MetricsCollector
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → RateLimiter(General)
//
// 認証ルート（/auth/*）はセッションミドルウェアの外に配置する。
// モーメント計算（POST /v1/moneymoments/moments/compute）には計算専用レート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルート共通のミドルウェア。Recoveryを最上位に置き、
	// 後続ミドルウェア内のpanicも捕捉する。
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	momentHandler := NewMomentHandler(deps.MomentService, deps.SignalDeriver, deps.Collector)
	signalHandler := NewSignalHandler(deps.SignalService, deps.MomentService, deps.SignalDeriver)
	nudgeHandler := NewNudgeHandler(deps.NudgeEvaluator, deps.NudgeProcessor, deps.NudgeTracker)
	lifecycleHandler := NewLifecycleHandler(deps.LifecycleService)

	// --- 認証不要のルート ---

	// ヘルスチェック
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// 認証ルート（OAuthフロー＋セッション照合）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/session", authHandler.Session)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.TokenValidator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// マネーモーメント
		r.Route("/v1/moneymoments", func(r chi.Router) {
			r.Route("/moments", func(r chi.Router) {
				r.Get("/", momentHandler.ListMoments)

				// 台帳アクセスを伴うため計算専用レート制限を追加
				r.With(deps.RateLimiter.ComputeMiddleware()).Post("/compute", momentHandler.ComputeMoments)
			})

			// ゴールシグナル
			r.Route("/signals", func(r chi.Router) {
				r.Get("/", signalHandler.ListSignals)
				r.Post("/compute", signalHandler.ComputeSignals)
			})

			// ナッジ
			r.Route("/nudges", func(r chi.Router) {
				r.Get("/", nudgeHandler.ListNudges)
				r.Post("/evaluate", nudgeHandler.EvaluateNudges)
				r.Post("/process", nudgeHandler.ProcessNudges)
				r.Post("/{deliveryID}/interact", nudgeHandler.LogInteraction)
				r.Put("/rules/{ruleID}/suppression", nudgeHandler.SetSuppression)
			})
		})

		// データライフサイクル
		r.Delete("/v1/spendsense/data", lifecycleHandler.DeleteAllData)
	})

	return r
}
