package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MxmIv/foodPlanner/internal/metrics"
	"github.com/MxmIv/foodPlanner/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 献立
	MealService MealServiceInterface
	MealEditor  MealEditorInterface

	// カレンダー
	CalendarFetcher CalendarFetcherInterface

	// メトリクス
	Metrics metrics.MetricsCollector
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS
//	→ SessionMiddleware → CSRF → RateLimitMiddleware(GeneralMiddleware)
//
// 認証ルート（/auth/*）とヘルスチェックはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェア
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics.RecordHTTPStatus))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.AuthConfig.CookieSecure,
		CookieDomain: deps.AuthConfig.CookieDomain,
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.Metrics)
	mealHandler := NewMealHandler(deps.MealService, deps.MealEditor, deps.Metrics)
	calendarHandler := NewCalendarHandler(deps.CalendarFetcher, deps.Metrics)

	// --- 認証不要のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// フロントエンドがX-CSRF-Tokenヘッダーに載せるトークンの取得
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 献立管理
		r.Route("/api/meals", func(r chi.Router) {
			// 書き込み系には保存専用レート制限を追加
			r.With(deps.RateLimiter.SaveMiddleware()).Put("/week", mealHandler.PutWeek)
			r.With(deps.RateLimiter.SaveMiddleware()).Post("/edit", mealHandler.Edit)

			r.Get("/week", mealHandler.GetWeek)
			r.Get("/history", mealHandler.History)
			r.Get("/suggestions", mealHandler.Suggestions)
			r.Get("/date", mealHandler.ByDate)
		})

		// カレンダー
		r.Get("/api/calendar/events", calendarHandler.Events)
	})

	return r
}
