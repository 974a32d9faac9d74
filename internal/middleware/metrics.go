package middleware

import "net/http"

// NewMetricsMiddleware はレスポンスのステータスコードをコールバックに渡す
// ミドルウェアを返す。Prometheusコレクターへの記録に使用する。
func NewMetricsMiddleware(record func(statusCode int)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rec, r)
			record(rec.statusCode)
		})
	}
}
