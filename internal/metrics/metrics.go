// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordLogin()
	RecordLogout()
	RecordTokenValidation(valid bool)
	RecordMealSave(success bool)
	RecordCalendarFetch(success bool)
	RecordCalendarLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          prometheus.Counter
	logouts         prometheus.Counter
	tokenValid      prometheus.Counter
	tokenInvalid    prometheus.Counter
	mealSaveOK      prometheus.Counter
	mealSaveFail    prometheus.Counter
	calendarOK      prometheus.Counter
	calendarFail    prometheus.Counter
	calendarLatency prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_logins_total",
			Help: "ログイン完了の合計数",
		}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_logouts_total",
			Help: "ログアウトの合計数",
		}),
		tokenValid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_token_validation_success_total",
			Help: "トークン検証成功の合計数",
		}),
		tokenInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_token_validation_fail_total",
			Help: "トークン検証失敗の合計数",
		}),
		mealSaveOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_meal_save_success_total",
			Help: "献立保存成功の合計数",
		}),
		mealSaveFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_meal_save_fail_total",
			Help: "献立保存失敗の合計数",
		}),
		calendarOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_calendar_fetch_success_total",
			Help: "カレンダー取得成功の合計数",
		}),
		calendarFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foodplanner_calendar_fetch_fail_total",
			Help: "カレンダー取得失敗の合計数",
		}),
		calendarLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "foodplanner_calendar_fetch_latency_seconds",
			Help:    "カレンダー取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodplanner_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.logouts,
		c.tokenValid,
		c.tokenInvalid,
		c.mealSaveOK,
		c.mealSaveFail,
		c.calendarOK,
		c.calendarFail,
		c.calendarLatency,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン完了を記録する。
func (c *Collector) RecordLogin() {
	c.logins.Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordTokenValidation はトークン検証の結果を記録する。
func (c *Collector) RecordTokenValidation(valid bool) {
	if valid {
		c.tokenValid.Inc()
	} else {
		c.tokenInvalid.Inc()
	}
}

// RecordMealSave は献立保存の結果を記録する。
func (c *Collector) RecordMealSave(success bool) {
	if success {
		c.mealSaveOK.Inc()
	} else {
		c.mealSaveFail.Inc()
	}
}

// RecordCalendarFetch はカレンダー取得の結果を記録する。
func (c *Collector) RecordCalendarFetch(success bool) {
	if success {
		c.calendarOK.Inc()
	} else {
		c.calendarFail.Inc()
	}
}

// RecordCalendarLatency はカレンダー取得のレイテンシを記録する。
func (c *Collector) RecordCalendarLatency(duration time.Duration) {
	c.calendarLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
