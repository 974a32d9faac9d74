package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MxmIv/foodPlanner/internal/calendar"
	"github.com/MxmIv/foodPlanner/internal/metrics"
	"github.com/MxmIv/foodPlanner/internal/middleware"
	"github.com/MxmIv/foodPlanner/internal/model"
)

// CalendarFetcherInterface はカレンダーハンドラーが必要とするインターフェース。
type CalendarFetcherInterface interface {
	GetEventsForRange(ctx context.Context, userID string, timeMin, timeMax time.Time) calendar.Result
}

// CalendarHandler はカレンダーイベント取得のHTTPハンドラー。
type CalendarHandler struct {
	fetcher CalendarFetcherInterface
	metrics metrics.MetricsCollector
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(fetcher CalendarFetcherInterface, collector metrics.MetricsCollector) *CalendarHandler {
	return &CalendarHandler{
		fetcher: fetcher,
		metrics: collector,
	}
}

// Events は指定期間のカレンダーイベントを返す。
// トークンがない場合は空のイベント一覧に縮退する（ログイン前の正常系）。
// トークン期限切れは401で返し、ログアウトまで進めるかはクライアントが判断する。
// GET /api/calendar/events?timeMin=...&timeMax=...（RFC3339）
func (h *CalendarHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	timeMin, ok := parseTimeParam(w, r, "timeMin")
	if !ok {
		return
	}
	timeMax, ok := parseTimeParam(w, r, "timeMax")
	if !ok {
		return
	}

	started := time.Now()
	result := h.fetcher.GetEventsForRange(r.Context(), userID, timeMin, timeMax)
	h.metrics.RecordCalendarLatency(time.Since(started))

	if result.Err != nil {
		switch {
		case errors.Is(result.Err, calendar.ErrNoToken):
			// 資格情報なしは空表示に縮退
			writeJSON(w, map[string]interface{}{"items": []model.CalendarEvent{}})
			return
		case errors.Is(result.Err, calendar.ErrTokenExpired):
			h.metrics.RecordCalendarFetch(false)
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenExpiredError())
			return
		default:
			h.metrics.RecordCalendarFetch(false)
			slog.Error("failed to fetch calendar events",
				slog.String("user_id", userID),
				slog.String("error", result.Err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusBadGateway, &model.APIError{
				Code:     "CALENDAR_FETCH_FAILED",
				Message:  "カレンダーの取得に失敗しました。",
				Category: "calendar",
				Action:   "しばらく待ってから再度お試しください。",
			})
			return
		}
	}
	h.metrics.RecordCalendarFetch(true)

	writeJSON(w, map[string]interface{}{"items": result.Items})
}

// parseTimeParam はクエリパラメータからRFC3339の時刻を取り出す。
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
		return time.Time{}, false
	}
	return t, true
}
