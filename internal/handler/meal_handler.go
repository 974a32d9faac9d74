package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MxmIv/foodPlanner/internal/metrics"
	"github.com/MxmIv/foodPlanner/internal/middleware"
	"github.com/MxmIv/foodPlanner/internal/model"
)

const dateLayout = "2006-01-02"

// MealServiceInterface は献立ハンドラーが必要とするサービスインターフェース。
type MealServiceInterface interface {
	LoadWeek(ctx context.Context, userID string, weekStart time.Time) (*model.WeekPlan, error)
	SaveWeek(ctx context.Context, userID string, weekStart time.Time, plan *model.WeekPlan) error
	History(ctx context.Context, userID string, mealType model.MealType, limit int) ([]*model.MealPlanEntry, error)
	FrequentMeals(ctx context.Context, userID string, mealType model.MealType, limit int) ([]model.MealFrequency, error)
	MealsForDate(ctx context.Context, userID string, date time.Time) ([]*model.MealPlanEntry, error)
}

// MealEditorInterface はセル単位の編集を受け付けるインターフェース。
// mealplan.Debouncerが実装する。
type MealEditorInterface interface {
	Edit(ctx context.Context, userID string, weekStart time.Time, mealType model.MealType, day int, name string) error
}

// MealHandler は献立関連のHTTPハンドラー。
type MealHandler struct {
	service MealServiceInterface
	editor  MealEditorInterface
	metrics metrics.MetricsCollector
}

// NewMealHandler はMealHandlerを生成する。
func NewMealHandler(service MealServiceInterface, editor MealEditorInterface, collector metrics.MetricsCollector) *MealHandler {
	return &MealHandler{
		service: service,
		editor:  editor,
		metrics: collector,
	}
}

// GetWeek は週の献立グリッドを返す。
// GET /api/meals/week?start=2026-08-24
func (h *MealHandler) GetWeek(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	weekStart, ok := parseDateParam(w, r, "start")
	if !ok {
		return
	}

	plan, err := h.service.LoadWeek(r.Context(), userID, weekStart)
	if err != nil {
		slog.Error("failed to load week plan",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewMealLoadFailedError())
		return
	}

	writeJSON(w, map[string]interface{}{
		"weekStart": weekStart.Format(dateLayout),
		"plan":      plan,
	})
}

// putWeekRequest はPUT /api/meals/weekのリクエストボディ。
type putWeekRequest struct {
	Plan model.WeekPlan `json:"plan"`
}

// PutWeek は週の献立グリッド全体を保存する。
// PUT /api/meals/week?start=2026-08-24
func (h *MealHandler) PutWeek(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	weekStart, ok := parseDateParam(w, r, "start")
	if !ok {
		return
	}

	var req putWeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SaveWeek(r.Context(), userID, weekStart, &req.Plan); err != nil {
		h.metrics.RecordMealSave(false)
		slog.Error("failed to save week plan",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewMealSaveFailedError())
		return
	}
	h.metrics.RecordMealSave(true)

	w.WriteHeader(http.StatusNoContent)
}

// editRequest はPOST /api/meals/editのリクエストボディ。
type editRequest struct {
	WeekStart string `json:"weekStart"`
	MealType  string `json:"mealType"`
	Day       int    `json:"day"`
	MealName  string `json:"mealName"`
}

// Edit はセル単位の編集を受け付け、デバウンス保存に積む。
// 即時には保存せず、静穏期間の経過後にまとめて書き込まれる。
// POST /api/meals/edit
func (h *MealHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	weekStart, err := time.ParseInLocation(dateLayout, req.WeekStart, time.Local)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(req.WeekStart))
		return
	}
	mealType, err := model.ParseMealType(req.MealType)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidMealTypeError(req.MealType))
		return
	}

	if err := h.editor.Edit(r.Context(), userID, weekStart, mealType, req.Day, req.MealName); err != nil {
		slog.Error("failed to queue meal edit",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewMealSaveFailedError())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// History は指定食事区分の献立履歴を日付降順で返す。
// GET /api/meals/history?type=lunch&limit=20
func (h *MealHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	mealType, ok := parseMealTypeParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.History(r.Context(), userID, mealType, limit)
	if err != nil {
		slog.Error("failed to load meal history",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewMealLoadFailedError())
		return
	}

	items := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{
			"mealDate": e.MealDate.Format(dateLayout),
			"mealType": e.MealType,
			"mealName": e.MealName,
		})
	}
	writeJSON(w, map[string]interface{}{"items": items})
}

// Suggestions は指定食事区分の献立名を頻度順で返す。
// GET /api/meals/suggestions?type=dinner&limit=10
func (h *MealHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	mealType, ok := parseMealTypeParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	freqs, err := h.service.FrequentMeals(r.Context(), userID, mealType, limit)
	if err != nil {
		slog.Error("failed to load meal suggestions",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewMealLoadFailedError())
		return
	}

	writeJSON(w, map[string]interface{}{"items": freqs})
}

// ByDate は指定日付の全献立を返す。
// GET /api/meals/date?date=2026-08-24
func (h *MealHandler) ByDate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	date, ok := parseDateParam(w, r, "date")
	if !ok {
		return
	}

	entries, err := h.service.MealsForDate(r.Context(), userID, date)
	if err != nil {
		slog.Error("failed to load meals for date",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewMealLoadFailedError())
		return
	}

	items := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{
			"mealType": e.MealType,
			"mealName": e.MealName,
		})
	}
	writeJSON(w, map[string]interface{}{
		"date":  date.Format(dateLayout),
		"items": items,
	})
}

// parseDateParam はクエリパラメータから日付を取り出す。
// 不正な場合はエラーレスポンスを書き込んでfalseを返す。
func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	date, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(raw))
		return time.Time{}, false
	}
	return date, true
}

// parseMealTypeParam はクエリパラメータから食事区分を取り出す。
func parseMealTypeParam(w http.ResponseWriter, r *http.Request) (model.MealType, bool) {
	raw := r.URL.Query().Get("type")
	mealType, err := model.ParseMealType(raw)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidMealTypeError(raw))
		return "", false
	}
	return mealType, true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
