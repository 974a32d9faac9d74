// Package calendar はGoogleカレンダーからの読み取り専用イベント取得を提供する。
// イベントは永続化せず、表示のたびにフェッチする。
package calendar

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

	"github.com/MxmIv/foodPlanner/internal/auth"
	"github.com/MxmIv/foodPlanner/internal/credstore"
	"github.com/MxmIv/foodPlanner/internal/model"
)

const defaultEventsURL = "https://www.googleapis.com/calendar/v3/calendars/primary/events"

var (
	// ErrNoToken は資格情報が存在しない場合に返される。
	// ログイン前の表示では正常系であり、呼び出し側は空表示に縮退する。
	ErrNoToken = errors.New("calendar: no access token")

	// ErrTokenExpired はトークンが無効または期限切れの場合に返される。
	// トークンは破棄済みであり、再ログインで回復する。
	// ログアウトまで進めるかどうかは呼び出し側が判断する。
	ErrTokenExpired = errors.New("calendar: access token expired")
)

// Result はイベント取得の結果を表す。取得は失敗してもpanicせず、
// 必ずItemsまたはErrのどちらかが設定されたResultを返す。
type Result struct {
	Items []model.CalendarEvent
	Err   error
}

// Fetcher はGoogleカレンダーAPIからイベントを取得する。
type Fetcher struct {
	creds     credstore.Store
	provider  auth.Provider
	client    *http.Client
	eventsURL string
	logger    *slog.Logger
}

// Config はFetcherの設定。
type Config struct {
	// EventsURL はテスト用にオーバーライド可能。空の場合は本番APIを使う。
	EventsURL string
	// Timeout はHTTPクライアントのタイムアウト。ゼロ値の場合は10秒。
	Timeout time.Duration
}

// NewFetcher はFetcherを生成する。
func NewFetcher(creds credstore.Store, provider auth.Provider, cfg Config, logger *slog.Logger) *Fetcher {
	eventsURL := cfg.EventsURL
	if eventsURL == "" {
		eventsURL = defaultEventsURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		creds:     creds,
		provider:  provider,
		client:    &http.Client{Timeout: timeout},
		eventsURL: eventsURL,
		logger:    logger,
	}
}

// GetEventsForRange は指定期間のイベントを取得する。
// プロバイダーが未初期化、資格情報なし、トークン無効のいずれでも
// エラー入りのResultを返して縮退し、決してpanicしない。
// 401応答ではトークンのみを破棄する。subとemailは保持され、
// 再ログインの手掛かりとして残る。
func (f *Fetcher) GetEventsForRange(ctx context.Context, userID string, timeMin, timeMax time.Time) Result {
	if !f.provider.Ready() {
		return Result{Err: ErrNoToken}
	}

	cred := f.creds.Get(ctx, userID)
	if cred == nil || cred.BearerToken == "" {
		return Result{Err: ErrNoToken}
	}

	if !f.provider.ValidateToken(ctx, cred.BearerToken) {
		f.clearToken(ctx, userID)
		return Result{Err: ErrTokenExpired}
	}

	q := url.Values{}
	q.Set("timeMin", timeMin.Format(time.RFC3339))
	q.Set("timeMax", timeMax.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.eventsURL+"?"+q.Encode(), nil)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to build calendar request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+cred.BearerToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to fetch calendar events: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		f.clearToken(ctx, userID)
		return Result{Err: ErrTokenExpired}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{Err: fmt.Errorf("calendar API returned status %d: %s", resp.StatusCode, string(body))}
	}

	var payload struct {
		Items []model.CalendarEvent `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{Err: fmt.Errorf("failed to decode calendar response: %w", err)}
	}

	f.logger.Debug("カレンダーイベントを取得しました",
		slog.String("user_id", userID),
		slog.Int("count", len(payload.Items)))
	return Result{Items: payload.Items}
}

func (f *Fetcher) clearToken(ctx context.Context, userID string) {
	if err := f.creds.ClearToken(ctx, userID); err != nil {
		f.logger.Warn("トークンの破棄に失敗しました",
			slog.String("error", err.Error()))
	}
}

// BucketByDay はイベントを週の各日に振り分ける。
// 比較はイベント開始時刻のローカル日付成分（年・月・日）同士で行う。
// 瞬間同士のタイムゾーン変換比較ではないため、端末と異なるゾーンの
// イベントは日境界付近で前後の日に入ることがある。この挙動は既知の
// 制約として維持している。
func BucketByDay(items []model.CalendarEvent, weekDates [model.DaysInWeek]time.Time) [model.DaysInWeek][]model.CalendarEvent {
	var buckets [model.DaysInWeek][]model.CalendarEvent
	for _, item := range items {
		y, m, d, ok := startDate(item.Start)
		if !ok {
			continue
		}
		for i, date := range weekDates {
			dy, dm, dd := date.Date()
			if y == dy && m == dm && d == dd {
				buckets[i] = append(buckets[i], item)
				break
			}
		}
	}
	return buckets
}

// startDate はイベント開始からローカル日付成分を取り出す。
// 終日イベント（date）と時刻付きイベント（dateTime）の両方に対応する。
func startDate(start model.EventTime) (int, time.Month, int, bool) {
	if start.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", start.Date, time.Local)
		if err != nil {
			return 0, 0, 0, false
		}
		y, m, d := t.Date()
		return y, m, d, true
	}
	if start.DateTime != "" {
		t, err := time.Parse(time.RFC3339, start.DateTime)
		if err != nil {
			return 0, 0, 0, false
		}
		y, m, d := t.In(time.Local).Date()
		return y, m, d, true
	}
	return 0, 0, 0, false
}
