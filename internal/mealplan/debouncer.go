package mealplan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MxmIv/foodPlanner/internal/credstore"
	"github.com/MxmIv/foodPlanner/internal/model"
)

// DefaultDebounceDelay は自動保存の静穏期間のデフォルト値。
const DefaultDebounceDelay = time.Second

// draftKey は(ユーザー, 週)ごとのドラフトを識別する。
type draftKey struct {
	userID    string
	weekStart string // "2006-01-02"
}

// draft は保存待ちの週グリッドとそのタイマーを保持する。
type draft struct {
	weekStart time.Time
	plan      model.WeekPlan
	timer     *time.Timer
}

// Debouncer はセル単位の編集を(ユーザー, 週)ごとに集約し、
// 静穏期間の経過後にまとめて保存する。編集のたびにタイマーは
// リセットされ、最後の編集内容が保存される（last-write-wins）。
// タイマーレベルでの直列化のみを行い、既に開始された保存同士の
// 競合は調整しない。
type Debouncer struct {
	service *Service
	creds   credstore.Store
	delay   time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	drafts  map[draftKey]*draft
	stopped bool
}

// NewDebouncer はDebouncerを生成する。delayが0以下の場合はデフォルト値を使う。
func NewDebouncer(service *Service, creds credstore.Store, delay time.Duration, logger *slog.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{
		service: service,
		creds:   creds,
		delay:   delay,
		logger:  logger,
	}
}

// Edit は1セルの編集をドラフトに反映し、保存タイマーを再設定する。
// ドラフトの初回作成時は保存済みの週グリッドを読み込んで初期化する。
// 保存は全置換であるため、編集していないセルも元の内容を保持したまま
// 書き戻される必要がある。
func (d *Debouncer) Edit(ctx context.Context, userID string, weekStart time.Time, mealType model.MealType, day int, name string) error {
	start := truncateToDate(weekStart)
	key := draftKey{userID: userID, weekStart: start.Format("2006-01-02")}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("mealplan: debouncer is stopped")
	}
	dr, ok := d.drafts[key]
	d.mu.Unlock()

	if !ok {
		plan, err := d.service.LoadWeek(ctx, userID, start)
		if err != nil {
			return fmt.Errorf("failed to seed draft: %w", err)
		}
		dr = &draft{weekStart: start, plan: *plan}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return fmt.Errorf("mealplan: debouncer is stopped")
	}
	// ロック解放中に他の編集が先にドラフトを作成していればそちらを使う
	if existing, ok := d.drafts[key]; ok {
		dr = existing
	} else {
		if d.drafts == nil {
			d.drafts = make(map[draftKey]*draft)
		}
		d.drafts[key] = dr
	}

	if err := dr.plan.Set(mealType, day, name); err != nil {
		return err
	}

	if dr.timer == nil {
		dr.timer = time.AfterFunc(d.delay, func() { d.flushKey(key) })
	} else {
		dr.timer.Reset(d.delay)
	}
	return nil
}

// flushKey はドラフトを取り出して保存する。タイマー発火時の経路。
func (d *Debouncer) flushKey(key draftKey) {
	d.mu.Lock()
	dr, ok := d.drafts[key]
	if ok {
		delete(d.drafts, key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.save(ctx, key.userID, dr)
}

// save は資格情報の存在と非空セルの有無を確認してから保存する。
// 未認証ユーザーの編集や全削除されたドラフトは書き込まない。
func (d *Debouncer) save(ctx context.Context, userID string, dr *draft) {
	cred := d.creds.Get(ctx, userID)
	if cred == nil || cred.BearerToken == "" {
		d.logger.Info("未認証のため自動保存をスキップします",
			slog.String("user_id", userID))
		return
	}
	if dr.plan.IsEmpty() {
		return
	}

	if err := d.service.SaveWeek(ctx, userID, dr.weekStart, &dr.plan); err != nil {
		d.logger.Error("自動保存に失敗しました",
			slog.String("user_id", userID),
			slog.String("week_start", dr.weekStart.Format("2006-01-02")),
			slog.String("error", err.Error()))
	}
}

// Flush は保存待ちの全ドラフトを即時に保存する。シャットダウン時に
// 未保存の編集を失わないための経路。
func (d *Debouncer) Flush(ctx context.Context) {
	d.mu.Lock()
	pending := make(map[draftKey]*draft, len(d.drafts))
	for key, dr := range d.drafts {
		if dr.timer != nil {
			dr.timer.Stop()
		}
		pending[key] = dr
		delete(d.drafts, key)
	}
	d.mu.Unlock()

	for key, dr := range pending {
		d.save(ctx, key.userID, dr)
	}
}

// Stop は全タイマーを取り消し、以後の編集を受け付けなくする。
// 保存待ちのドラフトは破棄される。既に開始された保存は中断しない。
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, dr := range d.drafts {
		if dr.timer != nil {
			dr.timer.Stop()
		}
		delete(d.drafts, key)
	}
}
