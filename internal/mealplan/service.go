// Package mealplan は週単位の献立の読み書きと自動保存を提供する。
package mealplan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MxmIv/foodPlanner/internal/model"
	"github.com/MxmIv/foodPlanner/internal/repository"
	"github.com/MxmIv/foodPlanner/internal/security"
)

// Service は献立の週単位ロード・保存と履歴・提案機能を提供する。
type Service struct {
	repo      repository.MealPlanRepository
	sanitizer security.MealNameSanitizerService
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(repo repository.MealPlanRepository, sanitizer security.MealNameSanitizerService, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// truncateToDate は時刻成分を落として日付のみにする。
func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// LoadWeek は週開始日から7日分の献立グリッドを取得する。
// 必ずゼロ値のグリッドから組み立てるため、前週の内容が持ち越される
// ことはない。範囲外や不明な食事区分の行は無視し、未入力スロットは
// 空文字列のままとなる。
func (s *Service) LoadWeek(ctx context.Context, userID string, weekStart time.Time) (*model.WeekPlan, error) {
	start := truncateToDate(weekStart)
	end := start.AddDate(0, 0, model.DaysInWeek-1)

	entries, err := s.repo.ListByDateRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load week plan: %w", err)
	}

	// 夏時間で1日が24時間にならない地域があるため、経過時間ではなく
	// 日付文字列でスロットを対応付ける
	offsets := make(map[string]int, model.DaysInWeek)
	for day := 0; day < model.DaysInWeek; day++ {
		offsets[start.AddDate(0, 0, day).Format("2006-01-02")] = day
	}

	plan := &model.WeekPlan{}
	for _, e := range entries {
		day, ok := offsets[e.MealDate.Format("2006-01-02")]
		if !ok {
			continue
		}
		if err := plan.Set(e.MealType, day, e.MealName); err != nil {
			continue
		}
	}
	return plan, nil
}

// SaveWeek は週の献立グリッド全体を保存する。
// 既存行の削除と新規行の挿入は単一トランザクションで行われ、
// 途中失敗で週が空になることはない。同じプランを二度保存しても
// 結果は同じ（冪等）。
func (s *Service) SaveWeek(ctx context.Context, userID string, weekStart time.Time, plan *model.WeekPlan) error {
	start := truncateToDate(weekStart)
	end := start.AddDate(0, 0, model.DaysInWeek-1)
	now := time.Now()

	var entries []*model.MealPlanEntry
	for day := 0; day < model.DaysInWeek; day++ {
		date := start.AddDate(0, 0, day)
		if name := s.sanitizer.Sanitize(plan.Lunch[day]); name != "" {
			entries = append(entries, &model.MealPlanEntry{
				UserID:    userID,
				MealDate:  date,
				MealType:  model.MealTypeLunch,
				MealName:  name,
				UpdatedAt: now,
			})
		}
		if name := s.sanitizer.Sanitize(plan.Dinner[day]); name != "" {
			entries = append(entries, &model.MealPlanEntry{
				UserID:    userID,
				MealDate:  date,
				MealType:  model.MealTypeDinner,
				MealName:  name,
				UpdatedAt: now,
			})
		}
	}

	if err := s.repo.ReplaceRange(ctx, userID, start, end, entries); err != nil {
		return fmt.Errorf("failed to save week plan: %w", err)
	}

	s.logger.Info("週プランを保存しました",
		slog.String("user_id", userID),
		slog.String("week_start", start.Format("2006-01-02")),
		slog.Int("entries", len(entries)))
	return nil
}

// History は指定食事区分の献立を日付の降順で取得する。
func (s *Service) History(ctx context.Context, userID string, mealType model.MealType, limit int) ([]*model.MealPlanEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.repo.ListRecentByType(ctx, userID, mealType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load meal history: %w", err)
	}
	return entries, nil
}

// FrequentMeals は指定食事区分の献立名を出現回数の降順で取得する。
func (s *Service) FrequentMeals(ctx context.Context, userID string, mealType model.MealType, limit int) ([]model.MealFrequency, error) {
	if limit <= 0 {
		limit = 10
	}
	freqs, err := s.repo.ListFrequentByType(ctx, userID, mealType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load frequent meals: %w", err)
	}
	return freqs, nil
}

// MealsForDate は指定日付の全献立を取得する。
func (s *Service) MealsForDate(ctx context.Context, userID string, date time.Time) ([]*model.MealPlanEntry, error) {
	entries, err := s.repo.ListByDate(ctx, userID, truncateToDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to load meals for date: %w", err)
	}
	return entries, nil
}
