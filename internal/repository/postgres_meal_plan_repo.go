package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MxmIv/foodPlanner/internal/model"
)

// PostgresMealPlanRepo はPostgreSQLを使用した献立リポジトリ。
type PostgresMealPlanRepo struct {
	db *sql.DB
}

// NewPostgresMealPlanRepo はPostgresMealPlanRepoを生成する。
func NewPostgresMealPlanRepo(db *sql.DB) *PostgresMealPlanRepo {
	return &PostgresMealPlanRepo{db: db}
}

// ListByDateRange はユーザーの[start, end]（両端含む）の献立を
// meal_date昇順で取得する。
func (r *PostgresMealPlanRepo) ListByDateRange(ctx context.Context, userID string, start, end time.Time) ([]*model.MealPlanEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, meal_date, meal_type, meal_name, updated_at
		 FROM meal_plans
		 WHERE user_id = $1 AND meal_date >= $2 AND meal_date <= $3
		 ORDER BY meal_date ASC`,
		userID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal plans: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ReplaceRange はユーザーの[start, end]の既存行を全削除し、entriesを挿入する。
// 削除と挿入は同一トランザクションで実行され、どちらかが失敗した場合は
// 何も適用されない。全置換のため、同一entriesでの再実行は冪等。
func (r *PostgresMealPlanRepo) ReplaceRange(ctx context.Context, userID string, start, end time.Time, entries []*model.MealPlanEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM meal_plans
		 WHERE user_id = $1 AND meal_date >= $2 AND meal_date <= $3`,
		userID, start, end,
	)
	if err != nil {
		return fmt.Errorf("failed to delete meal plans in range: %w", err)
	}

	for _, e := range entries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO meal_plans (user_id, meal_date, meal_type, meal_name, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.UserID, e.MealDate, string(e.MealType), e.MealName, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert meal plan entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListByDate はユーザーの指定日付の献立を取得する。
func (r *PostgresMealPlanRepo) ListByDate(ctx context.Context, userID string, date time.Time) ([]*model.MealPlanEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, meal_date, meal_type, meal_name, updated_at
		 FROM meal_plans
		 WHERE user_id = $1 AND meal_date = $2`,
		userID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal plans for date: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListRecentByType はユーザーの指定食事区分の献立をmeal_date降順で
// limit件まで取得する。
func (r *PostgresMealPlanRepo) ListRecentByType(ctx context.Context, userID string, mealType model.MealType, limit int) ([]*model.MealPlanEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, meal_date, meal_type, meal_name, updated_at
		 FROM meal_plans
		 WHERE user_id = $1 AND meal_type = $2
		 ORDER BY meal_date DESC
		 LIMIT $3`,
		userID, string(mealType), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListFrequentByType はユーザーの指定食事区分の献立名を出現回数の降順で
// limit件まで集計する。
func (r *PostgresMealPlanRepo) ListFrequentByType(ctx context.Context, userID string, mealType model.MealType, limit int) ([]model.MealFrequency, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT meal_name, count(*) AS cnt
		 FROM meal_plans
		 WHERE user_id = $1 AND meal_type = $2
		 GROUP BY meal_name
		 ORDER BY cnt DESC, meal_name ASC
		 LIMIT $3`,
		userID, string(mealType), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list frequent meals: %w", err)
	}
	defer rows.Close()

	var freqs []model.MealFrequency
	for rows.Next() {
		var f model.MealFrequency
		if err := rows.Scan(&f.MealName, &f.Count); err != nil {
			return nil, fmt.Errorf("failed to scan meal frequency: %w", err)
		}
		freqs = append(freqs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meal frequencies: %w", err)
	}

	return freqs, nil
}

// scanEntries はクエリ結果をMealPlanEntryのスライスに変換する。
func scanEntries(rows *sql.Rows) ([]*model.MealPlanEntry, error) {
	var entries []*model.MealPlanEntry
	for rows.Next() {
		e := &model.MealPlanEntry{}
		var mealType string
		if err := rows.Scan(&e.UserID, &e.MealDate, &mealType, &e.MealName, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan meal plan entry: %w", err)
		}
		e.MealType = model.MealType(mealType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meal plan entries: %w", err)
	}
	return entries, nil
}

// compile-time interface check
var _ MealPlanRepository = (*PostgresMealPlanRepo)(nil)
