// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/MxmIv/foodPlanner/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はemail完全一致でユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// CreateMinimal はemailとgoogle_idのみでユーザーを作成する。
	// タイムスタンプはDBデフォルトに委ねる。ポリシー拒否時のリトライ用。
	CreateMinimal(ctx context.Context, id, email, googleID string) error

	// UpdateGoogleID は既存ユーザーのgoogle_idを更新する。
	UpdateGoogleID(ctx context.Context, id, googleID string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、meal_plansはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// MealPlanRepository は献立データの永続化インターフェース。
type MealPlanRepository interface {
	// ListByDateRange はユーザーの[start, end]（両端含む）の献立を
	// meal_date昇順で取得する。
	ListByDateRange(ctx context.Context, userID string, start, end time.Time) ([]*model.MealPlanEntry, error)

	// ReplaceRange はユーザーの[start, end]の既存行を全削除し、
	// entriesを挿入する。削除と挿入は同一トランザクションで実行され、
	// どちらかが失敗した場合は何も適用されない。
	ReplaceRange(ctx context.Context, userID string, start, end time.Time, entries []*model.MealPlanEntry) error

	// ListByDate はユーザーの指定日付の献立を取得する。
	ListByDate(ctx context.Context, userID string, date time.Time) ([]*model.MealPlanEntry, error)

	// ListRecentByType はユーザーの指定食事区分の献立をmeal_date降順で
	// limit件まで取得する。履歴表示用。
	ListRecentByType(ctx context.Context, userID string, mealType model.MealType, limit int) ([]*model.MealPlanEntry, error)

	// ListFrequentByType はユーザーの指定食事区分の献立名を出現回数の
	// 降順でlimit件まで集計する。提案機能用。
	ListFrequentByType(ctx context.Context, userID string, mealType model.MealType, limit int) ([]model.MealFrequency, error)
}
