// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// emailが正準の検索キーであり、一意制約を持つ。
// GoogleIDは外部IdPとの照合専用フィールドで、再同意等で変わり得る。
type User struct {
	ID        string
	Email     string
	GoogleID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
