package model

import (
	"fmt"
	"time"
)

// DaysInWeek は1週間のスロット数。週プランは常に月曜始まりの7日固定。
const DaysInWeek = 7

// MealType は食事区分を表す。
type MealType string

const (
	// MealTypeLunch は昼食を示す。
	MealTypeLunch MealType = "lunch"
	// MealTypeDinner は夕食を示す。
	MealTypeDinner MealType = "dinner"
)

// ParseMealType は文字列をMealTypeに変換する。
// lunch、dinner以外はエラーを返す。
func ParseMealType(s string) (MealType, error) {
	switch MealType(s) {
	case MealTypeLunch:
		return MealTypeLunch, nil
	case MealTypeDinner:
		return MealTypeDinner, nil
	default:
		return "", fmt.Errorf("unknown meal type: %q", s)
	}
}

// MealPlanEntry は1ユーザー・1日付・1食事区分の献立レコードを表す。
// (UserID, MealDate, MealType)の組で一意。
type MealPlanEntry struct {
	UserID    string
	MealDate  time.Time // 日付のみ有効。時刻成分は常に00:00:00
	MealType  MealType
	MealName  string
	UpdatedAt time.Time
}

// WeekPlan は週の献立グリッドを表す。
// 週開始日からの日オフセットでインデックスし、未入力スロットは空文字列。
type WeekPlan struct {
	Lunch  [DaysInWeek]string `json:"lunch"`
	Dinner [DaysInWeek]string `json:"dinner"`
}

// IsEmpty は全スロットが空かどうかを返す。
func (p *WeekPlan) IsEmpty() bool {
	for i := 0; i < DaysInWeek; i++ {
		if p.Lunch[i] != "" || p.Dinner[i] != "" {
			return false
		}
	}
	return true
}

// Set は指定スロットに献立名を設定する。範囲外の日はエラーを返す。
func (p *WeekPlan) Set(mealType MealType, day int, name string) error {
	if day < 0 || day >= DaysInWeek {
		return fmt.Errorf("day index out of range: %d", day)
	}
	switch mealType {
	case MealTypeLunch:
		p.Lunch[day] = name
	case MealTypeDinner:
		p.Dinner[day] = name
	default:
		return fmt.Errorf("unknown meal type: %q", mealType)
	}
	return nil
}

// MealFrequency は献立名ごとの出現回数を表す。提案機能で使用する。
type MealFrequency struct {
	MealName string `json:"mealName"`
	Count    int    `json:"count"`
}
