// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MealNameSanitizerService はユーザー入力の献立名をサニタイズし、
// 保存後の再表示時にXSS等のリスクが生じないようにする。
// bluemondayのStrictPolicyによりHTMLタグはすべて除去され、
// テキストのみが保存される。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MealNameSanitizerService は献立名サニタイズ機能のインターフェースを定義する。
// 献立の保存境界（Synchronizer）で使用される。
type MealNameSanitizerService interface {
	// Sanitize は献立名からHTMLタグをすべて除去し、前後の空白を取り除いて返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(name string) string
}

// mealNameSanitizer はMealNameSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type mealNameSanitizer struct {
	policy *bluemonday.Policy
}

// NewMealNameSanitizer はMealNameSanitizerServiceの新しいインスタンスを生成する。
// 献立名は純粋なテキストであるため、許可タグを一切持たないStrictPolicyを使用する。
func NewMealNameSanitizer() *mealNameSanitizer {
	return &mealNameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は献立名からHTMLタグをすべて除去し、前後の空白を取り除いて返す。
func (s *mealNameSanitizer) Sanitize(name string) string {
	return strings.TrimSpace(s.policy.Sanitize(name))
}
