// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, meal, calendar, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthInitFailed     = "AUTH_INIT_FAILED"
	ErrCodeTokenInvalid       = "TOKEN_INVALID"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeProvisioningFailed = "PROVISIONING_FAILED"
	ErrCodeInvalidMealType    = "INVALID_MEAL_TYPE"
	ErrCodeInvalidDate        = "INVALID_DATE"
	ErrCodeMealSaveFailed     = "MEAL_SAVE_FAILED"
	ErrCodeMealLoadFailed     = "MEAL_LOAD_FAILED"
	ErrCodeCalendarFailed     = "CALENDAR_UNAVAILABLE"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeSessionInvalid     = "SESSION_INVALID"
	ErrCodeCSRFValidation     = "CSRF_VALIDATION_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewAuthInitFailedError は認証基盤の初期化失敗エラーを生成する。
// ページロード中は回復不能であり、リロードによる再試行のみ可能。
func NewAuthInitFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthInitFailed,
		Message:  "認証サービスの初期化に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewTokenExpiredError はトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "認証トークンの有効期限が切れました。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewProvisioningFailedError はユーザー登録処理の失敗エラーを生成する。
// このエラーが発生した場合、呼び出し側はユーザーを認証済みとして扱ってはならない。
func NewProvisioningFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProvisioningFailed,
		Message:  "アカウントの登録処理に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewInvalidMealTypeError は無効な食事区分エラーを生成する。
func NewInvalidMealTypeError(mealType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMealType,
		Message:  fmt.Sprintf("無効な食事区分です: %s", mealType),
		Category: "validation",
		Action:   "食事区分には lunch または dinner を指定してください。",
	}
}

// NewInvalidDateError は無効な日付エラーを生成する。
func NewInvalidDateError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", date),
		Category: "validation",
		Action:   "日付はYYYY-MM-DD形式で指定してください。",
	}
}

// NewMealSaveFailedError は献立保存失敗エラーを生成する。
// 自動リトライは行わず、次回の編集による保存で回復する。
func NewMealSaveFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeMealSaveFailed,
		Message:  "献立の保存に失敗しました。",
		Category: "meal",
		Action:   "編集を続けると自動的に再保存されます。改善しない場合は再読み込みしてください。",
	}
}

// NewMealLoadFailedError は献立読み込み失敗エラーを生成する。
func NewMealLoadFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeMealLoadFailed,
		Message:  "献立の読み込みに失敗しました。",
		Category: "meal",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionInvalidError はセッションが不在または無効な場合のエラーを生成する。
func NewSessionInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionInvalid,
		Message:  "セッションが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCSRFValidationError はCSRFトークン検証の失敗エラーを生成する。
func NewCSRFValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFValidation,
		Message:  "リクエストの検証に失敗しました。",
		Category: "validation",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録し、
// ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
