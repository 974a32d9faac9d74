// Package credstore はユーザーごとの資格情報（Googleのsub、email、
// ベアラートークン）を保持するキーバリューストアを提供する。
//
// ブラウザ版のlocalStorageに相当する領域であり、複数インスタンス間で
// 共有される。書き込みの調整は行わず、変更通知（Watch）のみを提供する。
// 2つの書き込み元が交錯して不整合になる可能性はストレージ機構の
// 固有の制約として受容する。
package credstore

import (
	"context"

	"github.com/MxmIv/foodPlanner/internal/model"
)

// ChangeKind は資格情報の変更種別を表す。
type ChangeKind string

const (
	// ChangeSaved は資格情報が保存されたことを示す。
	ChangeSaved ChangeKind = "saved"
	// ChangeCleared は資格情報一式が削除されたことを示す（ログアウト）。
	ChangeCleared ChangeKind = "cleared"
	// ChangeTokenCleared はベアラートークンのみが破棄されたことを示す。
	// 401応答からの回復経路であり、ログアウトを意味しない。
	ChangeTokenCleared ChangeKind = "token_cleared"
)

// ChangeEvent は資格情報ストアの変更通知を表す。
// 他インスタンスからの変更も含めて配信される。
type ChangeEvent struct {
	UserID string     `json:"userId"`
	Kind   ChangeKind `json:"kind"`
}

// Store は資格情報ストアのインターフェース。
// 全操作はストレージ障害時にもpanicせず、エラー値またはnilで縮退する。
type Store interface {
	// Save はユーザーの資格情報一式を保存し、変更を通知する。
	// ストレージ障害時はエラーを返す。
	Save(ctx context.Context, userID string, cred *model.Credential) error

	// Get はユーザーの資格情報を取得する。
	// 未保存の場合はnil, nilを返す。ストレージ障害時もnil, nilを返し、
	// 呼び出し側は「資格情報なし」として扱う（フェイルソフト）。
	Get(ctx context.Context, userID string) *model.Credential

	// Clear はユーザーの資格情報を削除し、変更を通知する。冪等。
	Clear(ctx context.Context, userID string) error

	// ClearToken はベアラートークンのみを破棄する。subとemailは保持し、
	// 再ログイン時の復元に使用する。401応答からの回復経路用。
	ClearToken(ctx context.Context, userID string) error

	// Watch は変更通知チャネルを返す。コンテキストのキャンセルで購読は
	// 終了しチャネルはクローズされる。通知は受動的で、配送保証はない。
	Watch(ctx context.Context) (<-chan ChangeEvent, error)
}
