// Package auth はGoogleをIdPとするOAuth認証クライアントを提供する。
package auth

import (
	"context"
	"errors"
)

var (
	// ErrNotReady はInitialize前にプロバイダーを使用した場合のエラー。
	ErrNotReady = errors.New("identity provider is not initialized")

	// ErrInitFailed は初期化に失敗したプロバイダーを使用した場合のエラー。
	// 初期化失敗はプロセスの生存期間中は終端状態であり、再起動（ブラウザ版で
	// いうページリロード）でのみ回復する。
	ErrInitFailed = errors.New("identity provider initialization failed")
)

// TokenResponse はトークン要求の結果を表す。
// SDKのコールバック形式を単発の非同期操作の結果値としてモデル化したもの。
// AccessTokenが空の場合は認可が得られなかったことを示し、呼び出し側は
// 回復可能エラーとして扱う（状態遷移しない）。
type TokenResponse struct {
	AccessToken string
	ExpiresIn   int    // 秒
	Error       string // プロバイダーが返したエラーコード（あれば）
}

// UserInfo はuserinfoエンドポイントから取得したユーザー情報を表す。
type UserInfo struct {
	Sub   string
	Email string
}

// Provider はOAuth認証プロバイダーのインターフェース。
type Provider interface {
	// Initialize はプロバイダーを使用可能状態に遷移させる。
	// 失敗した場合、以後の全メソッドはErrInitFailedを返す。
	Initialize(ctx context.Context) error

	// Ready は初期化済みで使用可能かどうかを返す。
	Ready() bool

	// GetLoginURL はOAuth同意画面のURLを生成する。
	GetLoginURL(state string) string

	// ExchangeCode は認可コードをアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)

	// FetchUserInfo はアクセストークンでユーザー情報を取得する。
	FetchUserInfo(ctx context.Context, token string) (*UserInfo, error)

	// ValidateToken はトークンのaudienceと有効期限を検証する。
	// audienceが自アプリのクライアントIDと一致し、かつ有効期限が厳密に
	// 未来である場合のみtrueを返す。通信失敗・不正応答は常にfalse
	// （フェイルクローズ）。
	ValidateToken(ctx context.Context, token string) bool

	// Revoke はトークンを失効させる。ベストエフォートであり、
	// 失敗してもローカルのログアウト処理をブロックしてはならない。
	Revoke(ctx context.Context, token string) error
}
