package model

import "time"

// Credential はGoogleから取得したベアラートークンと、
// 復元に必要な最小限のID情報の組を表す。
// 有効期限はトークン検証エンドポイントから導出されるものであり、
// Expiryは保存側TTLの目安としてのみ保持する。
type Credential struct {
	SubjectID   string    // Googleのsubクレーム
	Email       string    // Googleのemailクレーム
	BearerToken string    // アクセストークン
	Expiry      time.Time // 導出値。ゼロ値の場合は未知
}

// SessionState は認証状態のスナップショットを表す。
// 永続化されず、CredentialとUserから常に再構成される。
type SessionState struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	UserID          string `json:"userId,omitempty"`
	Email           string `json:"email,omitempty"`

	// Message は非致命的なエラーの通知文。UI側で閉じられることを想定し、
	// 設定されていてもレンダリングをブロックしない。
	Message string `json:"message,omitempty"`
}

// AnonymousState は未認証のSessionStateを返す。
func AnonymousState() SessionState {
	return SessionState{}
}
