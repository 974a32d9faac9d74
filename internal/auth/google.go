package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultGoogleAuthURL      = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	defaultGoogleTokenInfoURL = "https://www.googleapis.com/oauth2/v3/tokeninfo"
	defaultGoogleUserInfoURL  = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultGoogleRevokeURL    = "https://oauth2.googleapis.com/revoke"

	// カレンダー読み取りとユーザー情報取得に必要なスコープ一式
	oauthScopes = "https://www.googleapis.com/auth/calendar.readonly openid email profile"
)

// プロバイダーの初期化状態
const (
	stateUninitialized int32 = iota
	stateReady
	stateInitError
)

// GoogleConfig はGoogle OAuthプロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL      string
	TokenURL     string
	TokenInfoURL string
	UserInfoURL  string
	RevokeURL    string

	// HTTPクライアントのタイムアウト。ゼロ値の場合は10秒
	Timeout time.Duration
}

// GoogleProvider はGoogle OAuth 2.0による認証を提供する。
// Uninitialized → Initialize() → Ready | InitError の状態機械を持ち、
// InitErrorはプロセスの生存期間中は終端状態。
type GoogleProvider struct {
	config GoogleConfig
	client *http.Client
	state  atomic.Int32
}

// NewGoogleProvider はGoogleProviderを生成する。初期状態はUninitialized。
func NewGoogleProvider(config GoogleConfig) *GoogleProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultGoogleRevokeURL
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GoogleProvider{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// Initialize はプロバイダーをReady状態に遷移させる。
// クライアントIDとシークレットの欠落は設定不備として初期化失敗とし、
// 以後の全メソッドはErrInitFailedを返す。
func (p *GoogleProvider) Initialize(ctx context.Context) error {
	if p.state.Load() == stateInitError {
		return ErrInitFailed
	}
	if p.config.ClientID == "" || p.config.ClientSecret == "" {
		p.state.Store(stateInitError)
		return fmt.Errorf("%w: missing client credentials", ErrInitFailed)
	}
	p.state.Store(stateReady)
	return nil
}

// Ready は初期化済みで使用可能かどうかを返す。
func (p *GoogleProvider) Ready() bool {
	return p.state.Load() == stateReady
}

// checkReady は現在の状態に応じたエラーを返す。
func (p *GoogleProvider) checkReady() error {
	switch p.state.Load() {
	case stateReady:
		return nil
	case stateInitError:
		return ErrInitFailed
	default:
		return ErrNotReady
	}
}

// GetLoginURL はGoogle OAuthの同意画面URLを生成する。
func (p *GoogleProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {oauthScopes},
		"state":         {state},
		"access_type":   {"offline"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// 200応答でaccess_tokenが空の場合もエラーとする。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}

	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &TokenResponse{
		AccessToken: tokenResp.AccessToken,
		ExpiresIn:   tokenResp.ExpiresIn,
		Error:       tokenResp.Error,
	}, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// FetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleProvider) FetchUserInfo(ctx context.Context, token string) (*UserInfo, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo googleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.Sub == "" || userInfo.Email == "" {
		return nil, fmt.Errorf("incomplete user info in response")
	}

	return &UserInfo{Sub: userInfo.Sub, Email: userInfo.Email}, nil
}

// googleTokenInfo はトークン検証エンドポイントのレスポンス。
// expは文字列のUNIX秒として返る。
type googleTokenInfo struct {
	Aud string `json:"aud"`
	Exp string `json:"exp"`
}

// ValidateToken はトークンのaudienceと有効期限を検証する。
// audienceが自アプリのクライアントIDと一致し、かつ有効期限（プロバイダー時計）が
// 厳密に未来である場合のみtrueを返す。空トークン、通信失敗、非200応答、
// 不正な応答形式はすべてfalse（フェイルクローズ）。
func (p *GoogleProvider) ValidateToken(ctx context.Context, token string) bool {
	if p.state.Load() != stateReady {
		return false
	}
	if token == "" {
		return false
	}

	u := p.config.TokenInfoURL + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}

	var info googleTokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return false
	}

	if info.Aud != p.config.ClientID {
		return false
	}

	exp, err := strconv.ParseInt(info.Exp, 10, 64)
	if err != nil {
		return false
	}

	return exp > time.Now().Unix()
}

// Revoke はトークンを失効させる。ベストエフォートであり、
// 失敗してもローカルのログアウト処理をブロックしない。
func (p *GoogleProvider) Revoke(ctx context.Context, token string) error {
	if err := p.checkReady(); err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	u := p.config.RevokeURL + "?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke failed with status %d", resp.StatusCode)
	}

	return nil
}

// compile-time interface check
var _ Provider = (*GoogleProvider)(nil)
