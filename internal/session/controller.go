// Package session は認証状態の単一の管理点を提供する。
// 資格情報ストア、IDプロバイダー、ユーザーディレクトリを束ね、
// ユーザーごとのSessionStateスナップショットとイベント配信を担う。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MxmIv/foodPlanner/internal/auth"
	"github.com/MxmIv/foodPlanner/internal/credstore"
	"github.com/MxmIv/foodPlanner/internal/directory"
	"github.com/MxmIv/foodPlanner/internal/model"
	"github.com/MxmIv/foodPlanner/internal/repository"
)

// ErrNoAccessToken はトークン応答にアクセストークンが含まれない場合に
// 返される。回復可能なエラーであり、状態は変更されない。
var ErrNoAccessToken = errors.New("session: token response has no access token")

// EventKind は認証イベントの種別を表す。
type EventKind string

const (
	// EventAuthCompleted はログインが完了したことを示す。
	EventAuthCompleted EventKind = "auth_completed"
	// EventLoggedOut はログアウトが完了したことを示す。
	EventLoggedOut EventKind = "logged_out"
	// EventCredentialCleared は外部から資格情報が削除されたことを示す。
	EventCredentialCleared EventKind = "credential_cleared"
	// EventCredentialRestored は外部保存された資格情報の検証が
	// 完了したことを示す。
	EventCredentialRestored EventKind = "credential_restored"
)

// Event は認証状態の変化通知を表す。
type Event struct {
	Kind   EventKind
	UserID string
}

// UserMapper はGoogle認証情報から内部ユーザーを解決する。
type UserMapper interface {
	FindOrCreateUser(ctx context.Context, email, googleID string) (*model.User, error)
}

// Controller は認証状態のライフサイクル全体を管理する。
// 状態スナップショットは不変であり、State()は常にコピーを返す。
type Controller struct {
	provider auth.Provider
	creds    credstore.Store
	mapper   UserMapper
	sessions repository.SessionRepository
	logger   *slog.Logger

	sessionMaxAge time.Duration

	mu          sync.RWMutex
	states      map[string]model.SessionState
	initMessage string

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool

	selfMu    sync.Mutex
	selfSaved map[string]int

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewController はControllerを生成する。
func NewController(
	provider auth.Provider,
	creds credstore.Store,
	mapper UserMapper,
	sessions repository.SessionRepository,
	sessionMaxAge time.Duration,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		provider:      provider,
		creds:         creds,
		mapper:        mapper,
		sessions:      sessions,
		sessionMaxAge: sessionMaxAge,
		logger:        logger,
		states:        make(map[string]model.SessionState),
		subs:          make(map[int]chan Event),
		selfSaved:     make(map[string]int),
	}
}

// Initialize はプロバイダーを初期化し、資格情報ストアの監視を開始する。
// プロバイダーの初期化失敗は致命的エラーとしない: 未認証のまま稼働を
// 継続し、以後のState()にメッセージを載せる。
func (c *Controller) Initialize(ctx context.Context) error {
	if err := c.provider.Initialize(ctx); err != nil {
		c.logger.Error("IDプロバイダーの初期化に失敗しました",
			slog.String("error", err.Error()))
		c.mu.Lock()
		c.initMessage = model.NewAuthInitFailedError().Message
		c.mu.Unlock()
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	events, err := c.creds.Watch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch credential store: %w", err)
	}
	c.watchCancel = cancel
	c.watchDone = make(chan struct{})
	go c.watchLoop(watchCtx, events)
	return nil
}

// watchLoop は他インスタンスからの資格情報変更を状態に反映する。
func (c *Controller) watchLoop(ctx context.Context, events <-chan credstore.ChangeEvent) {
	defer close(c.watchDone)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case credstore.ChangeCleared:
				// 外部でのログアウト: サーバーセッションも無効化し、
				// ローカル状態を未認証へ
				if err := c.sessions.DeleteByUserID(ctx, ev.UserID); err != nil {
					c.logger.Warn("セッションの削除に失敗しました",
						slog.String("error", err.Error()))
				}
				c.setState(ev.UserID, c.anonymous())
				c.broadcast(Event{Kind: EventCredentialCleared, UserID: ev.UserID})
			case credstore.ChangeTokenCleared:
				// トークンのみの破棄（401応答からの回復経路）。
				// セッションは維持し、ログアウトするかどうかは
				// 呼び出し側の判断に委ねる。
			case credstore.ChangeSaved:
				// 自インスタンスの保存はHandleTokenResponseで状態確定済み。
				// 直後の再検証は一時的な障害で有効なトークンを破棄しうる
				if c.consumeSelfSave(ev.UserID) {
					continue
				}
				// 外部でのログイン: 検証を経て状態を復元する
				c.Restore(ctx, ev.UserID)
				c.broadcast(Event{Kind: EventCredentialRestored, UserID: ev.UserID})
			}
		}
	}
}

// Restore は保存済み資格情報から認証状態を復元する。
// 資格情報が存在すれば楽観的に認証済みとした上でトークンを検証し、
// 無効な場合は資格情報を削除して未認証に戻す。
// どの失敗経路でも必ず確定状態に到達する。
func (c *Controller) Restore(ctx context.Context, userID string) model.SessionState {
	cred := c.creds.Get(ctx, userID)
	if cred == nil || cred.BearerToken == "" {
		state := c.anonymous()
		c.setState(userID, state)
		return state
	}

	// 検証完了前に認証済みとして扱い、その後の検証結果で覆す
	optimistic := model.SessionState{
		IsAuthenticated: true,
		UserID:          userID,
		Email:           cred.Email,
	}
	c.setState(userID, optimistic)

	if !c.provider.ValidateToken(ctx, cred.BearerToken) {
		c.logger.Info("保存済みトークンが無効のため資格情報を破棄します",
			slog.String("user_id", userID))
		if err := c.creds.Clear(ctx, userID); err != nil {
			c.logger.Warn("資格情報の削除に失敗しました",
				slog.String("error", err.Error()))
		}
		state := c.anonymous()
		c.setState(userID, state)
		return state
	}
	return optimistic
}

// HandleTokenResponse はトークン交換の結果を処理してログインを完了する。
// アクセストークンを含まない応答はErrNoAccessTokenを返し、状態は
// 変更しない（回復可能）。成功時はサーバーセッションを発行して返す。
func (c *Controller) HandleTokenResponse(ctx context.Context, resp *auth.TokenResponse) (*model.Session, error) {
	if resp == nil || resp.AccessToken == "" {
		if resp != nil && resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoAccessToken, resp.Error)
		}
		return nil, ErrNoAccessToken
	}

	info, err := c.provider.FetchUserInfo(ctx, resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	user, err := c.mapper.FindOrCreateUser(ctx, info.Email, info.Sub)
	if err != nil {
		// プロビジョニング失敗を含め、ユーザーが確定しない限り認証しない
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	cred := &model.Credential{
		SubjectID:   info.Sub,
		Email:       info.Email,
		BearerToken: resp.AccessToken,
	}
	if resp.ExpiresIn > 0 {
		cred.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	// Saveの変更通知が自分のwatchLoopにも届くため、先に自己発行と
	// して記録しておく。保存失敗時は取り消す。
	c.markSelfSave(user.ID)
	if err := c.creds.Save(ctx, user.ID, cred); err != nil {
		c.consumeSelfSave(user.ID)
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}

	sess := &model.Session{
		ID:        newSessionID(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(c.sessionMaxAge),
		CreatedAt: time.Now(),
	}
	if err := c.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.setState(user.ID, model.SessionState{
		IsAuthenticated: true,
		UserID:          user.ID,
		Email:           user.Email,
	})
	c.broadcast(Event{Kind: EventAuthCompleted, UserID: user.ID})
	c.logger.Info("ログインが完了しました", slog.String("user_id", user.ID))
	return sess, nil
}

// GetLoginURL はOAuth同意画面のURLを返す。
func (c *Controller) GetLoginURL(state string) string {
	return c.provider.GetLoginURL(state)
}

// HandleCallback は認可コードをトークンに交換してログインを完了する。
// OAuthコールバックの処理経路。
func (c *Controller) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	resp, err := c.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return c.HandleTokenResponse(ctx, resp)
}

// LogoutBySession はセッションIDからユーザーを特定してログアウトする。
// セッションが見つからない場合は何もしない（冪等）。
func (c *Controller) LogoutBySession(ctx context.Context, sessionID string) {
	sess, err := c.sessions.FindByID(ctx, sessionID)
	if err != nil {
		c.logger.Warn("セッションの検索に失敗しました",
			slog.String("error", err.Error()))
		return
	}
	if sess == nil {
		return
	}
	c.Logout(ctx, sess.UserID, sessionID)
}

// StateBySession はセッションIDに対応する認証状態を返す。
// 状態が未復元の場合は資格情報からの復元を試みる。
// セッションが無効な場合は未認証状態を返す。
func (c *Controller) StateBySession(ctx context.Context, sessionID string) model.SessionState {
	sess, err := c.sessions.FindByID(ctx, sessionID)
	if err != nil || sess == nil {
		return c.anonymous()
	}
	state := c.State(sess.UserID)
	if !state.IsAuthenticated {
		state = c.Restore(ctx, sess.UserID)
	}
	return state
}

// Logout はログアウト処理を実行する。トークンの失効はベストエフォートで
// あり、失敗してもローカルの資格情報削除とセッション破棄は続行する。
func (c *Controller) Logout(ctx context.Context, userID, sessionID string) {
	if cred := c.creds.Get(ctx, userID); cred != nil && cred.BearerToken != "" {
		if err := c.provider.Revoke(ctx, cred.BearerToken); err != nil {
			c.logger.Warn("トークンの失効に失敗しました",
				slog.String("error", err.Error()))
		}
	}
	if err := c.creds.Clear(ctx, userID); err != nil {
		c.logger.Warn("資格情報の削除に失敗しました",
			slog.String("error", err.Error()))
	}
	if sessionID != "" {
		if err := c.sessions.DeleteByID(ctx, sessionID); err != nil {
			c.logger.Warn("セッションの削除に失敗しました",
				slog.String("error", err.Error()))
		}
	}
	c.setState(userID, c.anonymous())
	c.broadcast(Event{Kind: EventLoggedOut, UserID: userID})
	c.logger.Info("ログアウトしました", slog.String("user_id", userID))
}

// State は指定ユーザーの認証状態のスナップショットを返す。
func (c *Controller) State(userID string) model.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if state, ok := c.states[userID]; ok {
		return state
	}
	return c.anonymousLocked()
}

// Subscribe は認証イベントの購読チャネルと解除関数を返す。
// 配信は非ブロッキングであり、受信が追いつかないイベントは破棄される。
func (c *Controller) Subscribe() (<-chan Event, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, 8)
	c.subs[id] = ch
	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close は監視ループを停止し、全購読チャネルをクローズする。
func (c *Controller) Close() {
	if c.watchCancel != nil {
		c.watchCancel()
		<-c.watchDone
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// markSelfSave は自インスタンス発行の保存イベントを予約する。
func (c *Controller) markSelfSave(userID string) {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	c.selfSaved[userID]++
}

// consumeSelfSave は予約済みの自己発行イベントを1件消費する。
// 予約がなければfalseを返す（他インスタンス発の保存）。
func (c *Controller) consumeSelfSave(userID string) bool {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	if c.selfSaved[userID] == 0 {
		return false
	}
	c.selfSaved[userID]--
	if c.selfSaved[userID] == 0 {
		delete(c.selfSaved, userID)
	}
	return true
}

func (c *Controller) setState(userID string, state model.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[userID] = state
}

func (c *Controller) anonymous() model.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anonymousLocked()
}

func (c *Controller) anonymousLocked() model.SessionState {
	state := model.AnonymousState()
	state.Message = c.initMessage
	return state
}

func (c *Controller) broadcast(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// newSessionID は256ビットの不透明なセッションIDを生成する。
func newSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/randの失敗は環境異常であり継続不能
		panic(fmt.Sprintf("session: failed to generate session id: %v", err))
	}
	return hex.EncodeToString(b)
}

var _ UserMapper = (*directory.Mapper)(nil)
