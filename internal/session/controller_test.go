package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MxmIv/foodPlanner/internal/auth"
	"github.com/MxmIv/foodPlanner/internal/credstore"
	"github.com/MxmIv/foodPlanner/internal/model"
)

// mockProvider は関数フィールドで挙動を差し替えられるモック。
type mockProvider struct {
	initializeFunc    func(ctx context.Context) error
	readyFunc         func() bool
	exchangeCodeFunc  func(ctx context.Context, code string) (*auth.TokenResponse, error)
	fetchUserInfoFunc func(ctx context.Context, token string) (*auth.UserInfo, error)
	validateTokenFunc func(ctx context.Context, token string) bool
	revokeFunc        func(ctx context.Context, token string) error
}

func (m *mockProvider) Initialize(ctx context.Context) error {
	if m.initializeFunc != nil {
		return m.initializeFunc(ctx)
	}
	return nil
}

func (m *mockProvider) Ready() bool {
	if m.readyFunc != nil {
		return m.readyFunc()
	}
	return true
}

func (m *mockProvider) GetLoginURL(state string) string {
	return "https://example.com/auth?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (*auth.TokenResponse, error) {
	if m.exchangeCodeFunc != nil {
		return m.exchangeCodeFunc(ctx, code)
	}
	return &auth.TokenResponse{AccessToken: "tok"}, nil
}

func (m *mockProvider) FetchUserInfo(ctx context.Context, token string) (*auth.UserInfo, error) {
	if m.fetchUserInfoFunc != nil {
		return m.fetchUserInfoFunc(ctx, token)
	}
	return &auth.UserInfo{Sub: "g-sub", Email: "taro@example.com"}, nil
}

func (m *mockProvider) ValidateToken(ctx context.Context, token string) bool {
	if m.validateTokenFunc != nil {
		return m.validateTokenFunc(ctx, token)
	}
	return true
}

func (m *mockProvider) Revoke(ctx context.Context, token string) error {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, token)
	}
	return nil
}

type mockMapper struct {
	findOrCreateFunc func(ctx context.Context, email, googleID string) (*model.User, error)
}

func (m *mockMapper) FindOrCreateUser(ctx context.Context, email, googleID string) (*model.User, error) {
	if m.findOrCreateFunc != nil {
		return m.findOrCreateFunc(ctx, email, googleID)
	}
	return &model.User{ID: "user-1", Email: email, GoogleID: googleID}, nil
}

type mockSessionRepo struct {
	createFunc       func(ctx context.Context, session *model.Session) error
	findByIDFunc     func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFunc   func(ctx context.Context, id string) error
	deleteByUserFunc func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFunc != nil {
		return m.deleteByIDFunc(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserFunc != nil {
		return m.deleteByUserFunc(ctx, userID)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// waitForEvent は指定種別のイベントを受信するまで待つ。
// ストア経由の変更通知が交錯しても順序に依存しないようにする。
func waitForEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %q not received", kind)
			return Event{}
		}
	}
}

func newTestController(t *testing.T, provider *mockProvider, creds credstore.Store, mapper *mockMapper, sessions *mockSessionRepo) *Controller {
	t.Helper()
	if provider == nil {
		provider = &mockProvider{}
	}
	if creds == nil {
		creds = credstore.NewMemoryStore()
	}
	if mapper == nil {
		mapper = &mockMapper{}
	}
	if sessions == nil {
		sessions = &mockSessionRepo{}
	}
	c := NewController(provider, creds, mapper, sessions, 24*time.Hour, testLogger())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestInitialize_ProviderFailureStillReachesReady(t *testing.T) {
	provider := &mockProvider{
		initializeFunc: func(ctx context.Context) error {
			return auth.ErrInitFailed
		},
	}
	c := newTestController(t, provider, nil, nil, nil)

	state := c.State("user-1")
	if state.IsAuthenticated {
		t.Error("state should be unauthenticated after init failure")
	}
	if state.Message == "" {
		t.Error("state should carry an init failure message")
	}
}

func TestState_UnknownUserIsAnonymous(t *testing.T) {
	c := newTestController(t, nil, nil, nil, nil)

	state := c.State("nobody")
	if state.IsAuthenticated || state.UserID != "" {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestHandleTokenResponse_Success(t *testing.T) {
	creds := credstore.NewMemoryStore()
	var createdSession *model.Session
	sessions := &mockSessionRepo{
		createFunc: func(ctx context.Context, s *model.Session) error {
			createdSession = s
			return nil
		},
	}
	c := newTestController(t, nil, creds, nil, sessions)

	events, unsub := c.Subscribe()
	defer unsub()

	sess, err := c.HandleTokenResponse(context.Background(), &auth.TokenResponse{
		AccessToken: "tok-1",
		ExpiresIn:   3600,
	})
	if err != nil {
		t.Fatalf("HandleTokenResponse failed: %v", err)
	}
	if sess == nil || len(sess.ID) != 64 {
		t.Fatalf("expected 256-bit hex session id, got %+v", sess)
	}
	if createdSession == nil || createdSession.UserID != "user-1" {
		t.Errorf("session row not created for user-1: %+v", createdSession)
	}

	// 資格情報は内部ユーザーIDをキーに保存される
	cred := creds.Get(context.Background(), "user-1")
	if cred == nil || cred.BearerToken != "tok-1" {
		t.Fatalf("credential not saved under internal id: %+v", cred)
	}
	if cred.SubjectID != "g-sub" || cred.Email != "taro@example.com" {
		t.Errorf("unexpected credential identity: %+v", cred)
	}

	state := c.State("user-1")
	if !state.IsAuthenticated || state.Email != "taro@example.com" {
		t.Errorf("unexpected state: %+v", state)
	}

	ev := waitForEvent(t, events, EventAuthCompleted)
	if ev.UserID != "user-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHandleTokenResponse_NoAccessToken(t *testing.T) {
	creds := credstore.NewMemoryStore()
	c := newTestController(t, nil, creds, nil, nil)

	_, err := c.HandleTokenResponse(context.Background(), &auth.TokenResponse{Error: "access_denied"})
	if !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("err = %v, want ErrNoAccessToken", err)
	}

	// 状態は変更されない
	if c.State("user-1").IsAuthenticated {
		t.Error("state should remain unauthenticated")
	}
	if cred := creds.Get(context.Background(), "user-1"); cred != nil {
		t.Error("no credential should be saved")
	}
}

func TestHandleTokenResponse_ProvisioningFailure(t *testing.T) {
	mapper := &mockMapper{
		findOrCreateFunc: func(ctx context.Context, email, googleID string) (*model.User, error) {
			return nil, errors.New("directory: user provisioning failed")
		},
	}
	c := newTestController(t, nil, nil, mapper, nil)

	if _, err := c.HandleTokenResponse(context.Background(), &auth.TokenResponse{AccessToken: "tok"}); err == nil {
		t.Fatal("expected error")
	}
	if c.State("user-1").IsAuthenticated {
		t.Error("user must not be authenticated when provisioning fails")
	}
}

func TestRestore_ValidCredential(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{
		SubjectID:   "g-sub",
		Email:       "taro@example.com",
		BearerToken: "tok-1",
	})
	c := newTestController(t, nil, creds, nil, nil)

	state := c.Restore(context.Background(), "user-1")
	if !state.IsAuthenticated || state.Email != "taro@example.com" {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestRestore_InvalidTokenClearsCredential(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{
		BearerToken: "stale-token",
		Email:       "taro@example.com",
	})
	provider := &mockProvider{
		validateTokenFunc: func(ctx context.Context, token string) bool {
			return false
		},
	}
	c := newTestController(t, provider, creds, nil, nil)

	state := c.Restore(context.Background(), "user-1")
	if state.IsAuthenticated {
		t.Error("state should be unauthenticated after failed validation")
	}
	if cred := creds.Get(context.Background(), "user-1"); cred != nil {
		t.Error("invalid credential should be cleared")
	}
}

func TestRestore_NoCredential(t *testing.T) {
	c := newTestController(t, nil, nil, nil, nil)

	state := c.Restore(context.Background(), "user-1")
	if state.IsAuthenticated {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestLogout(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{BearerToken: "tok-1"})

	var revokedToken, deletedSession string
	provider := &mockProvider{
		revokeFunc: func(ctx context.Context, token string) error {
			revokedToken = token
			return nil
		},
	}
	sessions := &mockSessionRepo{
		deleteByIDFunc: func(ctx context.Context, id string) error {
			deletedSession = id
			return nil
		},
	}
	c := newTestController(t, provider, creds, nil, sessions)
	c.setState("user-1", model.SessionState{IsAuthenticated: true, UserID: "user-1"})

	events, unsub := c.Subscribe()
	defer unsub()

	c.Logout(context.Background(), "user-1", "sess-1")

	if revokedToken != "tok-1" {
		t.Errorf("revoked token = %q, want tok-1", revokedToken)
	}
	if deletedSession != "sess-1" {
		t.Errorf("deleted session = %q, want sess-1", deletedSession)
	}
	if creds.Get(context.Background(), "user-1") != nil {
		t.Error("credential should be cleared")
	}
	if c.State("user-1").IsAuthenticated {
		t.Error("state should be unauthenticated")
	}

	waitForEvent(t, events, EventLoggedOut)
}

func TestLogout_RevokeFailureDoesNotBlock(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{BearerToken: "tok-1"})
	provider := &mockProvider{
		revokeFunc: func(ctx context.Context, token string) error {
			return errors.New("revoke endpoint unreachable")
		},
	}
	c := newTestController(t, provider, creds, nil, nil)

	c.Logout(context.Background(), "user-1", "sess-1")

	if creds.Get(context.Background(), "user-1") != nil {
		t.Error("credential should be cleared even when revoke fails")
	}
}

func TestWatchLoop_ExternalClearForcesLogout(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{BearerToken: "tok-1"})
	c := newTestController(t, nil, creds, nil, nil)
	c.setState("user-1", model.SessionState{IsAuthenticated: true, UserID: "user-1"})

	events, unsub := c.Subscribe()
	defer unsub()

	// 他インスタンスからの削除を模す
	creds.Clear(context.Background(), "user-1")

	ev := waitForEvent(t, events, EventCredentialCleared)
	if ev.UserID != "user-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if c.State("user-1").IsAuthenticated {
		t.Error("external clear should force local logout state")
	}
}

func TestWatchLoop_ExternalClearInvalidatesServerSessions(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{BearerToken: "tok-1"})

	deleted := make(chan string, 1)
	sessions := &mockSessionRepo{
		deleteByUserFunc: func(ctx context.Context, userID string) error {
			deleted <- userID
			return nil
		},
	}
	c := newTestController(t, nil, creds, nil, sessions)
	c.setState("user-1", model.SessionState{IsAuthenticated: true, UserID: "user-1"})

	creds.Clear(context.Background(), "user-1")

	select {
	case userID := <-deleted:
		if userID != "user-1" {
			t.Errorf("deleted sessions for %q, want %q", userID, "user-1")
		}
	case <-time.After(time.Second):
		t.Fatal("expected server sessions to be deleted on external clear")
	}
}

func TestWatchLoop_TokenClearKeepsSessionUsable(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{
		BearerToken: "tok-1",
		Email:       "taro@example.com",
	})

	deleted := make(chan string, 1)
	sessions := &mockSessionRepo{
		deleteByUserFunc: func(ctx context.Context, userID string) error {
			deleted <- userID
			return nil
		},
	}
	c := newTestController(t, nil, creds, nil, sessions)
	c.setState("user-1", model.SessionState{IsAuthenticated: true, UserID: "user-1"})

	events, unsub := c.Subscribe()
	defer unsub()

	// カレンダーAPIの401からの回復経路を模す: トークンのみ破棄
	creds.ClearToken(context.Background(), "user-1")

	// 後続の外部保存イベントを待って、先行イベントの処理完了と同期する
	creds.Save(context.Background(), "user-1", &model.Credential{
		BearerToken: "tok-2",
		Email:       "taro@example.com",
	})
	waitForEvent(t, events, EventCredentialRestored)

	select {
	case userID := <-deleted:
		t.Errorf("token-only clear must not delete server sessions (deleted for %q)", userID)
	default:
	}
	if !c.State("user-1").IsAuthenticated {
		t.Error("token-only clear must not force logout state")
	}
}

func TestWatchLoop_ExternalSaveRestoresState(t *testing.T) {
	creds := credstore.NewMemoryStore()
	c := newTestController(t, nil, creds, nil, nil)

	events, unsub := c.Subscribe()
	defer unsub()

	// 他インスタンスからのログインを模す
	creds.Save(context.Background(), "user-1", &model.Credential{
		BearerToken: "tok-1",
		Email:       "taro@example.com",
	})

	ev := waitForEvent(t, events, EventCredentialRestored)
	if ev.UserID != "user-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if !c.State("user-1").IsAuthenticated {
		t.Error("external save should restore authenticated state")
	}
}

func TestWatchLoop_SkipsSelfOriginatedSave(t *testing.T) {
	validated := make(chan string, 8)
	provider := &mockProvider{
		// 再検証されると失敗し、有効なトークンが破棄されてしまう状況
		validateTokenFunc: func(ctx context.Context, token string) bool {
			validated <- token
			return false
		},
	}
	creds := credstore.NewMemoryStore()
	c := newTestController(t, provider, creds, nil, nil)

	events, unsub := c.Subscribe()
	defer unsub()

	if _, err := c.HandleTokenResponse(context.Background(), &auth.TokenResponse{AccessToken: "tok-1"}); err != nil {
		t.Fatalf("HandleTokenResponse failed: %v", err)
	}

	// 他ユーザーの外部保存イベントで、自己保存イベントの処理完了と同期する
	creds.Save(context.Background(), "user-2", &model.Credential{BearerToken: "tok-other"})
	waitForEvent(t, events, EventCredentialRestored)

	for {
		select {
		case token := <-validated:
			if token == "tok-1" {
				t.Fatal("watch loop must not re-validate a token this instance just saved")
			}
		default:
			if !c.State("user-1").IsAuthenticated {
				t.Error("self-originated save must not tear down the fresh login state")
			}
			return
		}
	}
}

func TestHandleCallback_ExchangesCodeAndLogsIn(t *testing.T) {
	provider := &mockProvider{
		exchangeCodeFunc: func(ctx context.Context, code string) (*auth.TokenResponse, error) {
			if code != "auth-code-1" {
				t.Errorf("code = %q", code)
			}
			return &auth.TokenResponse{AccessToken: "tok-1", ExpiresIn: 3600}, nil
		},
	}
	c := newTestController(t, provider, nil, nil, nil)

	sess, err := c.HandleCallback(context.Background(), "auth-code-1")
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if sess.UserID != "user-1" {
		t.Errorf("UserID = %q", sess.UserID)
	}
	if !c.State("user-1").IsAuthenticated {
		t.Error("user should be authenticated")
	}
}

func TestHandleCallback_ExchangeFailure(t *testing.T) {
	provider := &mockProvider{
		exchangeCodeFunc: func(ctx context.Context, code string) (*auth.TokenResponse, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	c := newTestController(t, provider, nil, nil, nil)

	if _, err := c.HandleCallback(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLogoutBySession(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{BearerToken: "tok-1"})
	sessions := &mockSessionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "sess-1" {
				return &model.Session{ID: "sess-1", UserID: "user-1"}, nil
			}
			return nil, nil
		},
	}
	c := newTestController(t, nil, creds, nil, sessions)

	c.LogoutBySession(context.Background(), "sess-1")

	if creds.Get(context.Background(), "user-1") != nil {
		t.Error("credential should be cleared")
	}
}

func TestLogoutBySession_UnknownSessionIsNoop(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{BearerToken: "tok-1"})
	c := newTestController(t, nil, creds, nil, nil)

	c.LogoutBySession(context.Background(), "unknown")

	if creds.Get(context.Background(), "user-1") == nil {
		t.Error("credential should survive unknown session logout")
	}
}

func TestStateBySession_RestoresWhenUnknown(t *testing.T) {
	creds := credstore.NewMemoryStore()
	creds.Save(context.Background(), "user-1", &model.Credential{
		BearerToken: "tok-1",
		Email:       "taro@example.com",
	})
	sessions := &mockSessionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-1"}, nil
		},
	}
	c := newTestController(t, nil, creds, nil, sessions)

	state := c.StateBySession(context.Background(), "sess-1")
	if !state.IsAuthenticated || state.Email != "taro@example.com" {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestStateBySession_InvalidSession(t *testing.T) {
	c := newTestController(t, nil, nil, nil, nil)

	state := c.StateBySession(context.Background(), "unknown")
	if state.IsAuthenticated {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	c := newTestController(t, nil, nil, nil, nil)

	events, unsub := c.Subscribe()
	unsub()

	if _, ok := <-events; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestClose_StopsWatchAndClosesSubscribers(t *testing.T) {
	creds := credstore.NewMemoryStore()
	c := NewController(&mockProvider{}, creds, &mockMapper{}, &mockSessionRepo{}, time.Hour, testLogger())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	events, _ := c.Subscribe()

	c.Close()

	if _, ok := <-events; ok {
		t.Error("subscriber channel should be closed after Close")
	}
	// 二重Closeでpanicしない
	c.Close()
}
