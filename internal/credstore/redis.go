package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MxmIv/foodPlanner/internal/model"
)

const (
	credKeyPrefix  = "cred:"
	eventChannel   = "cred:events"
	defaultCredTTL = 24 * time.Hour
)

// RedisStore はRedisを使用した資格情報ストア。
// 資格情報はユーザーごとのハッシュに保存し、変更はpub/subで全インスタンスに
// ブロードキャストする。トークンの生存期間を上限としてTTLを設定する。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore はRedisStoreを生成する。
// redisURLをパースして接続し、疎通確認を行う。
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, ttl: defaultCredTTL}, nil
}

// Close はRedis接続を閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Save はユーザーの資格情報一式を保存し、変更を通知する。
// 3フィールドは単一ハッシュへの1コマンドで書き込む。
func (s *RedisStore) Save(ctx context.Context, userID string, cred *model.Credential) error {
	key := credKeyPrefix + userID

	fields := map[string]interface{}{
		"subject_id":   cred.SubjectID,
		"email":        cred.Email,
		"bearer_token": cred.BearerToken,
	}
	if !cred.Expiry.IsZero() {
		fields["expiry"] = cred.Expiry.Format(time.RFC3339)
	}

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	// TTL: トークン期限が既知ならそれに合わせ、未知ならデフォルト
	ttl := s.ttl
	if !cred.Expiry.IsZero() {
		if until := time.Until(cred.Expiry); until > 0 && until < ttl {
			ttl = until
		}
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		slog.Warn("failed to set credential TTL",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, ChangeEvent{UserID: userID, Kind: ChangeSaved})
	return nil
}

// Get はユーザーの資格情報を取得する。
// 未保存またはストレージ障害時はnilを返す（フェイルソフト）。
func (s *RedisStore) Get(ctx context.Context, userID string) *model.Credential {
	vals, err := s.client.HGetAll(ctx, credKeyPrefix+userID).Result()
	if err != nil {
		slog.Warn("credential store unavailable, treating as no credential",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(vals) == 0 {
		return nil
	}

	cred := &model.Credential{
		SubjectID:   vals["subject_id"],
		Email:       vals["email"],
		BearerToken: vals["bearer_token"],
	}
	if raw, ok := vals["expiry"]; ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cred.Expiry = t
		}
	}
	return cred
}

// Clear はユーザーの資格情報を削除し、変更を通知する。冪等。
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, credKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	s.publish(ctx, ChangeEvent{UserID: userID, Kind: ChangeCleared})
	return nil
}

// ClearToken はベアラートークンのみを破棄する。
// ChangeClearedではなくChangeTokenClearedを通知し、
// 購読側がログアウトとして扱わないようにする。
func (s *RedisStore) ClearToken(ctx context.Context, userID string) error {
	if err := s.client.HDel(ctx, credKeyPrefix+userID, "bearer_token").Err(); err != nil {
		return fmt.Errorf("failed to clear bearer token: %w", err)
	}
	s.publish(ctx, ChangeEvent{UserID: userID, Kind: ChangeTokenCleared})
	return nil
}

// Watch は変更通知チャネルを返す。Redisのpub/subを購読し、
// 自インスタンス・他インスタンスを問わず変更イベントを配信する。
func (s *RedisStore) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	sub := s.client.Subscribe(ctx, eventChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to credential events: %w", err)
	}

	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("malformed credential event",
						slog.String("payload", msg.Payload),
					)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// publish は変更イベントを配信する。配信失敗は通知の欠落に留まるため
// 警告ログのみとし、呼び出し元の操作は失敗させない。
func (s *RedisStore) publish(ctx context.Context, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, eventChannel, payload).Err(); err != nil {
		slog.Warn("failed to publish credential event",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
