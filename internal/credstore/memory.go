package credstore

import (
	"context"
	"sync"

	"github.com/MxmIv/foodPlanner/internal/model"
)

// MemoryStore はインメモリの資格情報ストア。
// REDIS_URL未設定の開発環境とテストで使用する。変更通知の意味論は
// RedisStoreと同一だが、プロセス内に閉じる。
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]model.Credential

	subMu  sync.Mutex
	subs   map[int]chan ChangeEvent
	nextID int
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]model.Credential),
		subs:  make(map[int]chan ChangeEvent),
	}
}

// Save はユーザーの資格情報一式を保存し、変更を通知する。
func (s *MemoryStore) Save(ctx context.Context, userID string, cred *model.Credential) error {
	s.mu.Lock()
	s.creds[userID] = *cred
	s.mu.Unlock()

	s.broadcast(ChangeEvent{UserID: userID, Kind: ChangeSaved})
	return nil
}

// Get はユーザーの資格情報を取得する。未保存の場合はnilを返す。
func (s *MemoryStore) Get(ctx context.Context, userID string) *model.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[userID]
	if !ok {
		return nil
	}
	c := cred
	return &c
}

// Clear はユーザーの資格情報を削除し、変更を通知する。冪等。
func (s *MemoryStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.creds, userID)
	s.mu.Unlock()

	s.broadcast(ChangeEvent{UserID: userID, Kind: ChangeCleared})
	return nil
}

// ClearToken はベアラートークンのみを破棄する。
// ChangeClearedではなくChangeTokenClearedを通知し、
// 購読側がログアウトとして扱わないようにする。
func (s *MemoryStore) ClearToken(ctx context.Context, userID string) error {
	s.mu.Lock()
	if cred, ok := s.creds[userID]; ok {
		cred.BearerToken = ""
		s.creds[userID] = cred
	}
	s.mu.Unlock()

	s.broadcast(ChangeEvent{UserID: userID, Kind: ChangeTokenCleared})
	return nil
}

// Watch は変更通知チャネルを返す。
func (s *MemoryStore) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 16)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
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

// broadcast は全購読者にイベントを配信する。
// 購読者のバッファが満杯の場合は配送を諦める（通知は受動的で保証なし）。
func (s *MemoryStore) broadcast(ev ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
