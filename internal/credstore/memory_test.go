package credstore

import (
	"context"
	"testing"
	"time"

	"github.com/MxmIv/foodPlanner/internal/model"
)

func TestMemoryStore_ImplementsInterface(t *testing.T) {
	var _ Store = (*MemoryStore)(nil)
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cred := &model.Credential{
		SubjectID:   "google-sub-1",
		Email:       "user@example.com",
		BearerToken: "token-abc",
	}
	if err := s.Save(ctx, "user-1", cred); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got := s.Get(ctx, "user-1")
	if got == nil {
		t.Fatal("Get returned nil after Save")
	}
	if got.SubjectID != "google-sub-1" || got.Email != "user@example.com" || got.BearerToken != "token-abc" {
		t.Errorf("unexpected credential: %+v", got)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	if got := s.Get(context.Background(), "nobody"); got != nil {
		t.Errorf("Get for unknown user = %+v, want nil", got)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, "user-1", &model.Credential{BearerToken: "tok"})
	if err := s.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got := s.Get(ctx, "user-1"); got != nil {
		t.Errorf("Get after Clear = %+v, want nil", got)
	}

	// 冪等性: 存在しないユーザーのClearもエラーにならない
	if err := s.Clear(ctx, "user-1"); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestMemoryStore_ClearToken_KeepsIdentity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, "user-1", &model.Credential{
		SubjectID:   "sub-1",
		Email:       "user@example.com",
		BearerToken: "tok",
	})
	if err := s.ClearToken(ctx, "user-1"); err != nil {
		t.Fatalf("ClearToken failed: %v", err)
	}

	got := s.Get(ctx, "user-1")
	if got == nil {
		t.Fatal("Get returned nil, identity fields should survive ClearToken")
	}
	if got.BearerToken != "" {
		t.Errorf("BearerToken = %q, want empty", got.BearerToken)
	}
	if got.SubjectID != "sub-1" || got.Email != "user@example.com" {
		t.Errorf("identity fields changed: %+v", got)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Save(ctx, "user-1", &model.Credential{BearerToken: "tok"})

	first := s.Get(ctx, "user-1")
	first.BearerToken = "mutated"

	second := s.Get(ctx, "user-1")
	if second.BearerToken != "tok" {
		t.Error("Get should return a copy, not a shared reference")
	}
}

func TestMemoryStore_WatchReceivesEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	s.Save(ctx, "user-1", &model.Credential{BearerToken: "tok"})

	select {
	case ev := <-ch:
		if ev.UserID != "user-1" || ev.Kind != ChangeSaved {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for saved event")
	}

	s.Clear(ctx, "user-1")

	select {
	case ev := <-ch:
		if ev.UserID != "user-1" || ev.Kind != ChangeCleared {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cleared event")
	}
}

func TestMemoryStore_ClearToken_PublishesTokenClearedEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Save(ctx, "user-1", &model.Credential{BearerToken: "tok"})

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	s.ClearToken(ctx, "user-1")

	// トークンのみの破棄はChangeClearedと区別して通知される
	select {
	case ev := <-ch:
		if ev.UserID != "user-1" || ev.Kind != ChangeTokenCleared {
			t.Errorf("unexpected event: %+v, want kind %q", ev, ChangeTokenCleared)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for token cleared event")
	}
}

func TestMemoryStore_WatchClosesOnCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
