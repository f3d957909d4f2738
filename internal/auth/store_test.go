package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newMemoryStore(t *testing.T) (*Store, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	s, err := NewStore(kv)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return s, kv
}

func TestStoreSaveLoadClear(t *testing.T) {
	s, kv := newMemoryStore(t)
	ctx := context.Background()
	user := User{ID: 7, Username: "alice", Email: "alice@example.com", Role: RoleStaff,
		CreatedAt: Timestamp{Time: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)}}

	if err := s.Save(ctx, Credentials{AccessToken: "a1", RefreshToken: "r1"}, user); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if kv.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", kv.Len())
	}

	creds, got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if creds.AccessToken != "a1" || creds.RefreshToken != "r1" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if got.ID != user.ID || got.Username != user.Username || got.Role != user.Role || !got.CreatedAt.Equal(user.CreatedAt.Time) {
		t.Fatalf("expected %+v, got %+v", user, got)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if kv.Len() != 0 {
		t.Fatalf("expected no entries after Clear, got %d", kv.Len())
	}
	if _, _, err := s.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestStoreLoadPartialStateIsAbsent(t *testing.T) {
	ctx := context.Background()
	cases := map[string]map[string]string{
		"no user":          {KeyAccessToken: "a", KeyRefreshToken: "r"},
		"no refresh token": {KeyAccessToken: "a", KeyUser: `{"id":1,"username":"alice","role":"viewer"}`},
		"no access token":  {KeyRefreshToken: "r", KeyUser: `{"id":1,"username":"alice","role":"viewer"}`},
		"malformed user":   {KeyAccessToken: "a", KeyRefreshToken: "r", KeyUser: `{"id":`},
		"user not object":  {KeyAccessToken: "a", KeyRefreshToken: "r", KeyUser: `"alice"`},
		"empty user":       {KeyAccessToken: "a", KeyRefreshToken: "r", KeyUser: `{}`},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			s, kv := newMemoryStore(t)
			for k, v := range entries {
				_ = kv.Set(ctx, k, v)
			}
			if _, _, err := s.Load(ctx); !errors.Is(err, ErrNoCredentials) {
				t.Fatalf("expected ErrNoCredentials, got %v", err)
			}
		})
	}
}

func TestStoreSetAccessTokenKeepsOthers(t *testing.T) {
	s, _ := newMemoryStore(t)
	ctx := context.Background()
	_ = s.Save(ctx, Credentials{AccessToken: "a1", RefreshToken: "r1"}, User{ID: 1, Username: "alice", Role: RoleViewer})

	if err := s.SetAccessToken(ctx, "a2"); err != nil {
		t.Fatalf("SetAccessToken() error: %v", err)
	}
	creds, user, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if creds.AccessToken != "a2" || creds.RefreshToken != "r1" || user.Username != "alice" {
		t.Fatalf("unexpected state after rotation: %+v %+v", creds, user)
	}
	if err := s.SetAccessToken(ctx, " "); err == nil {
		t.Fatalf("expected error for blank access token")
	}
}

func TestStoreSaveRequiresBothTokens(t *testing.T) {
	s, kv := newMemoryStore(t)
	err := s.Save(context.Background(), Credentials{AccessToken: "a1"}, User{Username: "alice"})
	if err == nil {
		t.Fatalf("expected error without refresh token")
	}
	if kv.Len() != 0 {
		t.Fatalf("expected nothing written, got %d entries", kv.Len())
	}
}
