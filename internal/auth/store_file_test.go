package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileKVPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV() error: %v", err)
	}
	store, _ := NewStore(kv)
	ctx := context.Background()

	u := User{ID: 1, Username: "admin", Role: RoleAdmin}
	if err := store.Save(ctx, Credentials{AccessToken: "a1", RefreshToken: "r1"}, u); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	kv2, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV() second error: %v", err)
	}
	store2, _ := NewStore(kv2)
	creds, got, err := store2.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Username != "admin" || creds.RefreshToken != "r1" {
		t.Fatalf("unexpected reloaded state: %+v %+v", creds, got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token store file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	if err := store2.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	kv3, _ := NewFileKV(path)
	if _, ok, _ := kv3.Get(ctx, KeyAccessToken); ok {
		t.Fatalf("expected access token gone after Clear")
	}
}

func TestFileKVCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	kv, err := NewFileKV(path)
	if err != nil {
		t.Fatalf("NewFileKV() error: %v", err)
	}
	store, _ := NewStore(kv)
	if _, _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected no credentials from a corrupt file")
	}
}

func TestFileKVRequiresPath(t *testing.T) {
	if _, err := NewFileKV("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
