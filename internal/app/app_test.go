package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"inventoryhub/dashboard/internal/auth"
	"inventoryhub/dashboard/internal/config"
	"inventoryhub/dashboard/internal/testbackend"
)

func testConfig(t *testing.T, apiURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTP: config.HTTPConfig{
			Addr:            "127.0.0.1:0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
		},
		API:          config.APIConfig{BaseURL: apiURL, CoalesceRefresh: true},
		TokenStore:   config.TokenStoreConfig{Backend: config.BackendFile, File: filepath.Join(dir, "session.json"), Namespace: "dashboard"},
		AuditLogFile: filepath.Join(dir, "audit.log"),
		Log:          config.LogConfig{Level: "error", Format: "json"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunRestoresSessionAndStops(t *testing.T) {
	backend := testbackend.New()
	defer backend.Close()
	backend.AddUser("alice", "alice@example.com", "alice123", auth.RoleStaff)
	cfg := testConfig(t, backend.URL())

	first, err := newApp(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	first.manager.Start(context.Background())
	if err := first.manager.Login(context.Background(), "alice", "alice123"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	// A second process over the same token file starts signed in.
	second, err := newApp(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- second.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for second.Session().Session().Loading {
		if time.Now().After(deadline) {
			t.Fatalf("session never left loading")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !second.Session().IsStaff() {
		t.Fatalf("expected restored staff session")
	}
	if backend.Calls("POST /auth/login") != 1 {
		t.Fatalf("restore must not log in again")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestNewRejectsUnreachableStores(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api")
	cfg.TokenStore.Backend = config.BackendRedis
	cfg.RedisURL = "not-a-url"
	if _, err := newApp(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected error for invalid redis url")
	}

	cfg.RoutesFile = filepath.Join(t.TempDir(), "missing.yaml")
	cfg.TokenStore.Backend = config.BackendMemory
	if _, err := newApp(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected error for missing route table")
	}
}
