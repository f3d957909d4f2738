package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"inventoryhub/dashboard/internal/auth"
	"inventoryhub/dashboard/internal/migrations"
)

func openTestPostgres(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration tests")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := db.Ping(); err != nil {
		t.Fatalf("db.Ping() error: %v", err)
	}
	return db
}

func uniqueNamespace(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func exerciseStore(t *testing.T, kv auth.KV) {
	t.Helper()
	ctx := context.Background()
	store, err := auth.NewStore(kv)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	user := auth.User{ID: 42, Username: "itest", Email: "itest@example.com", Role: auth.RoleStaff}
	if err := store.Save(ctx, auth.Credentials{AccessToken: "a1", RefreshToken: "r1"}, user); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := store.SetAccessToken(ctx, "a2"); err != nil {
		t.Fatalf("SetAccessToken() error: %v", err)
	}
	creds, got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if creds.AccessToken != "a2" || creds.RefreshToken != "r1" || got.Username != "itest" || got.Role != auth.RoleStaff {
		t.Fatalf("unexpected loaded state: %+v %+v", creds, got)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	for _, k := range []string{auth.KeyAccessToken, auth.KeyRefreshToken, auth.KeyUser} {
		if _, ok, err := kv.Get(ctx, k); err != nil || ok {
			t.Fatalf("expected %s gone after Clear (ok=%v err=%v)", k, ok, err)
		}
	}
}

func TestPostgresTokenStoreRoundTrip(t *testing.T) {
	db := openTestPostgres(t)
	mig, err := migrations.NewService(context.Background(), db, nil, nil)
	if err != nil {
		t.Fatalf("migrations.NewService() error: %v", err)
	}
	if _, err := mig.Apply(context.Background()); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	ns := uniqueNamespace("itest")
	kv, err := auth.NewPostgresKV(db, ns)
	if err != nil {
		t.Fatalf("NewPostgresKV() error: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM dashboard_token_store WHERE namespace = $1`, ns)
	})
	exerciseStore(t, kv)
}

func TestRedisTokenStoreRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping Redis integration tests")
	}
	client, err := auth.OpenRedis(context.Background(), url)
	if err != nil {
		t.Fatalf("OpenRedis() error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	kv, err := auth.NewRedisKV(client, uniqueNamespace("itest"))
	if err != nil {
		t.Fatalf("NewRedisKV() error: %v", err)
	}
	exerciseStore(t, kv)
}
