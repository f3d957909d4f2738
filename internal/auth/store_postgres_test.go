package auth

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNewPostgresKV(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	if _, err := NewPostgresKV(db, "dashboard"); err != nil {
		t.Fatalf("NewPostgresKV() error: %v", err)
	}
	if _, err := NewPostgresKV(db, ""); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
	if _, err := NewPostgresKV(nil, "dashboard"); err == nil {
		t.Fatalf("expected error for nil database")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresKVStoreRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	kv, err := NewPostgresKV(db, "dashboard")
	if err != nil {
		t.Fatalf("NewPostgresKV() error: %v", err)
	}
	store, _ := NewStore(kv)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO dashboard_token_store").WithArgs("dashboard", KeyAccessToken, "a1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO dashboard_token_store").WithArgs("dashboard", KeyRefreshToken, "r1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO dashboard_token_store").WithArgs("dashboard", KeyUser, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Save(ctx, Credentials{AccessToken: "a1", RefreshToken: "r1"}, User{ID: 3, Username: "alice", Role: RoleStaff}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	mock.ExpectQuery("SELECT value FROM dashboard_token_store").WithArgs("dashboard", KeyAccessToken).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("a1"))
	mock.ExpectQuery("SELECT value FROM dashboard_token_store").WithArgs("dashboard", KeyRefreshToken).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("r1"))
	mock.ExpectQuery("SELECT value FROM dashboard_token_store").WithArgs("dashboard", KeyUser).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`{"id":3,"username":"alice","email":"","role":"staff","created_at":""}`))
	creds, user, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if creds.AccessToken != "a1" || user.Role != RoleStaff {
		t.Fatalf("unexpected loaded state: %+v %+v", creds, user)
	}

	mock.ExpectExec("DELETE FROM dashboard_token_store").WithArgs("dashboard", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 3))
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresKVMissingKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	kv, err := NewPostgresKV(db, "dashboard")
	if err != nil {
		t.Fatalf("NewPostgresKV() error: %v", err)
	}

	mock.ExpectQuery("SELECT value FROM dashboard_token_store").WithArgs("dashboard", KeyRefreshToken).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, ok, err := kv.Get(context.Background(), KeyRefreshToken)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
