package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeBackend struct {
	mu         sync.Mutex
	accounts   map[string]fakeAccount
	loginCalls int
	registerFn func(Registration) error
	loginErr   error
}

type fakeAccount struct {
	password string
	user     User
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{accounts: map[string]fakeAccount{}}
}

func (b *fakeBackend) add(username, password string, role Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[username] = fakeAccount{password: password, user: User{ID: int64(len(b.accounts) + 1), Username: username, Role: role}}
}

func (b *fakeBackend) Login(_ context.Context, username, password string) (LoginResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginCalls++
	if b.loginErr != nil {
		return LoginResult{}, b.loginErr
	}
	acc, ok := b.accounts[username]
	if !ok || acc.password != password {
		return LoginResult{}, &APIError{Kind: ErrInvalidCredentials, Status: 401}
	}
	return LoginResult{
		Credentials: Credentials{AccessToken: "access-" + username, RefreshToken: "refresh-" + username},
		User:        acc.user,
	}, nil
}

func (b *fakeBackend) Register(_ context.Context, reg Registration) error {
	if b.registerFn != nil {
		if err := b.registerFn(reg); err != nil {
			return err
		}
	}
	b.add(reg.Username, reg.Password, reg.Role)
	return nil
}

type auditEntry struct {
	actor, action, outcome string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *recordingAudit) Record(actor, action, outcome, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{actor, action, outcome})
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.action+":"+e.outcome)
	}
	return out
}

type managerFixture struct {
	m       *Manager
	store   *Store
	kv      *MemoryKV
	backend *fakeBackend
	loc     *Location
	audit   *recordingAudit
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	store, kv := newMemoryStore(t)
	backend := newFakeBackend()
	loc := NewLocation("/")
	audit := &recordingAudit{}
	m, err := NewManager(store, backend, ManagerConfig{Navigator: loc, Audit: audit})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return &managerFixture{m: m, store: store, kv: kv, backend: backend, loc: loc, audit: audit}
}

func TestManagerStartsLoading(t *testing.T) {
	f := newManagerFixture(t)
	s := f.m.Session()
	if !s.Loading || s.Status() != StatusUnknown {
		t.Fatalf("expected loading session before Start, got %+v", s)
	}
	if f.m.IsAdmin() || f.m.IsStaff() {
		t.Fatalf("expected no roles while loading")
	}
}

func TestManagerRehydratesFromStore(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	_ = f.store.Save(ctx, Credentials{AccessToken: "a", RefreshToken: "r"}, User{ID: 2, Username: "alice", Role: RoleStaff})

	s := f.m.Start(ctx)
	if s.Status() != StatusAuthenticated || s.User.Username != "alice" {
		t.Fatalf("expected alice restored, got %+v", s)
	}
	if !f.m.IsStaff() || f.m.IsAdmin() {
		t.Fatalf("expected staff but not admin")
	}
	if f.backend.loginCalls != 0 {
		t.Fatalf("expected no backend call during rehydration")
	}
}

func TestManagerDropsPartialState(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	_ = f.kv.Set(ctx, KeyAccessToken, "a")
	_ = f.kv.Set(ctx, KeyUser, `{"id":1,"username":"alice","role":"staff"}`)

	s := f.m.Start(ctx)
	if s.Status() != StatusAnonymous {
		t.Fatalf("expected anonymous, got %v", s.Status())
	}
	if f.kv.Len() != 0 {
		t.Fatalf("expected partial state cleared, %d entries left", f.kv.Len())
	}
}

func TestManagerLoginSuccess(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.m.Start(ctx)
	f.backend.add("admin", "admin123", RoleAdmin)

	if err := f.m.Login(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if !f.m.IsAdmin() || !f.m.IsStaff() {
		t.Fatalf("expected admin session")
	}
	if got := f.loc.Current(); got != LandingPath {
		t.Fatalf("expected navigation to %s, got %s", LandingPath, got)
	}
	creds, user, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if creds.AccessToken != "access-admin" || user.Username != "admin" {
		t.Fatalf("unexpected stored state: %+v %+v", creds, user)
	}
}

func TestManagerLoginInvalidCredentials(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.m.Start(ctx)
	f.backend.add("admin", "admin123", RoleAdmin)

	err := f.m.Login(ctx, "admin", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if f.m.Session().Status() != StatusAnonymous {
		t.Fatalf("expected state unchanged")
	}
	if f.kv.Len() != 0 {
		t.Fatalf("expected store untouched")
	}
	if f.loc.Visits() != 0 {
		t.Fatalf("expected no navigation on failure")
	}
}

func TestManagerLoginMissingTokens(t *testing.T) {
	store, _ := newMemoryStore(t)
	backend := backendFunc(func(context.Context, string, string) (LoginResult, error) {
		return LoginResult{Credentials: Credentials{AccessToken: "a"}, User: User{Username: "bob"}}, nil
	})
	m, _ := NewManager(store, backend, ManagerConfig{})
	m.Start(context.Background())

	if err := m.Login(context.Background(), "bob", "x"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
	if m.Session().Authenticated() {
		t.Fatalf("expected no session from an incomplete response")
	}
}

type backendFunc func(ctx context.Context, username, password string) (LoginResult, error)

func (f backendFunc) Login(ctx context.Context, username, password string) (LoginResult, error) {
	return f(ctx, username, password)
}

func (f backendFunc) Register(context.Context, Registration) error { return nil }

// failingKV rejects writes to one key.
type failingKV struct {
	*MemoryKV
	failKey string
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func TestManagerLoginFailedSaveLeavesNoMixedState(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: NewMemoryKV()}
	store, err := NewStore(kv)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	backend := newFakeBackend()
	backend.add("alice", "pw-a", RoleStaff)
	backend.add("bob", "pw-b", RoleViewer)
	audit := &recordingAudit{}
	m, err := NewManager(store, backend, ManagerConfig{Audit: audit})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	m.Start(ctx)
	if err := m.Login(ctx, "alice", "pw-a"); err != nil {
		t.Fatalf("Login(alice) error: %v", err)
	}

	kv.failKey = KeyUser
	if err := m.Login(ctx, "bob", "pw-b"); err == nil {
		t.Fatalf("expected error when the user record cannot be saved")
	}
	if kv.Len() != 0 {
		t.Fatalf("expected cleared store after failed save, %d entries left", kv.Len())
	}
	if _, _, err := store.Load(ctx); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if s := m.Session(); s.Status() != StatusAnonymous {
		t.Fatalf("expected anonymous session, got %+v", s)
	}
	acts := audit.actions()
	if got := acts[len(acts)-1]; got != "session.login:failed" {
		t.Fatalf("expected failed login audit, got %v", acts)
	}
}

func TestManagerRegisterLogsIn(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.m.Start(ctx)

	var got Registration
	f.backend.registerFn = func(r Registration) error {
		got = r
		return nil
	}
	if err := f.m.Register(ctx, "carol", "carol@example.com", "pw123456", ""); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if got.Role != RoleViewer {
		t.Fatalf("expected default role viewer, got %q", got.Role)
	}
	s := f.m.Session()
	if !s.Authenticated() || s.User.Username != "carol" {
		t.Fatalf("expected carol logged in, got %+v", s)
	}
	if f.m.IsStaff() {
		t.Fatalf("viewer must not be staff")
	}
	want := []string{"session.register:success", "session.login:success"}
	if acts := f.audit.actions(); len(acts) != 2 || acts[0] != want[0] || acts[1] != want[1] {
		t.Fatalf("unexpected audit trail: %v", acts)
	}
}

func TestManagerRegisterFailureSkipsLogin(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.m.Start(ctx)
	f.backend.registerFn = func(Registration) error {
		return &APIError{Kind: ErrValidation, Status: 400, Message: "Username already exists"}
	}

	err := f.m.Register(ctx, "admin", "a@example.com", "pw", RoleViewer)
	if !errors.Is(err, ErrValidation) || err.Error() != "Username already exists" {
		t.Fatalf("expected validation error with backend message, got %v", err)
	}
	if f.backend.loginCalls != 0 {
		t.Fatalf("expected no login after failed registration")
	}
}

func TestManagerRegisterRejectsUnknownRole(t *testing.T) {
	f := newManagerFixture(t)
	f.m.Start(context.Background())
	err := f.m.Register(context.Background(), "dave", "d@example.com", "pw", Role("owner"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestManagerRegisterAutoLoginRejectionIsNotInvalidCredentials(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.m.Start(ctx)
	f.backend.registerFn = func(Registration) error { return nil }
	f.backend.loginErr = &APIError{Kind: ErrInvalidCredentials, Status: 401}

	err := f.m.Register(ctx, "erin", "e@example.com", "pw", RoleStaff)
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("register must not report invalid credentials")
	}
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestManagerLogoutIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.m.Start(ctx)
	f.backend.add("alice", "pw", RoleStaff)
	_ = f.m.Login(ctx, "alice", "pw")

	var notified int
	unsubscribe := f.m.Subscribe(func(Session) { notified++ })
	defer unsubscribe()

	calls := f.backend.loginCalls
	f.m.Logout(ctx)
	f.m.Logout(ctx)

	if f.m.Session().Status() != StatusAnonymous {
		t.Fatalf("expected anonymous after logout")
	}
	if notified != 1 {
		t.Fatalf("expected one notification, got %d", notified)
	}
	if f.kv.Len() != 0 {
		t.Fatalf("expected store cleared")
	}
	if f.backend.loginCalls != calls {
		t.Fatalf("logout must not call the backend")
	}
	if f.loc.Current() != LoginPath {
		t.Fatalf("expected navigation to %s, got %s", LoginPath, f.loc.Current())
	}
}

func TestManagerExpire(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.m.Start(ctx)
	f.backend.add("alice", "pw", RoleStaff)
	_ = f.m.Login(ctx, "alice", "pw")

	var seen []Status
	f.m.Subscribe(func(s Session) { seen = append(seen, s.Status()) })
	f.m.Expire(ctx, errors.New("refresh rejected"))

	if len(seen) != 1 || seen[0] != StatusAnonymous {
		t.Fatalf("expected one anonymous notification, got %v", seen)
	}
	if f.loc.Current() != LoginPath {
		t.Fatalf("expected redirect to login")
	}
	acts := f.audit.actions()
	if acts[len(acts)-1] != "session.expired:success" {
		t.Fatalf("expected expiry audited, got %v", acts)
	}
}

func TestManagerUnsubscribeAndClose(t *testing.T) {
	f := newManagerFixture(t)
	var a, b int
	unsubA := f.m.Subscribe(func(Session) { a++ })
	f.m.Subscribe(func(Session) { b++ })

	f.m.Start(context.Background())
	unsubA()
	f.backend.add("alice", "pw", RoleStaff)
	_ = f.m.Login(context.Background(), "alice", "pw")
	f.m.Close()
	f.m.Logout(context.Background())

	if a != 1 {
		t.Fatalf("expected 1 notification before unsubscribe, got %d", a)
	}
	if b != 2 {
		t.Fatalf("expected 2 notifications before close, got %d", b)
	}
	if f.m.Session().Status() != StatusAnonymous {
		t.Fatalf("manager must keep tracking state after Close")
	}
}
