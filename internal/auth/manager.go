package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Session is a snapshot of who is using the dashboard.
type Session struct {
	User    *User
	Loading bool
}

func (s Session) Status() Status {
	switch {
	case s.Loading:
		return StatusUnknown
	case s.User != nil:
		return StatusAuthenticated
	default:
		return StatusAnonymous
	}
}

func (s Session) Authenticated() bool { return s.Status() == StatusAuthenticated }

func (s Session) IsAdmin() bool {
	return s.User != nil && s.User.Role == RoleAdmin
}

func (s Session) IsStaff() bool {
	return s.User != nil && (s.User.Role == RoleAdmin || s.User.Role == RoleStaff)
}

func (s Session) clone() Session {
	if s.User == nil {
		return s
	}
	u := *s.User
	s.User = &u
	return s
}

// Backend is the subset of the inventory API the session needs.
type Backend interface {
	Login(ctx context.Context, username, password string) (LoginResult, error)
	Register(ctx context.Context, reg Registration) error
}

type AuditLogger interface {
	Record(actor, action, outcome, detail string) error
}

type ManagerConfig struct {
	Navigator Navigator
	Logger    *slog.Logger
	Audit     AuditLogger
}

type subscriber struct {
	id int
	fn func(Session)
}

type Manager struct {
	store   TokenStore
	backend Backend
	nav     Navigator
	log     *slog.Logger
	audit   AuditLogger

	mu      sync.RWMutex
	session Session
	started bool

	subMu  sync.Mutex
	subs   []subscriber
	nextID int
	closed bool
}

func NewManager(store TokenStore, backend Backend, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	nav := cfg.Navigator
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		backend: backend,
		nav:     nav,
		log:     logger,
		audit:   cfg.Audit,
		session: Session{Loading: true},
	}, nil
}

// Start rehydrates the session from the token store. Only the first call
// reads the store; later calls return the current snapshot.
func (m *Manager) Start(ctx context.Context) Session {
	m.mu.Lock()
	if m.started {
		s := m.session.clone()
		m.mu.Unlock()
		return s
	}
	m.started = true
	m.mu.Unlock()

	next := Session{}
	_, user, err := m.store.Load(ctx)
	switch {
	case err == nil:
		next.User = &user
		m.log.Info("session restored", "username", user.Username, "role", user.Role)
		m.auditSafe(user.Username, "session.restore", "success", "")
	case errors.Is(err, ErrNoCredentials):
		// Partial leftovers from an interrupted save are dropped.
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.log.Warn("clear partial session state", "error", clearErr)
		}
	default:
		m.log.Warn("token store unreadable, starting logged out", "error", err)
	}

	m.transition(next)
	return next.clone()
}

func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.clone()
}

func (m *Manager) IsAdmin() bool { return m.Session().IsAdmin() }

func (m *Manager) IsStaff() bool { return m.Session().IsStaff() }

func (m *Manager) Login(ctx context.Context, username, password string) error {
	m.log.Info("login attempt", "username", username)

	res, err := m.backend.Login(ctx, username, password)
	if err != nil {
		err = classify(err)
		m.log.Warn("login failed", "username", username, "error", err)
		m.auditSafe(username, "session.login", "failed", err.Error())
		return err
	}
	if !res.Credentials.complete() {
		err := &APIError{Kind: ErrUnknown, Message: "login response is missing tokens"}
		m.auditSafe(username, "session.login", "failed", err.Error())
		return err
	}
	if err := m.store.Save(ctx, res.Credentials, res.User); err != nil {
		m.log.Error("persist session", "username", username, "error", err)
		// A partial save may mix the new tokens with the previous session.
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.log.Warn("clear token store after failed save", "error", clearErr)
		}
		m.transition(Session{})
		m.auditSafe(username, "session.login", "failed", err.Error())
		return fmt.Errorf("persist session: %w", err)
	}

	user := res.User
	m.transition(Session{User: &user})
	m.log.Info("login succeeded", "username", user.Username, "role", user.Role)
	m.auditSafe(user.Username, "session.login", "success", "")
	m.nav.Navigate(LandingPath)
	return nil
}

// Register creates the account and then logs in with the same credentials.
func (m *Manager) Register(ctx context.Context, username, email, password string, role Role) error {
	if role == "" {
		role = RoleViewer
	}
	parsed, err := ParseRole(string(role))
	if err != nil {
		return &APIError{Kind: ErrValidation, Message: err.Error()}
	}
	m.log.Info("register attempt", "username", username, "role", parsed)

	err = m.backend.Register(ctx, Registration{
		Username: username,
		Email:    email,
		Password: password,
		Role:     parsed,
	})
	if err != nil {
		err = registerFailure(err)
		m.log.Warn("registration failed", "username", username, "error", err)
		m.auditSafe(username, "session.register", "failed", err.Error())
		return err
	}
	m.auditSafe(username, "session.register", "success", string(parsed))

	if err := m.Login(ctx, username, password); err != nil {
		return registerFailure(err)
	}
	return nil
}

// Logout never fails and makes no network call.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("clear token store on logout", "error", err)
	}
	prev := m.transition(Session{})
	if prev.User != nil {
		m.auditSafe(prev.User.Username, "session.logout", "success", "")
	}
	m.nav.Navigate(LoginPath)
}

// Expire ends the session after an unrecoverable token refresh failure.
func (m *Manager) Expire(ctx context.Context, cause error) {
	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("clear token store on expiry", "error", err)
	}
	prev := m.transition(Session{})
	actor := ""
	if prev.User != nil {
		actor = prev.User.Username
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	m.log.Warn("session expired", "username", actor, "cause", detail)
	m.auditSafe(actor, "session.expired", "success", detail)
	m.nav.Navigate(LoginPath)
}

// Subscribe registers fn to run synchronously after every state change.
func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed || fn == nil {
		return func() {}
	}
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Close detaches every subscriber. The manager keeps answering Session().
func (m *Manager) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.closed = true
	m.subs = nil
}

// transition installs next and notifies subscribers when the observable
// state changed. It returns the previous session.
func (m *Manager) transition(next Session) Session {
	m.mu.Lock()
	prev := m.session
	m.session = next.clone()
	m.mu.Unlock()

	if !changed(prev, next) {
		return prev
	}

	m.subMu.Lock()
	subs := append([]subscriber(nil), m.subs...)
	m.subMu.Unlock()
	for _, s := range subs {
		s.fn(next.clone())
	}
	return prev
}

func changed(a, b Session) bool {
	if a.Loading != b.Loading {
		return true
	}
	if (a.User == nil) != (b.User == nil) {
		return true
	}
	if a.User == nil {
		return false
	}
	return *a.User != *b.User
}

func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &APIError{Kind: ErrUnknown, Err: err}
}

// registerFailure keeps InvalidCredentials confined to login: a rejected
// auto-login after registration surfaces as an Unknown failure.
func registerFailure(err error) error {
	err = classify(err)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == ErrInvalidCredentials {
		return &APIError{Kind: ErrUnknown, Status: apiErr.Status, Message: apiErr.Error(), URL: apiErr.URL}
	}
	return err
}

func (m *Manager) auditSafe(actor, action, outcome, detail string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(actor, action, outcome, detail); err != nil {
		m.log.Warn("write audit event", "action", action, "error", err)
	}
}
